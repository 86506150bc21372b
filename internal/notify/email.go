package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/sakif/accounts/internal/config"
)

// EmailSender sends codes over SMTP.
//
// gomail has no context support, so the send runs in its own goroutine and
// SendOTP returns as soon as ctx is done. The dial itself is bounded by the
// OS connect timeout; an abandoned send finishes (or fails) in the
// background.
type EmailSender struct {
	cfg         config.SMTPConfig
	dialAndSend func(m ...*gomail.Message) error
}

func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &EmailSender{cfg: cfg, dialAndSend: d.DialAndSend}
}

func (s *EmailSender) SendOTP(ctx context.Context, msg OTPMessage) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", subject(msg.Purpose))
	m.SetBody("text/plain", body(msg))

	done := make(chan error, 1)
	go func() {
		done <- s.dialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("notify/email: sending to %s: %w", Mask(msg.To), err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify/email: sending to %s: %w", Mask(msg.To), ctx.Err())
	}
}
