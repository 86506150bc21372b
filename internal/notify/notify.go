// Package notify delivers one-time codes to users.
//
// CHANNELS:
//
//	email  → EmailSender (SMTP through gomail)
//	mobile → SMSSender   (AWS SNS)
//
// A channel without a configured provider is an Unconfigured sender: every
// send fails with ErrNotConfigured, which the API reports as an upstream
// failure. For local development only, OTP_DEV_LOG swaps in LogSender, which
// writes the code to the log instead. The Dispatcher picks the channel from
// the identifier kind.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/accounts/internal/model"
)

// OTPMessage is everything a channel needs to render a code notification.
type OTPMessage struct {
	Purpose   model.OTPPurpose
	Kind      model.IdentifierKind
	To        string
	Code      string
	ExpiresIn time.Duration
}

// Sender delivers a message over a single channel. Implementations must
// return when ctx is done.
type Sender interface {
	SendOTP(ctx context.Context, msg OTPMessage) error
}

// Dispatcher routes messages to the sender registered for their kind.
type Dispatcher struct {
	email  Sender
	mobile Sender
}

func NewDispatcher(email, mobile Sender) *Dispatcher {
	return &Dispatcher{email: email, mobile: mobile}
}

func (d *Dispatcher) SendOTP(ctx context.Context, msg OTPMessage) error {
	var s Sender
	switch msg.Kind {
	case model.KindEmail:
		s = d.email
	case model.KindMobile:
		s = d.mobile
	}
	if s == nil {
		return fmt.Errorf("notify: no sender for %q", msg.Kind)
	}
	return s.SendOTP(ctx, msg)
}

// ErrNotConfigured is returned by Unconfigured senders.
var ErrNotConfigured = errors.New("notify: channel not configured")

// Unconfigured stands in for a channel whose provider has no credentials.
type Unconfigured struct {
	channel string
}

func NewUnconfigured(channel string) Unconfigured {
	return Unconfigured{channel: channel}
}

func (u Unconfigured) SendOTP(context.Context, OTPMessage) error {
	return fmt.Errorf("%w: %s", ErrNotConfigured, u.channel)
}

// LogSender writes the code to the log instead of contacting a provider.
// Development only: config refuses it next to a postgres database.
type LogSender struct {
	logger  *slog.Logger
	channel string
}

func NewLogSender(logger *slog.Logger, channel string) *LogSender {
	return &LogSender{logger: logger, channel: channel}
}

func (s *LogSender) SendOTP(ctx context.Context, msg OTPMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Warn("OTP_DEV_LOG: code not delivered, logged instead",
		slog.String("channel", s.channel),
		slog.String("purpose", string(msg.Purpose)),
		slog.String("to", Mask(msg.To)),
		slog.String("code", msg.Code),
	)
	return nil
}

// Mask hides most of an address for logs: "jane@example.com" becomes
// "j***@example.com", "9876543210" becomes "******3210".
func Mask(to string) string {
	if local, domain, ok := strings.Cut(to, "@"); ok {
		if local == "" {
			return "***@" + domain
		}
		return local[:1] + "***@" + domain
	}
	if len(to) <= 4 {
		return strings.Repeat("*", len(to))
	}
	return strings.Repeat("*", len(to)-4) + to[len(to)-4:]
}

// subject and body are shared by the channels so the wording stays aligned.
func subject(p model.OTPPurpose) string {
	if p == model.PurposeRegistration {
		return "Verify your account"
	}
	return "Your login code"
}

func body(msg OTPMessage) string {
	minutes := int(msg.ExpiresIn.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	action := "log in"
	if msg.Purpose == model.PurposeRegistration {
		action = "verify your account"
	}
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("Your code to %s is %s. It expires in %d %s. Do not share it with anyone.",
		action, msg.Code, minutes, unit)
}
