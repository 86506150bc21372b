package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/accounts/internal/model"
)

// PurgeExpiredOTPs deletes unconsumed codes of both purposes that expired
// before now. Consumed codes stay: registration still needs them.
func (s *AuthService) PurgeExpiredOTPs(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64
	for _, p := range []model.OTPPurpose{model.PurposeLogin, model.PurposeRegistration} {
		n, err := s.otps.PurgeExpired(ctx, p, now)
		if err != nil {
			return total, fmt.Errorf("service/auth: purging %s codes: %w", p, err)
		}
		total += n
	}
	return total, nil
}

// RunOTPPurger calls PurgeExpiredOTPs every interval until ctx is done.
func (s *AuthService) RunOTPPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpiredOTPs(ctx)
			if err != nil {
				s.logger.Error("purging expired codes failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				s.logger.Debug("purged expired codes", slog.Int64("count", n))
			}
		}
	}
}
