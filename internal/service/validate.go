package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/model"
)

// Validation constants.
const (
	MaxNameLength     = 50
	MinAge            = 18
	MaxAge            = 100
	MinPasswordLength = 8
	DefaultListLimit  = 20
	MaxListLimit      = 100
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	// Ten-digit national mobile number as accepted by the signup form.
	mobilePattern = regexp.MustCompile(`^[6-9]\d{9}$`)
)

// normalizeIdentifier trims the value, lower-cases emails, and checks the
// format for its kind.
func normalizeIdentifier(kind model.IdentifierKind, value string) (string, error) {
	return normalizeField("value", kind, value)
}

// normalizeField is normalizeIdentifier reporting errors against field.
func normalizeField(field string, kind model.IdentifierKind, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", apperror.ValidationFailed(field, field+" is required")
	}

	switch kind {
	case model.KindEmail:
		value = strings.ToLower(value)
		if !emailPattern.MatchString(value) {
			return "", apperror.ValidationFailed(field, "please enter a valid email address")
		}
	case model.KindMobile:
		if !mobilePattern.MatchString(value) {
			return "", apperror.ValidationFailed(field, "please enter a valid 10-digit mobile number")
		}
	default:
		return "", apperror.ValidationFailed("type", "type must be email or mobile")
	}
	return value, nil
}

// normalizeLoginIdentifier accepts either an email or a mobile number.
func normalizeLoginIdentifier(value string) string {
	value = strings.TrimSpace(value)
	if strings.Contains(value, "@") {
		return strings.ToLower(value)
	}
	return value
}

// RegisterInput is the profile submitted in the second registration phase.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Mobile    string
	Age       int    // 0 = not provided
	Password  string // optional; OTP-only accounts have none

	// Tokens returned by VerifyRegistrationOTP for Email and Mobile.
	EmailToken  string
	MobileToken string
}

func (in *RegisterInput) normalize() error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.EmailToken = strings.TrimSpace(in.EmailToken)
	in.MobileToken = strings.TrimSpace(in.MobileToken)
	in.LastName = strings.TrimSpace(in.LastName)

	if err := validateName("firstName", in.FirstName); err != nil {
		return err
	}
	if err := validateName("lastName", in.LastName); err != nil {
		return err
	}

	email, err := normalizeField("email", model.KindEmail, in.Email)
	if err != nil {
		return err
	}
	mobile, err := normalizeField("mobile", model.KindMobile, in.Mobile)
	if err != nil {
		return err
	}
	in.Email, in.Mobile = email, mobile

	if in.Age != 0 && (in.Age < MinAge || in.Age > MaxAge) {
		return apperror.ValidationFailed("age", fmt.Sprintf("age must be between %d and %d", MinAge, MaxAge))
	}

	if in.Password != "" {
		if utf8.RuneCountInString(in.Password) < MinPasswordLength {
			return apperror.ValidationFailed("password",
				fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
		}
		if len(in.Password) > auth.MaxPasswordBytes {
			return apperror.ValidationFailed("password",
				fmt.Sprintf("password must be at most %d bytes", auth.MaxPasswordBytes))
		}
	}
	return nil
}

func validateName(field, v string) error {
	if v == "" {
		return apperror.ValidationFailed(field, field+" is required")
	}
	if utf8.RuneCountInString(v) > MaxNameLength {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("%s must be %d characters or fewer", field, MaxNameLength))
	}
	return nil
}

// clampList applies the default and maximum page size.
func clampList(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
