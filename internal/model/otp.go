package model

import (
	"fmt"
	"time"
)

// IdentifierKind says which channel an OTP is delivered through.
type IdentifierKind string

const (
	KindEmail  IdentifierKind = "email"
	KindMobile IdentifierKind = "mobile"
)

// ParseIdentifierKind accepts the wire values "email" and "mobile".
func ParseIdentifierKind(s string) (IdentifierKind, error) {
	switch IdentifierKind(s) {
	case KindEmail, KindMobile:
		return IdentifierKind(s), nil
	}
	return "", fmt.Errorf("unknown identifier kind %q", s)
}

// OTPPurpose separates login codes from registration codes. The two live in
// separate tables and never satisfy each other.
type OTPPurpose string

const (
	PurposeLogin        OTPPurpose = "login"
	PurposeRegistration OTPPurpose = "registration"
)

// OTP is a single issued one-time code.
//
// LIFECYCLE:
//
//	issued (Consumed=false) ──verify──▶ consumed (VerifiedAt set)
//	       └──────── ExpiresAt passes ──▶ dead, ignored by lookups
//
// Consumed codes are kept so registration can later ask "was this
// identifier verified recently?".
type OTP struct {
	ID         string
	Purpose    OTPPurpose
	Kind       IdentifierKind
	Identifier string
	Code       string
	ExpiresAt  time.Time
	Consumed   bool
	VerifiedAt *time.Time
	CreatedAt  time.Time
}

// Expired reports whether the code is no longer usable at now.
func (o *OTP) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}
