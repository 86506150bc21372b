// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents an account.
//
// IDENTIFIERS:
// An account is reachable through up to three identifiers: Email, Mobile and
// GoogleID. Each one is optional on its own but unique when present, and at
// least one of Email or Mobile is always set. Empty string means "absent";
// the repositories store absent identifiers as NULL so the UNIQUE
// constraints don't collide on "".
//
// PasswordHash is empty for accounts created through OTP registration
// without a password or through Google sign-in. Such accounts can never
// pass password login.
type User struct {
	ID               string     `json:"id"`
	FirstName        string     `json:"firstName"`
	LastName         string     `json:"lastName"`
	Email            string     `json:"email,omitempty"`
	Mobile           string     `json:"mobile,omitempty"`
	PasswordHash     string     `json:"-"`
	GoogleID         string     `json:"-"`
	Age              int        `json:"age,omitempty"` // 0 = not provided
	IsEmailVerified  bool       `json:"isEmailVerified"`
	IsMobileVerified bool       `json:"isMobileVerified"`
	IsGoogleAuth     bool       `json:"isGoogleAuth"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	LastLogin        *time.Time `json:"lastLogin,omitempty"`
}

// HasPassword reports whether password login is possible for this account.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// IsVerified reports the verification flag for kind.
func (u *User) IsVerified(kind IdentifierKind) bool {
	switch kind {
	case KindEmail:
		return u.IsEmailVerified
	case KindMobile:
		return u.IsMobileVerified
	}
	return false
}

// SetVerified sets the verification flag for kind.
func (u *User) SetVerified(kind IdentifierKind) {
	switch kind {
	case KindEmail:
		u.IsEmailVerified = true
	case KindMobile:
		u.IsMobileVerified = true
	}
}

// PublicUser is the non-secret projection of a User returned by the API.
type PublicUser struct {
	ID               string     `json:"id"`
	FirstName        string     `json:"firstName"`
	LastName         string     `json:"lastName"`
	Email            string     `json:"email,omitempty"`
	Mobile           string     `json:"mobile,omitempty"`
	Age              int        `json:"age,omitempty"`
	IsEmailVerified  bool       `json:"isEmailVerified"`
	IsMobileVerified bool       `json:"isMobileVerified"`
	IsGoogleAuth     bool       `json:"isGoogleAuth"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastLogin        *time.Time `json:"lastLogin,omitempty"`
}

// Public strips the password hash and provider subject.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:               u.ID,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Email:            u.Email,
		Mobile:           u.Mobile,
		Age:              u.Age,
		IsEmailVerified:  u.IsEmailVerified,
		IsMobileVerified: u.IsMobileVerified,
		IsGoogleAuth:     u.IsGoogleAuth,
		CreatedAt:        u.CreatedAt,
		LastLogin:        u.LastLogin,
	}
}

// PublicUsers maps Public over a slice.
func PublicUsers(users []User) []PublicUser {
	out := make([]PublicUser, 0, len(users))
	for i := range users {
		out = append(out, users[i].Public())
	}
	return out
}
