package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
)

// ErrInvalidIDToken means Google returned an ID token we refuse to trust:
// missing, badly signed, wrong audience, or without a usable email.
var ErrInvalidIDToken = errors.New("auth: invalid Google ID token")

// GoogleIdentity is the verified subset of the Google ID token claims.
type GoogleIdentity struct {
	Subject    string // stable Google account id ("sub")
	Email      string
	GivenName  string
	FamilyName string
}

// IDTokenValidator checks an ID token's signature, expiry and audience.
// idtoken.Validate is the production implementation.
type IDTokenValidator func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

// GoogleProvider wraps golang.org/x/oauth2 for the Google Authorization
// Code flow.
//
// FLOW:
//  1. AuthURL(state) → browser goes to Google's consent screen
//  2. Google redirects to the callback with ?code=...&state=...
//  3. Exchange(code) trades the code for tokens server-to-server
//  4. The "id_token" in the token response is validated against our
//     client id and its claims become a GoogleIdentity
//
// Unlike a userinfo API call, the ID token is signed by Google, so no
// second network round trip is needed to learn who the user is.
type GoogleProvider struct {
	config   *oauth2.Config
	validate IDTokenValidator
	timeout  time.Duration
}

// NewGoogleProvider creates a GoogleProvider. timeout bounds each
// Exchange call; zero means 10 seconds.
func NewGoogleProvider(clientID, clientSecret, callbackURL string, timeout time.Duration) *GoogleProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		validate: idtoken.Validate,
		timeout:  timeout,
	}
}

// AuthURL returns the consent-screen URL carrying the CSRF state.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange completes the flow for an authorization code.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*GoogleIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging Google code: %w", err)
	}

	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return nil, fmt.Errorf("%w: token response has no id_token", ErrInvalidIDToken)
	}

	payload, err := p.validate(ctx, raw, p.config.ClientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIDToken, err)
	}

	return identityFromPayload(payload)
}

func identityFromPayload(payload *idtoken.Payload) (*GoogleIdentity, error) {
	if payload == nil || payload.Subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidIDToken)
	}

	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return nil, fmt.Errorf("%w: no email claim", ErrInvalidIDToken)
	}
	// Accounts are linked by address, so the claim must be present and true.
	if verified, ok := payload.Claims["email_verified"].(bool); !ok || !verified {
		return nil, fmt.Errorf("%w: email not verified by Google", ErrInvalidIDToken)
	}

	id := &GoogleIdentity{Subject: payload.Subject, Email: email}
	id.GivenName, _ = payload.Claims["given_name"].(string)
	id.FamilyName, _ = payload.Claims["family_name"].(string)
	return id, nil
}
