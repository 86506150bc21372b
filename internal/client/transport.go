package client

import "net/http"

// AuthTransport adds "Authorization: Bearer <Token>" to every request.
type AuthTransport struct {
	Base  http.RoundTripper
	Token string
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Token != "" {
		// RoundTrippers must not modify the caller's request.
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewAuthTransport wraps base, or http.DefaultTransport when base is nil.
func NewAuthTransport(base http.RoundTripper, token string) *AuthTransport {
	return &AuthTransport{Base: base, Token: token}
}
