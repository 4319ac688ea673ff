package domain

import "time"

// AuthorizationCode models a single-use authorization code. Consuming a code deletes it,
// so a missing record means the code was already used, expired, or never issued.
type AuthorizationCode struct {
	Code     string
	Subject  string
	ClientID string
	Scope    string
	IssuedAt time.Time
}

// TokenClaims is the claim set embedded in every bearer token.
type TokenClaims struct {
	Issuer    string
	Subject   string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Scope     string
}

// Map renders the claims the way they appear inside the token payload.
func (c TokenClaims) Map() map[string]any {
	return map[string]any{
		"iss":   c.Issuer,
		"sub":   c.Subject,
		"aud":   c.Audience,
		"iat":   c.IssuedAt.Unix(),
		"exp":   c.ExpiresAt.Unix(),
		"scope": c.Scope,
	}
}
