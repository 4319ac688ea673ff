package service

import "github.com/saadaziz/identity-backend/internal/domain"

// TokenResponse is the body returned by the token endpoint. id_token carries the same
// value as access_token for clients that read either field.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`

	Claims domain.TokenClaims `json:"-"`
}

// AuthorizationRequest is the outcome of BeginAuthorization. Token must be presented back
// at the credential step.
type AuthorizationRequest struct {
	Pending   domain.PendingAuthorization
	Token     string
	ExpiresIn int64
}

// AuthorizationGrant carries what the caller needs to redirect back to the client.
type AuthorizationGrant struct {
	Code        string
	RedirectURI string
	State       string
}
