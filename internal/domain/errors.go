package domain

import (
	"errors"
	"fmt"
)

// ErrCodeNotFound is returned by code repositories when no record matches.
var ErrCodeNotFound = errors.New("authorization code not found")

// ClientErrorKind enumerates rejections caused by the calling client or user agent.
type ClientErrorKind int

const (
	InvalidClient ClientErrorKind = iota + 1
	InvalidRedirect
	InvalidClientSecret
	InvalidCredentials
	InvalidAuthorizationRequest
)

func (k ClientErrorKind) String() string {
	switch k {
	case InvalidClient:
		return "invalid_client"
	case InvalidRedirect:
		return "invalid_redirect_uri"
	case InvalidClientSecret:
		return "invalid_client_secret"
	case InvalidCredentials:
		return "invalid_credentials"
	case InvalidAuthorizationRequest:
		return "invalid_authorization_request"
	default:
		return "unknown_client_error"
	}
}

// ClientError is a terminal rejection of client identity, redirect, or credentials.
type ClientError struct {
	Kind     ClientErrorKind
	ClientID string
	Detail   string
}

func (e *ClientError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return e.Kind.String()
}

// CodeErrorKind enumerates authorization code redemption failures.
type CodeErrorKind int

const (
	InvalidOrExpiredCode CodeErrorKind = iota + 1
	ClientMismatch
)

func (k CodeErrorKind) String() string {
	switch k {
	case InvalidOrExpiredCode:
		return "invalid_or_expired_code"
	case ClientMismatch:
		return "client_mismatch"
	default:
		return "unknown_code_error"
	}
}

// CodeError reports a missing, expired, spent, or foreign authorization code.
type CodeError struct {
	Kind     CodeErrorKind
	ClientID string
	// Spent reports whether the code was consumed by the failing request.
	Spent bool
}

func (e *CodeError) Error() string {
	return e.Kind.String()
}

// TokenErrorKind enumerates token verification failures.
type TokenErrorKind int

const (
	TokenExpired TokenErrorKind = iota + 1
	TokenInvalidAudience
	TokenInvalidIssuer
	TokenInvalidSignatureOrFormat
)

func (k TokenErrorKind) String() string {
	switch k {
	case TokenExpired:
		return "token_expired"
	case TokenInvalidAudience:
		return "invalid_audience"
	case TokenInvalidIssuer:
		return "invalid_issuer"
	case TokenInvalidSignatureOrFormat:
		return "invalid_token"
	default:
		return "unknown_token_error"
	}
}

// TokenError is a verification failure. Err holds the underlying parser error, if any.
type TokenError struct {
	Kind TokenErrorKind
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *TokenError) Unwrap() error { return e.Err }

// InternalError wraps infrastructure failures. Its detail must never reach a response body.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// Internal wraps err as an InternalError for op.
func Internal(op string, err error) error {
	return &InternalError{Op: op, Err: err}
}
