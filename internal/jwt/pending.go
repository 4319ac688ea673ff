package jwt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/saadaziz/identity-backend/internal/domain"
)

const (
	requestType     = "authz-request+jwt"
	requestAudience = "login"
	requestPurpose  = "pending-authorization"
)

// ErrInvalidRequestToken covers every reason a sealed request cannot be opened.
var ErrInvalidRequestToken = errors.New("invalid authorization request token")

// RequestSealer carries a PendingAuthorization between the authorize and login steps as a
// short-lived signed token. The only server state is the set of claimed jtis, held until
// each token would have expired anyway.
type RequestSealer struct {
	key    SigningKey
	issuer string
	ttl    time.Duration

	mu      sync.Mutex
	claimed map[string]time.Time
}

// NewRequestSealer derives a dedicated key from parent.
func NewRequestSealer(parent SigningKey, issuer string, ttl time.Duration) (*RequestSealer, error) {
	key, err := parent.Sub(requestPurpose)
	if err != nil {
		return nil, err
	}
	return &RequestSealer{key: key, issuer: issuer, ttl: ttl, claimed: make(map[string]time.Time)}, nil
}

// TTL reports how long a sealed request stays valid.
func (s *RequestSealer) TTL() time.Duration { return s.ttl }

// Seal signs p with a fresh jti.
func (s *RequestSealer) Seal(p domain.PendingAuthorization, now time.Time) (string, error) {
	signer, err := s.key.signer(requestType)
	if err != nil {
		return "", err
	}
	now = now.UTC().Truncate(time.Second)
	std := gojwt.Claims{
		ID:       uuid.NewString(),
		Issuer:   s.issuer,
		Audience: gojwt.Audience{requestAudience},
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(s.ttl)),
	}
	token, err := gojwt.Signed(signer).Claims(std).Claims(p).Serialize()
	if err != nil {
		return "", fmt.Errorf("seal request: %w", err)
	}
	return token, nil
}

// Open verifies token and returns the pending authorization it carries. It does not
// consume the token.
func (s *RequestSealer) Open(token string, now time.Time) (domain.PendingAuthorization, error) {
	p, _, err := s.open(token, now)
	return p, err
}

// Claim opens token and marks it used. A token can be claimed once; later calls fail
// until Release is called with the returned id.
func (s *RequestSealer) Claim(token string, now time.Time) (domain.PendingAuthorization, string, error) {
	p, std, err := s.open(token, now)
	if err != nil {
		return domain.PendingAuthorization{}, "", err
	}
	if std.ID == "" {
		return domain.PendingAuthorization{}, "", fmt.Errorf("%w: missing jti", ErrInvalidRequestToken)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, exp := range s.claimed {
		if !now.Before(exp) {
			delete(s.claimed, id)
		}
	}
	if _, used := s.claimed[std.ID]; used {
		return domain.PendingAuthorization{}, "", fmt.Errorf("%w: already used", ErrInvalidRequestToken)
	}
	s.claimed[std.ID] = std.Expiry.Time()
	return p, std.ID, nil
}

// Release makes a claimed token usable again, for when the step it guarded failed.
func (s *RequestSealer) Release(id string) {
	s.mu.Lock()
	delete(s.claimed, id)
	s.mu.Unlock()
}

func (s *RequestSealer) open(token string, now time.Time) (domain.PendingAuthorization, gojwt.Claims, error) {
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{Algorithm})
	if err != nil {
		return domain.PendingAuthorization{}, gojwt.Claims{}, fmt.Errorf("%w: %v", ErrInvalidRequestToken, err)
	}
	if len(parsed.Headers) != 1 || parsed.Headers[0].ExtraHeaders[gojose.HeaderType] != requestType {
		return domain.PendingAuthorization{}, gojwt.Claims{}, fmt.Errorf("%w: unexpected typ", ErrInvalidRequestToken)
	}

	var std gojwt.Claims
	var p domain.PendingAuthorization
	if err := parsed.Claims(s.key.Secret, &std, &p); err != nil {
		return domain.PendingAuthorization{}, gojwt.Claims{}, fmt.Errorf("%w: %v", ErrInvalidRequestToken, err)
	}
	if std.Expiry == nil || !now.Before(std.Expiry.Time()) {
		return domain.PendingAuthorization{}, gojwt.Claims{}, fmt.Errorf("%w: expired", ErrInvalidRequestToken)
	}
	if std.Issuer != s.issuer || !std.Audience.Contains(requestAudience) {
		return domain.PendingAuthorization{}, gojwt.Claims{}, fmt.Errorf("%w: wrong issuer or audience", ErrInvalidRequestToken)
	}
	if p.ClientID == "" || p.RedirectURI == "" {
		return domain.PendingAuthorization{}, gojwt.Claims{}, fmt.Errorf("%w: incomplete", ErrInvalidRequestToken)
	}
	return p, std, nil
}
