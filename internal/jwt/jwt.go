package jwt

import (
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/saadaziz/identity-backend/internal/domain"
)

const tokenType = "JWT"

// accessClaims carries the claims go-jose does not model.
type accessClaims struct {
	Scope string `json:"scope"`
}

// Issuer mints signed bearer tokens.
type Issuer struct {
	key    SigningKey
	issuer string
	ttl    time.Duration
}

// NewIssuer constructs an Issuer for the given issuer string and token lifetime.
func NewIssuer(key SigningKey, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{key: key, issuer: issuer, ttl: ttl}
}

// WithTTL returns a copy of the issuer that mints tokens with a different lifetime.
func (i *Issuer) WithTTL(ttl time.Duration) *Issuer {
	clone := *i
	clone.ttl = ttl
	return &clone
}

// TTL reports the lifetime of minted tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Name is the configured iss value.
func (i *Issuer) Name() string { return i.issuer }

// Mint signs {iss, sub, aud, iat, exp, scope}. now is truncated to whole seconds so the
// returned claims equal what a verifier decodes.
func (i *Issuer) Mint(subject, audience, scope string, now time.Time) (string, domain.TokenClaims, error) {
	now = now.UTC().Truncate(time.Second)
	claims := domain.TokenClaims{
		Issuer:    i.issuer,
		Subject:   subject,
		Audience:  audience,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
		Scope:     scope,
	}

	signer, err := i.key.signer(tokenType)
	if err != nil {
		return "", domain.TokenClaims{}, err
	}

	std := gojwt.Claims{
		Issuer:   claims.Issuer,
		Subject:  claims.Subject,
		Audience: gojwt.Audience{claims.Audience},
		IssuedAt: gojwt.NewNumericDate(claims.IssuedAt),
		Expiry:   gojwt.NewNumericDate(claims.ExpiresAt),
	}

	token, err := gojwt.Signed(signer).Claims(std).Claims(accessClaims{Scope: scope}).Serialize()
	if err != nil {
		return "", domain.TokenClaims{}, fmt.Errorf("serialize jwt: %w", err)
	}
	return token, claims, nil
}

// Verifier checks tokens minted by an Issuer sharing the same key and issuer string.
type Verifier struct {
	key    SigningKey
	issuer string
}

// NewVerifier constructs a Verifier.
func NewVerifier(key SigningKey, issuer string) *Verifier {
	return &Verifier{key: key, issuer: issuer}
}

// Verify checks token against the current time. See VerifyAt.
func (v *Verifier) Verify(token, audience string) (domain.TokenClaims, error) {
	return v.VerifyAt(token, audience, time.Now())
}

// VerifyAt validates the signature first, then expiry, issuer, and audience. The
// audience is only checked when one is supplied. There is no leeway: a token is expired
// from the instant now reaches exp.
func (v *Verifier) VerifyAt(token, audience string, now time.Time) (domain.TokenClaims, error) {
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{Algorithm})
	if err != nil {
		return domain.TokenClaims{}, &domain.TokenError{Kind: domain.TokenInvalidSignatureOrFormat, Err: err}
	}

	var std gojwt.Claims
	var custom accessClaims
	if err := parsed.Claims(v.key.Secret, &std, &custom); err != nil {
		return domain.TokenClaims{}, &domain.TokenError{Kind: domain.TokenInvalidSignatureOrFormat, Err: err}
	}
	if std.Expiry == nil || std.IssuedAt == nil {
		return domain.TokenClaims{}, &domain.TokenError{Kind: domain.TokenInvalidSignatureOrFormat, Err: errors.New("missing exp or iat")}
	}

	if !now.Before(std.Expiry.Time()) {
		return domain.TokenClaims{}, &domain.TokenError{Kind: domain.TokenExpired}
	}
	if std.Issuer != v.issuer {
		return domain.TokenClaims{}, &domain.TokenError{Kind: domain.TokenInvalidIssuer}
	}
	if audience != "" && !std.Audience.Contains(audience) {
		return domain.TokenClaims{}, &domain.TokenError{Kind: domain.TokenInvalidAudience}
	}

	claims := domain.TokenClaims{
		Issuer:    std.Issuer,
		Subject:   std.Subject,
		IssuedAt:  std.IssuedAt.Time().UTC(),
		ExpiresAt: std.Expiry.Time().UTC(),
		Scope:     custom.Scope,
	}
	if len(std.Audience) > 0 {
		claims.Audience = std.Audience[0]
	}
	return claims, nil
}
