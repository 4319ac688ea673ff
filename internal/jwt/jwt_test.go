package jwt_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saadaziz/identity-backend/internal/domain"
	customjwt "github.com/saadaziz/identity-backend/internal/jwt"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testIssuer = "https://id.example"
)

func newPair(t *testing.T, secret string, ttl time.Duration) (*customjwt.Issuer, *customjwt.Verifier) {
	t.Helper()
	key, err := customjwt.NewSigningKey([]byte(secret))
	require.NoError(t, err)
	return customjwt.NewIssuer(key, testIssuer, ttl), customjwt.NewVerifier(key, testIssuer)
}

func requireTokenError(t *testing.T, err error, kind domain.TokenErrorKind) {
	t.Helper()
	var tokenErr *domain.TokenError
	require.True(t, errors.As(err, &tokenErr), "expected TokenError, got %v", err)
	require.Equal(t, kind, tokenErr.Kind)
}

func TestNewSigningKeyRejectsShortSecret(t *testing.T) {
	_, err := customjwt.NewSigningKey([]byte("short"))
	require.ErrorIs(t, err, customjwt.ErrKeyTooShort)
}

func TestSigningKeyIDIsStable(t *testing.T) {
	a, err := customjwt.NewSigningKey([]byte(testSecret))
	require.NoError(t, err)
	b, err := customjwt.NewSigningKey([]byte(testSecret))
	require.NoError(t, err)
	require.Equal(t, a.KID, b.KID)
	require.NotContains(t, a.KID, testSecret[:8])
}

func TestMintVerifyRoundTrip(t *testing.T) {
	issuer, verifier := newPair(t, testSecret, 15*time.Minute)
	now := time.Date(2025, 3, 1, 12, 0, 0, 750_000_000, time.UTC)

	token, minted, err := issuer.Mint("alice", "acme", "openid", now)
	require.NoError(t, err)
	require.Equal(t, now.Truncate(time.Second), minted.IssuedAt)
	require.Equal(t, minted.IssuedAt.Add(15*time.Minute), minted.ExpiresAt)

	got, err := verifier.VerifyAt(token, "acme", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, minted, got)

	got, err = verifier.VerifyAt(token, "", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, minted, got)
}

func TestVerifyExpired(t *testing.T) {
	issuer, verifier := newPair(t, testSecret, time.Minute)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	token, claims, err := issuer.Mint("alice", "acme", "", now)
	require.NoError(t, err)

	_, err = verifier.VerifyAt(token, "acme", claims.ExpiresAt)
	requireTokenError(t, err, domain.TokenExpired)

	_, err = verifier.VerifyAt(token, "acme", claims.ExpiresAt.Add(-time.Second))
	require.NoError(t, err)
}

func TestVerifyExpiredWinsOverAudience(t *testing.T) {
	issuer, verifier := newPair(t, testSecret, time.Minute)
	now := time.Now()

	token, _, err := issuer.Mint("alice", "acme", "", now)
	require.NoError(t, err)

	_, err = verifier.VerifyAt(token, "someone-else", now.Add(time.Hour))
	requireTokenError(t, err, domain.TokenExpired)
}

func TestVerifyTamperedSignature(t *testing.T) {
	issuer, verifier := newPair(t, testSecret, time.Minute)
	token, _, err := issuer.Mint("alice", "acme", "", time.Now())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	parts[2] = string(sig)
	tampered := strings.Join(parts, ".")

	claims, err := verifier.Verify(tampered, "acme")
	requireTokenError(t, err, domain.TokenInvalidSignatureOrFormat)
	require.Empty(t, claims.Subject)
}

func TestVerifyTamperedSignatureAfterExpiry(t *testing.T) {
	issuer, verifier := newPair(t, testSecret, time.Minute)
	now := time.Now()
	token, _, err := issuer.Mint("alice", "acme", "", now)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[2] = strings.Repeat("A", len(parts[2]))

	_, err = verifier.VerifyAt(strings.Join(parts, "."), "acme", now.Add(time.Hour))
	requireTokenError(t, err, domain.TokenInvalidSignatureOrFormat)
}

func TestVerifyGarbage(t *testing.T) {
	_, verifier := newPair(t, testSecret, time.Minute)
	_, err := verifier.Verify("not-a-token", "")
	requireTokenError(t, err, domain.TokenInvalidSignatureOrFormat)
}

func TestVerifyWrongKey(t *testing.T) {
	issuer, _ := newPair(t, testSecret, time.Minute)
	_, verifier := newPair(t, strings.Repeat("z", 32), time.Minute)

	token, _, err := issuer.Mint("alice", "acme", "", time.Now())
	require.NoError(t, err)

	_, err = verifier.Verify(token, "acme")
	requireTokenError(t, err, domain.TokenInvalidSignatureOrFormat)
}

func TestVerifyInvalidAudience(t *testing.T) {
	issuer, verifier := newPair(t, testSecret, time.Minute)
	token, _, err := issuer.Mint("alice", "acme", "", time.Now())
	require.NoError(t, err)

	_, err = verifier.Verify(token, "globex")
	requireTokenError(t, err, domain.TokenInvalidAudience)
}

func TestVerifyInvalidIssuer(t *testing.T) {
	key, err := customjwt.NewSigningKey([]byte(testSecret))
	require.NoError(t, err)
	issuer := customjwt.NewIssuer(key, "https://other.example", time.Minute)
	verifier := customjwt.NewVerifier(key, testIssuer)

	token, _, err := issuer.Mint("alice", "acme", "", time.Now())
	require.NoError(t, err)

	_, err = verifier.Verify(token, "acme")
	requireTokenError(t, err, domain.TokenInvalidIssuer)
}

func TestWithTTL(t *testing.T) {
	issuer, _ := newPair(t, testSecret, 15*time.Minute)
	short := issuer.WithTTL(5 * time.Minute)

	require.Equal(t, 15*time.Minute, issuer.TTL())
	require.Equal(t, 5*time.Minute, short.TTL())
	require.Equal(t, issuer.Name(), short.Name())
}
