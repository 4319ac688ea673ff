package jwt

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	gojose "github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/hkdf"
)

// Algorithm is the only signature algorithm issued or accepted.
const Algorithm = gojose.HS256

// ErrKeyTooShort is returned when the HMAC secret is shorter than the HS256 output size.
var ErrKeyTooShort = errors.New("signing key must be at least 32 bytes")

// SigningKey is the static symmetric key shared by the issuer and verifier.
type SigningKey struct {
	KID    string
	Secret []byte
}

// NewSigningKey wraps secret and derives a stable key id from it. The id never exposes
// the secret itself.
func NewSigningKey(secret []byte) (SigningKey, error) {
	if len(secret) < 32 {
		return SigningKey{}, ErrKeyTooShort
	}
	id, err := Derive(secret, "key-id", 9)
	if err != nil {
		return SigningKey{}, err
	}
	return SigningKey{KID: base64.RawURLEncoding.EncodeToString(id), Secret: secret}, nil
}

// Derive expands secret into a purpose-bound subkey with HKDF-SHA256.
func Derive(secret []byte, info string, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return out, nil
}

// Sub returns a key derived from k for a separate purpose, such as sealing request
// context. Tokens signed with a sub key never verify under the parent key.
func (k SigningKey) Sub(purpose string) (SigningKey, error) {
	secret, err := Derive(k.Secret, purpose, 32)
	if err != nil {
		return SigningKey{}, err
	}
	return NewSigningKey(secret)
}

func (k SigningKey) signer(typ string) (gojose.Signer, error) {
	opts := (&gojose.SignerOptions{}).WithType(gojose.ContentType(typ)).WithHeader("kid", k.KID)
	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: Algorithm, Key: k.Secret}, opts)
	if err != nil {
		return nil, fmt.Errorf("new signer: %w", err)
	}
	return signer, nil
}
