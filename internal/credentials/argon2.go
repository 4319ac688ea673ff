package credentials

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Defaults for hashes built from a plaintext DEMO_PASSWORD.
const (
	defaultTime    uint32 = 3
	defaultMemory  uint32 = 64 * 1024
	defaultThreads uint8  = 2
	defaultKeyLen         = 32
	defaultSaltLen        = 16
)

var errMalformedHash = errors.New("malformed argon2id hash")

var b64 = base64.RawStdEncoding

// storedPassword is a decoded argon2id PHC string: the cost parameters, salt and derived
// key the login check runs against.
type storedPassword struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

// newStoredPassword derives a fresh hash for plaintext with the default costs.
func newStoredPassword(plaintext string) (storedPassword, error) {
	salt := make([]byte, defaultSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return storedPassword{}, fmt.Errorf("generate salt: %w", err)
	}
	sp := storedPassword{memory: defaultMemory, time: defaultTime, threads: defaultThreads, salt: salt}
	sp.key = sp.derive(plaintext, defaultKeyLen)
	return sp, nil
}

// parseStoredPassword decodes $argon2id$v=19$m=..,t=..,p=..$salt$key.
func parseStoredPassword(encoded string) (storedPassword, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return storedPassword{}, errMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return storedPassword{}, errMalformedHash
	}
	if version != argon2.Version {
		return storedPassword{}, fmt.Errorf("%w: unsupported version %d", errMalformedHash, version)
	}

	var sp storedPassword
	var threads uint32
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &sp.memory, &sp.time, &threads); err != nil {
		return storedPassword{}, errMalformedHash
	}
	if sp.memory == 0 || sp.time == 0 || threads == 0 || threads > 255 {
		return storedPassword{}, fmt.Errorf("%w: cost parameters out of range", errMalformedHash)
	}
	sp.threads = uint8(threads)

	var err error
	if sp.salt, err = b64.DecodeString(fields[4]); err != nil || len(sp.salt) == 0 {
		return storedPassword{}, fmt.Errorf("%w: salt", errMalformedHash)
	}
	if sp.key, err = b64.DecodeString(fields[5]); err != nil || len(sp.key) == 0 {
		return storedPassword{}, fmt.Errorf("%w: key", errMalformedHash)
	}
	return sp, nil
}

func (sp storedPassword) derive(plaintext string, keyLen int) []byte {
	return argon2.IDKey([]byte(plaintext), sp.salt, sp.time, sp.memory, sp.threads, uint32(keyLen))
}

// matches reruns the KDF with the stored costs and compares in constant time.
func (sp storedPassword) matches(plaintext string) bool {
	return subtle.ConstantTimeCompare(sp.derive(plaintext, len(sp.key)), sp.key) == 1
}

// String encodes sp back into PHC form.
func (sp storedPassword) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, sp.memory, sp.time, sp.threads, b64.EncodeToString(sp.salt), b64.EncodeToString(sp.key))
}

// Hash returns the PHC string for plaintext, suitable for DEMO_PASSWORD.
func Hash(plaintext string) (string, error) {
	sp, err := newStoredPassword(plaintext)
	if err != nil {
		return "", err
	}
	return sp.String(), nil
}
