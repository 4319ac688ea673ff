package credentials

import (
	"crypto/subtle"
	"fmt"
	"strings"
)

// Checker validates a username/password pair and returns the subject to put in tokens.
type Checker interface {
	Check(username, password string) (subject string, ok bool)
}

// StaticChecker accepts a single configured account. The password is held only in its
// decoded argon2id form.
type StaticChecker struct {
	username string
	password storedPassword
}

var _ Checker = (*StaticChecker)(nil)

// NewStaticChecker builds a checker for username. password is either an argon2id PHC
// string, which must decode, or plaintext, which is hashed here.
func NewStaticChecker(username, password string) (*StaticChecker, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	var (
		sp  storedPassword
		err error
	)
	if strings.HasPrefix(password, "$argon2") {
		sp, err = parseStoredPassword(password)
		if err != nil {
			return nil, fmt.Errorf("DEMO_PASSWORD: %w", err)
		}
	} else if sp, err = newStoredPassword(password); err != nil {
		return nil, err
	}
	return &StaticChecker{username: username, password: sp}, nil
}

// Check always runs the KDF so unknown usernames take as long as known ones.
func (c *StaticChecker) Check(username, password string) (string, bool) {
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(c.username)) == 1
	passOK := c.password.matches(password)
	if !userOK || !passOK {
		return "", false
	}
	return c.username, true
}
