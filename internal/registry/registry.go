package registry

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/saadaziz/identity-backend/internal/domain"
)

// Registry is the static client registry. It is safe for concurrent use because it is
// never modified after construction.
type Registry struct {
	clients map[string]domain.Client
	global  []string
	dummy   [sha256.Size]byte
}

// New builds a registry from the configured clients and the global redirect allow-list.
func New(clients []domain.Client, globalPrefixes []string) *Registry {
	r := &Registry{
		clients: make(map[string]domain.Client, len(clients)),
		global:  cleanPrefixes(globalPrefixes),
		dummy:   sha256.Sum256([]byte("registry:unknown-client")),
	}
	for _, c := range clients {
		c.AllowedRedirectPrefixes = cleanPrefixes(c.AllowedRedirectPrefixes)
		r.clients[c.ClientID] = c
	}
	return r
}

// Lookup returns the client registered under clientID.
func (r *Registry) Lookup(clientID string) (domain.Client, bool) {
	if clientID == "" {
		return domain.Client{}, false
	}
	c, ok := r.clients[clientID]
	return c, ok
}

// ValidateRedirect reports whether uri starts with one of the client's prefixes or a
// global prefix. The same rule applies at authorize time and at token time.
func (r *Registry) ValidateRedirect(client domain.Client, uri string) bool {
	return MatchesRedirectPrefix(uri, client.AllowedRedirectPrefixes) || MatchesRedirectPrefix(uri, r.global)
}

// ValidateSecret compares secret with the registered one in constant time. Unknown
// clients go through the same comparison against a dummy digest.
func (r *Registry) ValidateSecret(clientID, secret string) bool {
	expected := r.dummy
	c, ok := r.Lookup(clientID)
	if ok {
		expected = sha256.Sum256([]byte(c.ClientSecret))
	}
	got := sha256.Sum256([]byte(secret))
	match := subtle.ConstantTimeCompare(expected[:], got[:]) == 1
	return ok && match && secret != ""
}

// MatchesRedirectPrefix is a plain string-prefix test. No URL normalization is applied.
func MatchesRedirectPrefix(uri string, prefixes []string) bool {
	if uri == "" {
		return false
	}
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(uri, p) {
			return true
		}
	}
	return false
}

func cleanPrefixes(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
