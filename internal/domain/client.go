package domain

// Client is a registered OAuth client. Clients are loaded once at startup and never mutated.
type Client struct {
	ClientID                string   `yaml:"client_id"`
	ClientSecret            string   `yaml:"client_secret"`
	AllowedRedirectPrefixes []string `yaml:"redirect_prefixes"`
}

// PendingAuthorization is the context of one in-flight authorization attempt. It travels
// with the caller between the authorize and credential steps.
type PendingAuthorization struct {
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
	State       string `json:"state,omitempty"`
	Scope       string `json:"scope,omitempty"`
}
