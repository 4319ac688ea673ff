package service

import "fmt"

// DiscoveryService builds responses for discovery endpoints.
type DiscoveryService struct {
	issuer string
}

// NewDiscoveryService returns a DiscoveryService advertising issuer.
func NewDiscoveryService(issuer string) *DiscoveryService {
	return &DiscoveryService{issuer: issuer}
}

// OpenIDConfiguration is the discovery document. There is no jwks_uri: tokens are signed
// with a shared secret, so there is no public key to publish.
type OpenIDConfiguration struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	VerificationEndpoint             string   `json:"verification_endpoint"`
	UserInfoEndpoint                 string   `json:"userinfo_endpoint"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

// OpenIDConfigurationResponse builds the document with endpoints on the request host.
func (s *DiscoveryService) OpenIDConfigurationResponse(schema, host string) OpenIDConfiguration {
	base := fmt.Sprintf("%s://%s", schema, host)
	return OpenIDConfiguration{
		Issuer:                           s.issuer,
		AuthorizationEndpoint:            base + "/authorize",
		TokenEndpoint:                    base + "/token",
		VerificationEndpoint:             base + "/verify",
		UserInfoEndpoint:                 base + "/userinfo",
		ResponseTypesSupported:           []string{"code"},
		GrantTypesSupported:              []string{"authorization_code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"HS256"},
		ScopesSupported:                  []string{"openid"},
		TokenEndpointAuthMethods:         []string{"client_secret_post", "client_secret_basic"},
		ClaimsSupported:                  []string{"iss", "sub", "aud", "iat", "exp", "scope"},
	}
}
