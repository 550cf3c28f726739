package oidc

import (
	"strings"

	"github.com/fantasma-id/fantasma/crypto"
)

// CircuitMetadata describes one circuit in the discovery document.
type CircuitMetadata struct {
	ID          string `json:"id"`
	Version     uint   `json:"version"`
	Description string `json:"description"`
}

// DiscoveryDocument is the OpenID Provider Configuration, extended with
// the zero-knowledge circuit catalogue.
type DiscoveryDocument struct {
	Issuer                            string            `json:"issuer"`
	AuthorizationEndpoint             string            `json:"authorization_endpoint"`
	TokenEndpoint                     string            `json:"token_endpoint"`
	UserinfoEndpoint                  string            `json:"userinfo_endpoint"`
	JWKSURI                           string            `json:"jwks_uri"`
	ProofEndpoint                     string            `json:"proof_endpoint"`
	ScopesSupported                   []string          `json:"scopes_supported"`
	ResponseTypesSupported            []string          `json:"response_types_supported"`
	GrantTypesSupported               []string          `json:"grant_types_supported"`
	SubjectTypesSupported             []string          `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string          `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string          `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string          `json:"code_challenge_methods_supported"`
	ClaimsSupported                   []string          `json:"claims_supported"`
	ZkCircuits                        []CircuitMetadata `json:"zk_circuits"`
}

// NewDiscoveryDocument builds the discovery document for an issuer URL.
func NewDiscoveryDocument(issuer string, circuits []CircuitMetadata) DiscoveryDocument {
	base := strings.TrimSuffix(issuer, "/")
	return DiscoveryDocument{
		Issuer:                            base,
		AuthorizationEndpoint:             base + "/authorize",
		TokenEndpoint:                     base + "/token",
		UserinfoEndpoint:                  base + "/userinfo",
		JWKSURI:                           base + "/jwks",
		ProofEndpoint:                     base + "/proofs",
		ScopesSupported:                   SupportedScopes(),
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		SubjectTypesSupported:             []string{"pairwise"},
		IDTokenSigningAlgValuesSupported:  []string{crypto.AlgMLDSA65},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		CodeChallengeMethodsSupported:     []string{"S256", "plain"},
		ClaimsSupported: []string{
			"iss", "sub", "aud", "exp", "iat", "nonce", "auth_time", "zk_claims",
		},
		ZkCircuits: circuits,
	}
}
