package oidc

import (
	"strconv"
	"strings"

	"github.com/fantasma-id/fantasma/circuits"
)

// Claim kinds produced by the scope resolver.
const (
	ClaimAgeAtLeast      = "age"
	ClaimKycStatus       = "kyc"
	ClaimHoldsCredential = "credential"
)

// MaxAgeThreshold bounds zk:age:<N>+ scopes.
const MaxAgeThreshold = 120

// KYC level names mapped to numeric levels.
var kycLevels = map[string]int{
	"basic":      1,
	"enhanced":   2,
	"accredited": 3,
}

// ClaimRequest is one resolved zero-knowledge claim bound to a circuit.
type ClaimRequest struct {
	Kind       string         `json:"kind"`
	Scope      string         `json:"scope"` // the originating scope string
	Parameters map[string]any `json:"parameters"`
	CircuitID  string         `json:"circuit_id"`
}

// Key names the claim inside the zk_claims token map: "age", "kyc",
// "credential" or "credential:<type>".
func (c ClaimRequest) Key() string {
	if c.Kind == ClaimHoldsCredential {
		if t, ok := c.Parameters["type"].(string); ok && t != "" {
			return ClaimHoldsCredential + ":" + t
		}
	}
	return c.Kind
}

// ResolveScopes parses a space-separated scope string into an ordered,
// de-duplicated list of claim requests. openid is mandatory; profile and
// email are accepted but carry no claim; unknown zk: scopes, and zk: scopes
// missing from a non-empty client allow-list, fail with invalid_scope. An
// empty allow-list admits every zk: scope; non-zk scopes are not checked
// against the list, and unrecognised ones are ignored.
func ResolveScopes(scope string, allowedScopes []string) ([]ClaimRequest, error) {
	fields := strings.Fields(scope)

	seen := make(map[string]bool, len(fields))
	var scopes []string
	for _, s := range fields {
		if !seen[s] {
			seen[s] = true
			scopes = append(scopes, s)
		}
	}

	if !seen["openid"] {
		return nil, NewError(ErrInvalidScope, "the openid scope is required")
	}

	allowed := make(map[string]bool, len(allowedScopes))
	for _, s := range allowedScopes {
		allowed[s] = true
	}

	var claims []ClaimRequest
	for _, s := range scopes {
		switch {
		case s == "openid", s == "profile", s == "email":
			// subject release only, no claim request
		case strings.HasPrefix(s, "zk:"):
			claim, err := parseZkScope(s)
			if err != nil {
				return nil, err
			}
			if len(allowed) > 0 && !allowed[s] {
				return nil, NewError(ErrInvalidScope, "scope %q is not allowed for this client", s)
			}
			claims = append(claims, claim)
		default:
			// Unrecognised non-zk scopes are ignored per OAuth custom.
		}
	}
	return claims, nil
}

func parseZkScope(s string) (ClaimRequest, error) {
	switch {
	case strings.HasPrefix(s, "zk:age:"):
		rest := strings.TrimPrefix(s, "zk:age:")
		if !strings.HasSuffix(rest, "+") {
			return ClaimRequest{}, NewError(ErrInvalidScope, "malformed age scope %q", s)
		}
		n, err := strconv.Atoi(strings.TrimSuffix(rest, "+"))
		if err != nil || n < 0 || n > MaxAgeThreshold {
			return ClaimRequest{}, NewError(ErrInvalidScope, "age threshold in %q must be an integer between 0 and %d", s, MaxAgeThreshold)
		}
		return ClaimRequest{
			Kind:       ClaimAgeAtLeast,
			Scope:      s,
			Parameters: map[string]any{"threshold": n},
			CircuitID:  circuits.AgeVerificationID,
		}, nil

	case strings.HasPrefix(s, "zk:kyc:"):
		name := strings.TrimPrefix(s, "zk:kyc:")
		level, ok := kycLevels[name]
		if !ok {
			return ClaimRequest{}, NewError(ErrInvalidScope, "unknown kyc level in %q", s)
		}
		return ClaimRequest{
			Kind:       ClaimKycStatus,
			Scope:      s,
			Parameters: map[string]any{"level": level, "level_name": name},
			CircuitID:  circuits.KycVerificationID,
		}, nil

	case s == "zk:credential":
		return ClaimRequest{
			Kind:       ClaimHoldsCredential,
			Scope:      s,
			Parameters: map[string]any{},
			CircuitID:  circuits.CredentialVerificationID,
		}, nil

	case strings.HasPrefix(s, "zk:credential:"):
		name := strings.TrimPrefix(s, "zk:credential:")
		if _, ok := circuits.CredentialTypeCode(name); !ok || name == "" {
			return ClaimRequest{}, NewError(ErrInvalidScope, "unknown credential type in %q", s)
		}
		return ClaimRequest{
			Kind:       ClaimHoldsCredential,
			Scope:      s,
			Parameters: map[string]any{"type": name},
			CircuitID:  circuits.CredentialVerificationID,
		}, nil
	}
	return ClaimRequest{}, NewError(ErrInvalidScope, "unknown scope %q", s)
}

// SupportedScopes enumerates every scope advertised in discovery.
func SupportedScopes() []string {
	return []string{
		"openid", "profile", "email",
		"zk:age:18+", "zk:age:21+", "zk:age:65+",
		"zk:kyc:basic", "zk:kyc:enhanced", "zk:kyc:accredited",
		"zk:credential",
		"zk:credential:degree", "zk:credential:license",
		"zk:credential:membership", "zk:credential:identity",
	}
}
