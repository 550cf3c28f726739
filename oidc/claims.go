package oidc

// ProofRef points an ID token claim at a stored proof without embedding
// the (large) proof bytes.
type ProofRef struct {
	ID        string `json:"id"`
	Hash      string `json:"hash"` // hex SHA3-256 of the proof bytes
	CircuitID string `json:"circuit_id"`
}

// ZkClaim is one satisfied predicate inside an ID token. Only verified
// proofs are ever referenced.
type ZkClaim struct {
	Satisfied  bool           `json:"satisfied"`
	Parameters map[string]any `json:"parameters,omitempty"`
	ProofRef   ProofRef       `json:"proof_ref"`
	VerifiedAt int64          `json:"verified_at"`
}

// ZkClaims maps claim keys ("age", "kyc", "credential:<type>") to their
// attested values.
type ZkClaims map[string]ZkClaim
