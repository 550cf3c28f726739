// Package store is the durable repository layer: gorm models and
// repositories for clients, authorization codes, tokens, proofs,
// nullifiers, issuers, credentials and the append-only audit log.
package store

import (
	"strings"
	"time"
)

// Client type discriminators.
const (
	ClientTypePublic       = "public"
	ClientTypeConfidential = "confidential"
)

// Client is a registered relying party.
type Client struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	ClientID         string    `gorm:"uniqueIndex;not null" json:"client_id"`
	ClientSecretHash string    `gorm:"column:client_secret_hash" json:"-"`
	ClientName       string    `json:"client_name"`
	RedirectURIs     string    `json:"redirect_uris"`  // space-separated absolute URIs
	AllowedScopes    string    `json:"allowed_scopes"` // space-separated
	ClientType       string    `json:"client_type"`    // public | confidential
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Client) TableName() string { return "clients" }

// RedirectURIList splits the stored redirect URIs.
func (c *Client) RedirectURIList() []string { return strings.Fields(c.RedirectURIs) }

// AllowedScopeList splits the stored allowed scopes.
func (c *Client) AllowedScopeList() []string { return strings.Fields(c.AllowedScopes) }

// HasRedirectURI reports whether uri exactly matches a registered one.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIList() {
		if u == uri {
			return true
		}
	}
	return false
}

// Confidential reports whether the client authenticates with a secret.
func (c *Client) Confidential() bool { return c.ClientType == ClientTypeConfidential }

// AuthCode is a single-use authorization code bound to one flow.
type AuthCode struct {
	Code                string `gorm:"primaryKey"`
	ClientID            string `gorm:"index;not null"`
	Subject             string `gorm:"not null"`
	RedirectURI         string `gorm:"not null"`
	Scopes              string // space-separated, as granted
	Nonce               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	ZkClaims            string    // JSON snapshot of the satisfied zk claims
	ExpiresAt           time.Time `gorm:"index;not null"`
	CreatedAt           time.Time
	UsedAt              *time.Time
}

func (AuthCode) TableName() string { return "auth_codes" }

// ScopeList splits the granted scopes.
func (a *AuthCode) ScopeList() []string { return strings.Fields(a.Scopes) }

// RefreshToken is stored hashed; ChainCode groups every token descended
// from one authorization code so the chain can be revoked together.
type RefreshToken struct {
	ID          uint   `gorm:"primaryKey"`
	TokenHash   string `gorm:"uniqueIndex;not null"` // hex SHA-256
	ClientID    string `gorm:"index;not null"`
	Subject     string `gorm:"not null"`
	Scopes      string
	ChainCode   string `gorm:"index"`
	RotatedFrom string // hash of the token this one replaced
	ExpiresAt   time.Time
	CreatedAt   time.Time
	RevokedAt   *time.Time
}

func (RefreshToken) TableName() string { return "refresh_tokens" }

// ScopeList splits the token scopes.
func (r *RefreshToken) ScopeList() []string { return strings.Fields(r.Scopes) }

// AccessToken rows back the /userinfo endpoint; only the hash is kept.
type AccessToken struct {
	ID        uint   `gorm:"primaryKey"`
	TokenHash string `gorm:"uniqueIndex;not null"`
	ClientID  string `gorm:"index"`
	Subject   string
	Scopes    string
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (AccessToken) TableName() string { return "access_tokens" }

// Proving job states.
const (
	ProofStatePending    = "pending"
	ProofStateGenerating = "generating"
	ProofStateComplete   = "complete"
	ProofStateFailed     = "failed"
)

// Proof is a durable proving job and, once complete, the stored proof
// itself. The encrypted witness is cleared when the job reaches a
// terminal state.
type Proof struct {
	ID           uint       `gorm:"primaryKey" json:"-"`
	ProofID      string     `gorm:"uniqueIndex;not null" json:"proof_id"`
	CircuitType  string     `gorm:"index;not null" json:"circuit_type"`
	State        string     `gorm:"index;not null" json:"state"`
	PublicInputs string     `json:"public_inputs"` // JSON object per circuit schema
	WitnessEnc   []byte     `json:"-"`             // AES-GCM encrypted private inputs
	ProofData    []byte     `json:"-"`
	ProofHash    []byte     `json:"proof_hash"` // SHA3-256 of ProofData
	Verified     bool       `json:"verified"`
	Error        string     `json:"error,omitempty"`
	Subject      string     `gorm:"index" json:"subject,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `gorm:"index" json:"updated_at"`
}

func (Proof) TableName() string { return "proofs" }

// Terminal reports whether the job can no longer change state.
func (p *Proof) Terminal() bool {
	return p.State == ProofStateComplete || p.State == ProofStateFailed
}

// Nullifier marks a credential use within a verifier domain. The
// (nullifier_hash, domain) pair is unique; a duplicate insert is the
// replay signal.
type Nullifier struct {
	ID            uint   `gorm:"primaryKey"`
	NullifierHash string `gorm:"uniqueIndex:idx_nullifier_domain;not null"` // hex SHA3-256
	Domain        string `gorm:"uniqueIndex:idx_nullifier_domain;not null"`
	CircuitType   string
	UsedAt        time.Time
}

func (Nullifier) TableName() string { return "nullifiers" }

// Issuer is a trusted credential signer.
type Issuer struct {
	ID                 uint      `gorm:"primaryKey" json:"-"`
	IssuerID           string    `gorm:"uniqueIndex;not null" json:"issuer_id"`
	Name               string    `json:"name"`
	PublicKey          []byte    `json:"public_key"`
	PublicKeyAlgorithm string    `json:"public_key_algorithm"` // dilithium3 | ed25519
	VerificationURL    string    `json:"verification_url,omitempty"`
	Trusted            bool      `json:"trusted"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (Issuer) TableName() string { return "issuers" }

// Credential is opaque to the server: an encrypted blob plus the
// commitment the circuits bind to. No attribute is stored in the clear.
type Credential struct {
	ID             uint       `gorm:"primaryKey" json:"-"`
	CredentialID   string     `gorm:"uniqueIndex;not null" json:"credential_id"`
	Subject        string     `gorm:"index" json:"subject"`
	IssuerID       string     `json:"issuer_id"`
	SchemaID       string     `json:"schema_id"`
	CredentialType string     `json:"credential_type"`
	EncryptedData  []byte     `json:"-"` // nonce || AES-256-GCM ciphertext
	Commitment     []byte     `json:"commitment"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (Credential) TableName() string { return "credentials" }

// Audit event types (closed set).
const (
	EventClientRegistered  = "client.registered"
	EventClientDeleted     = "client.deleted"
	EventIssuerCreated     = "issuer.created"
	EventIssuerUpdated     = "issuer.updated"
	EventIssuerDeleted     = "issuer.deleted"
	EventAuthorizeGranted  = "authorize.granted"
	EventAuthorizeDenied   = "authorize.denied"
	EventAuthorizeError    = "authorize.error"
	EventTokenIssued       = "token.issued"
	EventTokenRefreshed    = "token.refreshed"
	EventTokenRejected     = "token.rejected"
	EventProofSubmitted    = "proof.submitted"
	EventProofCompleted    = "proof.completed"
	EventProofFailed       = "proof.failed"
	EventProofVerified     = "proof.verified"
	EventNullifierRecorded = "nullifier.recorded"
	EventReplayDetected    = "replay.detected"
	EventAdminAuthFailed   = "admin.auth_failed"
)

// AuditEntry is append-only; rows are never mutated or deleted.
type AuditEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EventType string    `gorm:"index;not null" json:"event_type"`
	ClientID  string    `json:"client_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Details   string    `json:"details,omitempty"` // JSON
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (AuditEntry) TableName() string { return "audit_log" }
