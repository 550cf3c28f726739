package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Distinguishable repository outcomes.
var (
	ErrNotFound    = errors.New("not found")
	ErrAlreadyUsed = errors.New("already used")
	ErrExpired     = errors.New("expired")
	ErrDuplicate   = errors.New("duplicate")
)

// Store bundles every repository over one database handle.
type Store struct {
	db *gorm.DB

	Clients       *ClientRepo
	AuthCodes     *AuthCodeRepo
	RefreshTokens *RefreshTokenRepo
	AccessTokens  *AccessTokenRepo
	Proofs        *ProofRepo
	Nullifiers    *NullifierRepo
	Issuers       *IssuerRepo
	Credentials   *CredentialRepo
	Audit         *AuditRepo
}

// New builds a Store over db.
func New(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		Clients:       &ClientRepo{db: db},
		AuthCodes:     &AuthCodeRepo{db: db},
		RefreshTokens: &RefreshTokenRepo{db: db},
		AccessTokens:  &AccessTokenRepo{db: db},
		Proofs:        &ProofRepo{db: db},
		Nullifiers:    &NullifierRepo{db: db},
		Issuers:       &IssuerRepo{db: db},
		Credentials:   &CredentialRepo{db: db},
		Audit:         &AuditRepo{db: db},
	}
}

// DB exposes the underlying handle for pool statistics.
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction runs fn inside one database transaction. The callback
// receives a Store bound to the transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

// ── Clients ─────────────────────────────────────────────────────

type ClientRepo struct{ db *gorm.DB }

func (r *ClientRepo) Create(ctx context.Context, c *Client) error {
	err := r.db.WithContext(ctx).Create(c).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *ClientRepo) GetByClientID(ctx context.Context, clientID string) (*Client, error) {
	var c Client
	err := r.db.WithContext(ctx).Where("client_id = ?", clientID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ClientRepo) List(ctx context.Context, limit, offset int) ([]Client, error) {
	var out []Client
	err := r.db.WithContext(ctx).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error
	return out, err
}

func (r *ClientRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Client{}).Count(&n).Error
	return n, err
}

func (r *ClientRepo) Delete(ctx context.Context, clientID string) error {
	res := r.db.WithContext(ctx).Where("client_id = ?", clientID).Delete(&Client{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ── Authorization codes ─────────────────────────────────────────

type AuthCodeRepo struct{ db *gorm.DB }

func (r *AuthCodeRepo) Insert(ctx context.Context, code *AuthCode) error {
	err := r.db.WithContext(ctx).Create(code).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// RedeemOnce atomically marks a code used and returns it. A second call
// for the same code returns ErrAlreadyUsed; expired codes return
// ErrExpired.
func (r *AuthCodeRepo) RedeemOnce(ctx context.Context, code string) (*AuthCode, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&AuthCode{}).
		Where("code = ? AND used_at IS NULL AND expires_at > ?", code, now).
		Update("used_at", now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		var ac AuthCode
		if err := r.db.WithContext(ctx).Where("code = ?", code).First(&ac).Error; err != nil {
			return nil, err
		}
		return &ac, nil
	}

	// Redeem failed: classify why.
	var ac AuthCode
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&ac).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	case ac.UsedAt != nil:
		return &ac, ErrAlreadyUsed
	default:
		return nil, ErrExpired
	}
}

func (r *AuthCodeRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", time.Now().UTC()).Delete(&AuthCode{})
	return res.RowsAffected, res.Error
}

// ── Refresh tokens ──────────────────────────────────────────────

type RefreshTokenRepo struct{ db *gorm.DB }

func (r *RefreshTokenRepo) Insert(ctx context.Context, t *RefreshToken) error {
	err := r.db.WithContext(ctx).Create(t).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *RefreshTokenRepo) LookupByHash(ctx context.Context, hash string) (*RefreshToken, error) {
	var t RefreshToken
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *RefreshTokenRepo) Revoke(ctx context.Context, hash string) error {
	res := r.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", hash).
		Update("revoked_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeChain revokes every live token descended from one authorization
// code. Returns the number of tokens revoked.
func (r *RefreshTokenRepo) RevokeChain(ctx context.Context, chainCode string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("chain_code = ? AND revoked_at IS NULL", chainCode).
		Update("revoked_at", time.Now().UTC())
	return res.RowsAffected, res.Error
}

// ── Access tokens ───────────────────────────────────────────────

type AccessTokenRepo struct{ db *gorm.DB }

func (r *AccessTokenRepo) Insert(ctx context.Context, t *AccessToken) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *AccessTokenRepo) LookupByHash(ctx context.Context, hash string) (*AccessToken, error) {
	var t AccessToken
	err := r.db.WithContext(ctx).
		Where("token_hash = ? AND expires_at > ?", hash, time.Now().UTC()).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *AccessTokenRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", time.Now().UTC()).Delete(&AccessToken{})
	return res.RowsAffected, res.Error
}

// ── Proofs ──────────────────────────────────────────────────────

type ProofRepo struct{ db *gorm.DB }

func (r *ProofRepo) Insert(ctx context.Context, p *Proof) error {
	err := r.db.WithContext(ctx).Create(p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *ProofRepo) Get(ctx context.Context, proofID string) (*Proof, error) {
	var p Proof
	err := r.db.WithContext(ctx).Where("proof_id = ?", proofID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ClaimNextPending transitions the oldest pending job to generating and
// returns it; nil when the queue is empty. The conditional update makes
// concurrent claims safe.
func (r *ProofRepo) ClaimNextPending(ctx context.Context) (*Proof, error) {
	for {
		var p Proof
		err := r.db.WithContext(ctx).
			Where("state = ?", ProofStatePending).
			Order("created_at ASC").First(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		res := r.db.WithContext(ctx).Model(&Proof{}).
			Where("proof_id = ? AND state = ?", p.ProofID, ProofStatePending).
			Update("state", ProofStateGenerating)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			p.State = ProofStateGenerating
			return &p, nil
		}
		// Lost the race for this job; try the next one.
	}
}

// Complete stores the proof result, clears the witness and marks the job
// terminal.
func (r *ProofRepo) Complete(ctx context.Context, proofID string, proofData, proofHash []byte, verified bool) error {
	return r.db.WithContext(ctx).Model(&Proof{}).
		Where("proof_id = ?", proofID).
		Updates(map[string]any{
			"state":       ProofStateComplete,
			"proof_data":  proofData,
			"proof_hash":  proofHash,
			"verified":    verified,
			"witness_enc": nil,
		}).Error
}

// Fail marks the job terminal with an error and clears the witness.
func (r *ProofRepo) Fail(ctx context.Context, proofID, msg string) error {
	return r.db.WithContext(ctx).Model(&Proof{}).
		Where("proof_id = ?", proofID).
		Updates(map[string]any{
			"state":       ProofStateFailed,
			"error":       msg,
			"witness_enc": nil,
		}).Error
}

// ReclaimStale re-enqueues generating jobs whose last update is older
// than the threshold (worker crash recovery).
func (r *ProofRepo) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := r.db.WithContext(ctx).Model(&Proof{}).
		Where("state = ? AND updated_at < ?", ProofStateGenerating, cutoff).
		Update("state", ProofStatePending)
	return res.RowsAffected, res.Error
}

func (r *ProofRepo) List(ctx context.Context, limit, offset int, circuitType string) ([]Proof, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if circuitType != "" {
		q = q.Where("circuit_type = ?", circuitType)
	}
	var out []Proof
	err := q.Find(&out).Error
	return out, err
}

func (r *ProofRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Proof{}).Count(&n).Error
	return n, err
}

func (r *ProofRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", time.Now().UTC()).
		Delete(&Proof{})
	return res.RowsAffected, res.Error
}

// ── Nullifiers ──────────────────────────────────────────────────

type NullifierRepo struct{ db *gorm.DB }

// InsertUnique records a nullifier use. A second insert for the same
// (nullifier_hash, domain) pair returns ErrDuplicate — the replay signal.
func (r *NullifierRepo) InsertUnique(ctx context.Context, n *Nullifier) error {
	if n.UsedAt.IsZero() {
		n.UsedAt = time.Now().UTC()
	}
	err := r.db.WithContext(ctx).Create(n).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *NullifierRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Nullifier{}).Count(&n).Error
	return n, err
}

// ── Issuers ─────────────────────────────────────────────────────

type IssuerRepo struct{ db *gorm.DB }

func (r *IssuerRepo) Create(ctx context.Context, i *Issuer) error {
	err := r.db.WithContext(ctx).Create(i).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *IssuerRepo) Get(ctx context.Context, issuerID string) (*Issuer, error) {
	var i Issuer
	err := r.db.WithContext(ctx).Where("issuer_id = ?", issuerID).First(&i).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *IssuerRepo) Update(ctx context.Context, i *Issuer) error {
	res := r.db.WithContext(ctx).Model(&Issuer{}).
		Where("issuer_id = ?", i.IssuerID).
		Updates(map[string]any{
			"name":                 i.Name,
			"public_key":           i.PublicKey,
			"public_key_algorithm": i.PublicKeyAlgorithm,
			"verification_url":     i.VerificationURL,
			"trusted":              i.Trusted,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *IssuerRepo) Delete(ctx context.Context, issuerID string) error {
	res := r.db.WithContext(ctx).Where("issuer_id = ?", issuerID).Delete(&Issuer{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *IssuerRepo) List(ctx context.Context, limit, offset int) ([]Issuer, error) {
	var out []Issuer
	err := r.db.WithContext(ctx).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error
	return out, err
}

func (r *IssuerRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Issuer{}).Count(&n).Error
	return n, err
}

// ── Credentials ─────────────────────────────────────────────────

type CredentialRepo struct{ db *gorm.DB }

func (r *CredentialRepo) Insert(ctx context.Context, c *Credential) error {
	err := r.db.WithContext(ctx).Create(c).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *CredentialRepo) Get(ctx context.Context, credentialID string) (*Credential, error) {
	var c Credential
	err := r.db.WithContext(ctx).Where("credential_id = ?", credentialID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CredentialRepo) ListBySubject(ctx context.Context, subject string) ([]Credential, error) {
	var out []Credential
	err := r.db.WithContext(ctx).
		Where("subject = ?", subject).Order("created_at DESC").Find(&out).Error
	return out, err
}

func (r *CredentialRepo) Revoke(ctx context.Context, credentialID string) error {
	res := r.db.WithContext(ctx).Model(&Credential{}).
		Where("credential_id = ? AND revoked_at IS NULL", credentialID).
		Update("revoked_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ── Audit log ───────────────────────────────────────────────────

type AuditRepo struct{ db *gorm.DB }

func (r *AuditRepo) Append(ctx context.Context, e *AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *AuditRepo) List(ctx context.Context, limit, offset int, eventType string) ([]AuditEntry, error) {
	q := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Offset(offset)
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	var out []AuditEntry
	err := q.Find(&out).Error
	return out, err
}

func (r *AuditRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&AuditEntry{}).Count(&n).Error
	return n, err
}

// Paginate clamps limit/offset to the admin listing contract.
func Paginate(limit, offset int) (int, int) {
	if limit < 1 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
