package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return New(db)
}

func TestClientCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := &Client{
		ClientID:      "demo",
		ClientName:    "Demo RP",
		RedirectURIs:  "http://rp.test/cb http://rp.test/alt",
		AllowedScopes: "openid zk:age:21+",
		ClientType:    ClientTypePublic,
	}
	require.NoError(t, s.Clients.Create(ctx, c))
	assert.ErrorIs(t, s.Clients.Create(ctx, &Client{ClientID: "demo"}), ErrDuplicate)

	got, err := s.Clients.GetByClientID(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://rp.test/cb", "http://rp.test/alt"}, got.RedirectURIList())
	assert.True(t, got.HasRedirectURI("http://rp.test/cb"))
	assert.False(t, got.HasRedirectURI("http://rp.test/cb/"))

	n, err := s.Clients.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, s.Clients.Delete(ctx, "demo"))
	assert.ErrorIs(t, s.Clients.Delete(ctx, "demo"), ErrNotFound)
	_, err = s.Clients.GetByClientID(ctx, "demo")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthCodeRedeemOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	code := &AuthCode{
		Code:        "abc123",
		ClientID:    "demo",
		Subject:     "zkid:deadbeef",
		RedirectURI: "http://rp.test/cb",
		Scopes:      "openid zk:age:21+",
		ExpiresAt:   time.Now().UTC().Add(10 * time.Minute),
	}
	require.NoError(t, s.AuthCodes.Insert(ctx, code))

	got, err := s.AuthCodes.RedeemOnce(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "zkid:deadbeef", got.Subject)
	assert.NotNil(t, got.UsedAt)

	_, err = s.AuthCodes.RedeemOnce(ctx, "abc123")
	assert.ErrorIs(t, err, ErrAlreadyUsed)

	_, err = s.AuthCodes.RedeemOnce(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthCodeExpiry(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AuthCodes.Insert(ctx, &AuthCode{
		Code:        "expired",
		ClientID:    "demo",
		Subject:     "zkid:deadbeef",
		RedirectURI: "http://rp.test/cb",
		ExpiresAt:   time.Now().UTC().Add(-time.Second),
	}))

	_, err := s.AuthCodes.RedeemOnce(ctx, "expired")
	assert.ErrorIs(t, err, ErrExpired)

	purged, err := s.AuthCodes.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
}

func TestConcurrentRedeemAtMostOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AuthCodes.Insert(ctx, &AuthCode{
		Code:        "race",
		ClientID:    "demo",
		Subject:     "zkid:deadbeef",
		RedirectURI: "http://rp.test/cb",
		ExpiresAt:   time.Now().UTC().Add(time.Minute),
	}))

	const attempts = 16
	var wg sync.WaitGroup
	successes := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AuthCodes.RedeemOnce(ctx, "race"); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	var n int
	for range successes {
		n++
	}
	assert.Equal(t, 1, n, "exactly one redemption may succeed")
}

func TestNullifierUnique(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	n := &Nullifier{
		NullifierHash: "aa11",
		Domain:        "rp.test",
		CircuitType:   "age_verification_v1",
	}
	require.NoError(t, s.Nullifiers.InsertUnique(ctx, n))

	dup := &Nullifier{NullifierHash: "aa11", Domain: "rp.test", CircuitType: "age_verification_v1"}
	assert.ErrorIs(t, s.Nullifiers.InsertUnique(ctx, dup), ErrDuplicate)

	// Same hash under a different domain is a distinct use.
	other := &Nullifier{NullifierHash: "aa11", Domain: "other.test", CircuitType: "age_verification_v1"}
	assert.NoError(t, s.Nullifiers.InsertUnique(ctx, other))

	count, err := s.Nullifiers.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestRefreshTokenChainRevocation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	exp := time.Now().UTC().Add(time.Hour)
	require.NoError(t, s.RefreshTokens.Insert(ctx, &RefreshToken{
		TokenHash: "h1", ClientID: "demo", Subject: "zkid:a", Scopes: "openid",
		ChainCode: "code1", ExpiresAt: exp,
	}))
	require.NoError(t, s.RefreshTokens.Insert(ctx, &RefreshToken{
		TokenHash: "h2", ClientID: "demo", Subject: "zkid:a", Scopes: "openid",
		ChainCode: "code1", RotatedFrom: "h1", ExpiresAt: exp,
	}))
	require.NoError(t, s.RefreshTokens.Insert(ctx, &RefreshToken{
		TokenHash: "h3", ClientID: "demo", Subject: "zkid:a", Scopes: "openid",
		ChainCode: "code2", ExpiresAt: exp,
	}))

	revoked, err := s.RefreshTokens.RevokeChain(ctx, "code1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, revoked)

	t1, err := s.RefreshTokens.LookupByHash(ctx, "h1")
	require.NoError(t, err)
	assert.NotNil(t, t1.RevokedAt)

	t3, err := s.RefreshTokens.LookupByHash(ctx, "h3")
	require.NoError(t, err)
	assert.Nil(t, t3.RevokedAt)
}

func TestProofJobLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := &Proof{
		ProofID:      "prf_1",
		CircuitType:  "age_verification_v1",
		State:        ProofStatePending,
		PublicInputs: `{"threshold":21}`,
		WitnessEnc:   []byte{1, 2, 3},
	}
	require.NoError(t, s.Proofs.Insert(ctx, p))
	assert.ErrorIs(t, s.Proofs.Insert(ctx, &Proof{ProofID: "prf_1", State: ProofStatePending}), ErrDuplicate)

	claimed, err := s.Proofs.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "prf_1", claimed.ProofID)
	assert.Equal(t, ProofStateGenerating, claimed.State)

	// Queue is now empty.
	next, err := s.Proofs.ClaimNextPending(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)

	require.NoError(t, s.Proofs.Complete(ctx, "prf_1", []byte("proofbytes"), []byte("hash"), true))
	got, err := s.Proofs.Get(ctx, "prf_1")
	require.NoError(t, err)
	assert.Equal(t, ProofStateComplete, got.State)
	assert.True(t, got.Verified)
	assert.True(t, got.Terminal())
	assert.Empty(t, got.WitnessEnc, "witness must be cleared on completion")
}

func TestProofReclaimStale(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Proofs.Insert(ctx, &Proof{
		ProofID: "prf_stale", CircuitType: "kyc_verification_v1", State: ProofStatePending,
	}))
	claimed, err := s.Proofs.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Nothing stale yet.
	n, err := s.Proofs.ReclaimStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	// Everything generating is stale at a zero threshold.
	time.Sleep(10 * time.Millisecond)
	n, err = s.Proofs.ReclaimStale(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.Proofs.Get(ctx, "prf_stale")
	require.NoError(t, err)
	assert.Equal(t, ProofStatePending, got.State)
}

func TestIssuerCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	i := &Issuer{
		IssuerID:           "issuer-1",
		Name:               "State Registry",
		PublicKey:          []byte{1, 2, 3},
		PublicKeyAlgorithm: "dilithium3",
		Trusted:            true,
	}
	require.NoError(t, s.Issuers.Create(ctx, i))
	assert.ErrorIs(t, s.Issuers.Create(ctx, &Issuer{IssuerID: "issuer-1"}), ErrDuplicate)

	i.Trusted = false
	i.Name = "State Registry (suspended)"
	require.NoError(t, s.Issuers.Update(ctx, i))

	got, err := s.Issuers.Get(ctx, "issuer-1")
	require.NoError(t, err)
	assert.False(t, got.Trusted)
	assert.Equal(t, "State Registry (suspended)", got.Name)

	require.NoError(t, s.Issuers.Delete(ctx, "issuer-1"))
	assert.ErrorIs(t, s.Issuers.Delete(ctx, "issuer-1"), ErrNotFound)
}

func TestCredentialStorageIsOpaque(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	blob := []byte("nonce-and-ciphertext")
	c := &Credential{
		CredentialID:   "cred-1",
		Subject:        "zkid:a",
		IssuerID:       "issuer-1",
		SchemaID:       "identity/v1",
		CredentialType: "identity",
		EncryptedData:  blob,
		Commitment:     []byte{9, 9, 9},
		IssuedAt:       time.Now().UTC(),
	}
	require.NoError(t, s.Credentials.Insert(ctx, c))
	assert.ErrorIs(t, s.Credentials.Insert(ctx, &Credential{CredentialID: "cred-1"}), ErrDuplicate)

	got, err := s.Credentials.Get(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, blob, got.EncryptedData)
	assert.Nil(t, got.RevokedAt)

	bySubject, err := s.Credentials.ListBySubject(ctx, "zkid:a")
	require.NoError(t, err)
	assert.Len(t, bySubject, 1)

	require.NoError(t, s.Credentials.Revoke(ctx, "cred-1"))
	assert.ErrorIs(t, s.Credentials.Revoke(ctx, "cred-1"), ErrNotFound)

	got, err = s.Credentials.Get(ctx, "cred-1")
	require.NoError(t, err)
	assert.NotNil(t, got.RevokedAt)
}

func TestAuditAppendAndList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, ev := range []string{EventTokenIssued, EventTokenRejected, EventTokenIssued} {
		require.NoError(t, s.Audit.Append(ctx, &AuditEntry{EventType: ev, ClientID: "demo"}))
	}

	all, err := s.Audit.List(ctx, 50, 0, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	// Newest first
	assert.GreaterOrEqual(t, all[0].ID, all[1].ID)

	issued, err := s.Audit.List(ctx, 50, 0, EventTokenIssued)
	require.NoError(t, err)
	assert.Len(t, issued, 2)

	n, err := s.Audit.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestTransactionRollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(tx *Store) error {
		if err := tx.Nullifiers.InsertUnique(ctx, &Nullifier{
			NullifierHash: "bb22", Domain: "rp.test", CircuitType: "age_verification_v1",
		}); err != nil {
			return err
		}
		if err := tx.AuthCodes.Insert(ctx, &AuthCode{
			Code: "txcode", ClientID: "demo", Subject: "zkid:a",
			RedirectURI: "http://rp.test/cb",
			ExpiresAt:   time.Now().UTC().Add(time.Minute),
		}); err != nil {
			return err
		}
		// Duplicate nullifier inside the same transaction aborts everything.
		return tx.Nullifiers.InsertUnique(ctx, &Nullifier{
			NullifierHash: "bb22", Domain: "rp.test", CircuitType: "age_verification_v1",
		})
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	// Neither the nullifier nor the code survived.
	n, err := s.Nullifiers.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	_, err = s.AuthCodes.RedeemOnce(ctx, "txcode")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPaginateClamps(t *testing.T) {
	l, o := Paginate(0, -5)
	assert.Equal(t, 20, l)
	assert.Equal(t, 0, o)

	l, o = Paginate(500, 10)
	assert.Equal(t, 200, l)
	assert.Equal(t, 10, o)
}
