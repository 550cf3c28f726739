package proof

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fantasma-id/fantasma/circuits"
)

// Compiling and setting up the circuits takes a while; share one engine
// across the engine tests.
var sharedEngine *GnarkEngine

func engineForTest(t *testing.T) *GnarkEngine {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping gnark setup in short mode")
	}
	if sharedEngine == nil {
		e, err := NewGnarkEngine()
		require.NoError(t, err)
		sharedEngine = e
	}
	return sharedEngine
}

func TestGnarkEngineProveAndVerify(t *testing.T) {
	e := engineForTest(t)
	ctx := context.Background()

	w, err := circuits.AgeWitness(20000101, 20260210, 21, big.NewInt(777))
	require.NoError(t, err)

	proofBytes, err := e.Prove(ctx, w.CircuitID, w.PublicInputs, w.PrivateInputs)
	require.NoError(t, err)
	assert.NotEmpty(t, proofBytes)

	assert.NoError(t, e.Verify(w.CircuitID, w.PublicInputs, proofBytes))

	// Verification is bound to the public inputs.
	other, err := circuits.AgeWitness(20000101, 20260210, 18, big.NewInt(777))
	require.NoError(t, err)
	assert.Error(t, e.Verify(w.CircuitID, other.PublicInputs, proofBytes))
}

func TestGnarkEngineRejectsUnderage(t *testing.T) {
	e := engineForTest(t)
	ctx := context.Background()

	w, err := circuits.AgeWitness(20100101, 20260210, 21, big.NewInt(5))
	require.NoError(t, err)

	_, err = e.Prove(ctx, w.CircuitID, w.PublicInputs, w.PrivateInputs)
	assert.ErrorIs(t, err, ErrWitnessInvalid)
}

func TestGnarkEngineUnknownCircuit(t *testing.T) {
	e := engineForTest(t)

	_, err := e.Prove(context.Background(), "unicorn_v1", json.RawMessage(`{}`), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrCircuitUnknown)

	err = e.Verify("unicorn_v1", json.RawMessage(`{}`), nil)
	assert.ErrorIs(t, err, ErrCircuitUnknown)
}

func TestGnarkEngineCircuitList(t *testing.T) {
	e := engineForTest(t)
	infos := e.Circuits()
	assert.Len(t, infos, len(circuits.List))

	ids := make(map[string]bool, len(infos))
	for _, ci := range infos {
		ids[ci.ID] = true
	}
	assert.True(t, ids[circuits.AgeVerificationID])
	assert.True(t, ids[circuits.KycVerificationID])
	assert.True(t, ids[circuits.CredentialVerificationID])
}
