// Package proof couples the circuit backend to the durable proving
// pipeline: a registry-backed engine that generates and verifies proofs,
// and an orchestrator that drives asynchronous proving jobs through
// pending → generating → complete|failed.
package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/fantasma-id/fantasma/circuits"
)

// ErrCircuitUnknown is returned for circuit identifiers outside the
// registry.
var ErrCircuitUnknown = errors.New("unknown circuit")

// ErrWitnessInvalid marks a witness the circuit constraints reject; the
// condition is terminal and must not be retried.
var ErrWitnessInvalid = errors.New("witness does not satisfy circuit")

// CircuitInfo is the public description of a registered circuit.
type CircuitInfo struct {
	ID          string `json:"id"`
	Version     uint   `json:"version"`
	Description string `json:"description"`
}

// Engine generates and verifies proofs for registered circuits.
type Engine interface {
	Prove(ctx context.Context, circuitID string, publicInputs, privateInputs json.RawMessage) ([]byte, error)
	Verify(circuitID string, publicInputs json.RawMessage, proofBytes []byte) error
	Circuits() []CircuitInfo
}

// compiledCircuit holds the constraint system with its proving and
// verifying keys.
type compiledCircuit struct {
	info circuits.Info
	cs   constraint.ConstraintSystem
	pk   groth16.ProvingKey
	vk   groth16.VerifyingKey
}

// GnarkEngine proves over BN254 with Groth16. Circuits are compiled and
// set up once at construction.
type GnarkEngine struct {
	mu       sync.RWMutex
	compiled map[string]*compiledCircuit
}

// NewGnarkEngine compiles and sets up every registered circuit.
func NewGnarkEngine() (*GnarkEngine, error) {
	e := &GnarkEngine{compiled: make(map[string]*compiledCircuit, len(circuits.List))}
	for id, info := range circuits.List {
		cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, info.Template)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", id, err)
		}
		pk, vk, err := groth16.Setup(cs)
		if err != nil {
			return nil, fmt.Errorf("setup %s: %w", id, err)
		}
		e.compiled[id] = &compiledCircuit{info: info, cs: cs, pk: pk, vk: vk}
	}
	return e, nil
}

func (e *GnarkEngine) get(circuitID string) (*compiledCircuit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.compiled[circuitID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCircuitUnknown, circuitID)
	}
	return c, nil
}

// Prove parses the inputs, solves the circuit and returns the serialized
// proof. A witness the constraints reject yields ErrWitnessInvalid.
func (e *GnarkEngine) Prove(ctx context.Context, circuitID string, publicInputs, privateInputs json.RawMessage) ([]byte, error) {
	c, err := e.get(circuitID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	assignment, err := c.info.Parser.Parse(publicInputs, privateInputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWitnessInvalid, err)
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWitnessInvalid, err)
	}
	prf, err := groth16.Prove(c.cs, c.pk, witness)
	if err != nil {
		// Groth16 proving fails exactly when the witness does not solve
		// the constraint system.
		return nil, fmt.Errorf("%w: %v", ErrWitnessInvalid, err)
	}

	var buf bytes.Buffer
	if _, err := prf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize proof: %w", err)
	}
	return buf.Bytes(), nil
}

// Verify checks proofBytes against the circuit's verifying key and the
// public inputs.
func (e *GnarkEngine) Verify(circuitID string, publicInputs json.RawMessage, proofBytes []byte) error {
	c, err := e.get(circuitID)
	if err != nil {
		return err
	}

	assignment, err := c.info.Parser.Parse(publicInputs, []byte("{}"))
	if err != nil {
		return fmt.Errorf("parse public input: %w", err)
	}
	pubWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness: %w", err)
	}

	prf := groth16.NewProof(ecc.BN254)
	if _, err := prf.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("parse proof: %w", err)
	}
	if err := groth16.Verify(prf, c.vk, pubWitness); err != nil {
		return fmt.Errorf("proof verification failed: %w", err)
	}
	return nil
}

// Circuits lists the registered circuits.
func (e *GnarkEngine) Circuits() []CircuitInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]CircuitInfo, 0, len(e.compiled))
	for _, c := range e.compiled {
		out = append(out, CircuitInfo{
			ID:          c.info.ID,
			Version:     c.info.Version,
			Description: c.info.Description,
		})
	}
	return out
}
