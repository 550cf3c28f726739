package proof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fantasma-id/fantasma/circuits"
	"github.com/fantasma-id/fantasma/crypto"
	"github.com/fantasma-id/fantasma/store"
)

// Status is the externally visible state of one proving job.
type Status struct {
	ProofID   string `json:"proof_id"`
	State     string `json:"state"`
	ProofHash []byte `json:"proof_hash,omitempty"`
	Verified  bool   `json:"verified"`
	Error     string `json:"error,omitempty"`
}

// Terminal reports whether the job reached complete or failed.
func (s Status) Terminal() bool {
	return s.State == store.ProofStateComplete || s.State == store.ProofStateFailed
}

// OrchestratorConfig tunes the worker pool.
type OrchestratorConfig struct {
	Workers          int           // bounded pool size
	JobTimeout       time.Duration // per-job hard cap
	ReclaimAfter     time.Duration // generating jobs older than this re-enqueue
	ReclaimInterval  time.Duration
	ProofTTL         time.Duration // expiry recorded on stored proofs
	WitnessKey       [32]byte      // at-rest key for queued private inputs
	StoreRetries     int
	StoreBackoffBase time.Duration
}

func (c *OrchestratorConfig) withDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.ReclaimAfter <= 0 {
		c.ReclaimAfter = 10 * time.Minute
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = time.Minute
	}
	if c.StoreRetries <= 0 {
		c.StoreRetries = 3
	}
	if c.StoreBackoffBase <= 0 {
		c.StoreBackoffBase = 100 * time.Millisecond
	}
}

// Logger is the minimal logging surface the orchestrator needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Orchestrator owns the proving queue. Workers share no state with
// request handlers except through the store.
type Orchestrator struct {
	cfg    OrchestratorConfig
	engine Engine
	st     *store.Store
	log    Logger

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator builds an orchestrator; call Start to launch workers.
func NewOrchestrator(cfg OrchestratorConfig, engine Engine, st *store.Store, log Logger) *Orchestrator {
	cfg.withDefaults()
	return &Orchestrator{
		cfg:    cfg,
		engine: engine,
		st:     st,
		log:    log,
		wake:   make(chan struct{}, 1),
	}
}

// Start launches the worker pool and the reclaim loop.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i)
	}
	o.wg.Add(1)
	go o.reclaimLoop(ctx)
	o.log.Info("proof orchestrator started", "workers", o.cfg.Workers)
}

// Stop cancels the workers and waits for them to drain. In-flight jobs
// run to their terminal state first.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Submit durably records a pending proving job and returns its opaque id.
// The call never blocks on proving.
func (o *Orchestrator) Submit(ctx context.Context, subject string, w Witness) (string, error) {
	if !knownCircuit(o.engine, w.CircuitID) {
		return "", fmt.Errorf("%w: %s", ErrCircuitUnknown, w.CircuitID)
	}

	witnessEnc, err := crypto.EncryptAESGCM(o.cfg.WitnessKey, w.PrivateInputs, []byte(w.CircuitID))
	if err != nil {
		return "", fmt.Errorf("seal witness: %w", err)
	}

	proofID := "prf_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	row := &store.Proof{
		ProofID:      proofID,
		CircuitType:  w.CircuitID,
		State:        store.ProofStatePending,
		PublicInputs: string(w.PublicInputs),
		WitnessEnc:   witnessEnc,
		Subject:      subject,
	}
	if o.cfg.ProofTTL > 0 {
		exp := time.Now().UTC().Add(o.cfg.ProofTTL)
		row.ExpiresAt = &exp
	}
	if err := o.st.Proofs.Insert(ctx, row); err != nil {
		return "", fmt.Errorf("queue proof job: %w", err)
	}
	o.audit(ctx, store.EventProofSubmitted, subject, map[string]any{
		"proof_id": proofID, "circuit": w.CircuitID,
	})

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return proofID, nil
}

// Status returns the current job state; it only ever advances.
func (o *Orchestrator) Status(ctx context.Context, proofID string) (Status, error) {
	row, err := o.st.Proofs.Get(ctx, proofID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		ProofID:   row.ProofID,
		State:     row.State,
		ProofHash: row.ProofHash,
		Verified:  row.Verified,
		Error:     row.Error,
	}, nil
}

// Wait polls until the job is terminal or attempts are exhausted; the
// last observed status is returned either way.
func (o *Orchestrator) Wait(ctx context.Context, proofID string, poll time.Duration, attempts int) (Status, error) {
	var last Status
	for i := 0; i < attempts; i++ {
		st, err := o.Status(ctx, proofID)
		if err != nil {
			return last, err
		}
		last = st
		if st.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(poll):
		}
	}
	return last, nil
}

// Witness aliases the circuit input bundle accepted by Submit.
type Witness = circuits.Witness

// worker claims pending jobs and proves them until the context ends.
func (o *Orchestrator) worker(ctx context.Context, id int) {
	defer o.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		job, err := o.st.Proofs.ClaimNextPending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.log.Warn("claim pending job", "worker", id, "error", err)
		}
		if job != nil {
			o.run(ctx, job)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
		case <-ticker.C:
		}
	}
}

// run drives one claimed job to a terminal state.
func (o *Orchestrator) run(ctx context.Context, job *store.Proof) {
	// The job itself is not cancelled with the request; it gets its own
	// deadline so the result stays durable for reuse.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.JobTimeout)
	defer cancel()

	private, err := crypto.DecryptAESGCM(o.cfg.WitnessKey, job.WitnessEnc, []byte(job.CircuitType))
	if err != nil {
		o.fail(jobCtx, job, fmt.Sprintf("unseal witness: %v", err))
		return
	}

	proofBytes, err := o.engine.Prove(jobCtx, job.CircuitType, json.RawMessage(job.PublicInputs), private)
	if err != nil {
		if errors.Is(err, ErrWitnessInvalid) || errors.Is(err, ErrCircuitUnknown) {
			o.fail(jobCtx, job, err.Error())
			return
		}
		o.fail(jobCtx, job, fmt.Sprintf("prove: %v", err))
		return
	}

	hash := crypto.SHA3256(proofBytes)
	verifyErr := o.engine.Verify(job.CircuitType, json.RawMessage(job.PublicInputs), proofBytes)
	verified := verifyErr == nil

	err = o.withStoreRetry(jobCtx, func() error {
		return o.st.Proofs.Complete(jobCtx, job.ProofID, proofBytes, hash[:], verified)
	})
	if err != nil {
		o.log.Error("persist proof result", "proof_id", job.ProofID, "error", err)
		return
	}

	o.audit(jobCtx, store.EventProofCompleted, job.Subject, map[string]any{
		"proof_id": job.ProofID, "circuit": job.CircuitType, "verified": verified,
	})
	if verified {
		o.audit(jobCtx, store.EventProofVerified, job.Subject, map[string]any{
			"proof_id": job.ProofID,
		})
	} else {
		o.log.Warn("proof failed verification", "proof_id", job.ProofID, "error", verifyErr)
	}
	o.log.Debug("proof job complete", "proof_id", job.ProofID, "verified", verified)
}

func (o *Orchestrator) fail(ctx context.Context, job *store.Proof, msg string) {
	if err := o.withStoreRetry(ctx, func() error {
		return o.st.Proofs.Fail(ctx, job.ProofID, msg)
	}); err != nil {
		o.log.Error("persist proof failure", "proof_id", job.ProofID, "error", err)
		return
	}
	o.audit(ctx, store.EventProofFailed, job.Subject, map[string]any{
		"proof_id": job.ProofID, "circuit": job.CircuitType, "error": msg,
	})
}

// withStoreRetry retries transient store failures with exponential
// backoff and jitter.
func (o *Orchestrator) withStoreRetry(ctx context.Context, fn func() error) error {
	var err error
	backoff := o.cfg.StoreBackoffBase
	for attempt := 0; attempt <= o.cfg.StoreRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff + jitter):
		}
		backoff *= 2
	}
	return err
}

func (o *Orchestrator) reclaimLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := o.st.Proofs.ReclaimStale(ctx, o.cfg.ReclaimAfter)
			if err != nil {
				o.log.Warn("reclaim stale jobs", "error", err)
				continue
			}
			if n > 0 {
				o.log.Info("re-enqueued stale proving jobs", "count", n)
			}
		}
	}
}

func (o *Orchestrator) audit(ctx context.Context, event, subject string, details map[string]any) {
	payload, _ := json.Marshal(details)
	if err := o.st.Audit.Append(ctx, &store.AuditEntry{
		EventType: event,
		Subject:   subject,
		Details:   string(payload),
	}); err != nil {
		o.log.Warn("audit append failed", "event", event, "error", err)
	}
}

func knownCircuit(e Engine, id string) bool {
	for _, c := range e.Circuits() {
		if c.ID == id {
			return true
		}
	}
	return false
}
