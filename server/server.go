package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fantasma-id/fantasma/crypto"
	"github.com/fantasma-id/fantasma/oidc"
	"github.com/fantasma-id/fantasma/proof"
	"github.com/fantasma-id/fantasma/store"
)

// ErrStorage wraps fatal storage failures so the CLI can map them to a
// distinct exit code.
var ErrStorage = errors.New("storage error")

// Server carries the immutable handles every endpoint needs.
type Server struct {
	cfg    *Config
	log    Logger
	st     *store.Store
	signer *oidc.Signer
	engine proof.Engine
	orch   *proof.Orchestrator

	// consentKey authenticates the consent form round-trip.
	consentKey [32]byte
	startedAt  time.Time
}

// NewServer wires a Server from explicit handles.
func NewServer(cfg *Config, log Logger, st *store.Store, signer *oidc.Signer, engine proof.Engine, orch *proof.Orchestrator) *Server {
	seed := signer.Key.Seed()
	return &Server{
		cfg:        cfg,
		log:        log,
		st:         st,
		signer:     signer,
		engine:     engine,
		orch:       orch,
		consentKey: crypto.SHA3256(seed[:], []byte("fantasma.consent.v1")),
		startedAt:  time.Now(),
	}
}

// Run starts the authorization server and blocks until shutdown.
func Run(cfg *Config) error {
	logger := SetupLogger(cfg.LogLevel, cfg.LogFormat)

	// Signing key
	ks, err := crypto.NewKeyStore(cfg.SigningKeyPath)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	key, err := ks.LoadOrGenerate(cfg.KeyPassphrase)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	signer := &oidc.Signer{Issuer: cfg.Issuer, Key: key}
	logger.Info("signing key ready", "kid", key.KeyID(), "alg", crypto.AlgMLDSA65)

	// Storage
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("%w: migrate: %v", ErrStorage, err)
	}
	st := store.New(db)

	// Proof engine: compiling the circuits takes a moment.
	logger.Info("compiling circuits")
	engine, err := proof.NewGnarkEngine()
	if err != nil {
		return fmt.Errorf("build proof engine: %w", err)
	}
	logger.Info("circuits ready", "count", len(engine.Circuits()))

	seed := key.Seed()
	orch := proof.NewOrchestrator(proof.OrchestratorConfig{
		Workers:    cfg.ProofWorkers,
		ProofTTL:   cfg.ProofTTL,
		WitnessKey: crypto.SHA3256(seed[:], []byte("fantasma.witness.v1")),
	}, engine, st, logger)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Start(rootCtx)
	defer orch.Stop()

	srv := NewServer(cfg, logger, st, signer, engine, orch)
	go srv.purgeLoop(rootCtx)

	httpServer := &http.Server{
		Addr:           cfg.Bind,
		Handler:        srv.Router(),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Bind, "issuer", cfg.Issuer)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// purgeLoop removes expired auth codes, access tokens and proofs.
func (s *Server) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.st.AuthCodes.PurgeExpired(ctx); err != nil {
				s.log.Warn("purge auth codes", "error", err)
			} else if n > 0 {
				s.log.Debug("purged expired auth codes", "count", n)
			}
			if _, err := s.st.AccessTokens.PurgeExpired(ctx); err != nil {
				s.log.Warn("purge access tokens", "error", err)
			}
			if _, err := s.st.Proofs.PurgeExpired(ctx); err != nil {
				s.log.Warn("purge proofs", "error", err)
			}
		}
	}
}
