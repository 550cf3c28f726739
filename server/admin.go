package server

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fantasma-id/fantasma/crypto"
	"github.com/fantasma-id/fantasma/store"
)

// adminError is the admin error envelope: {"error": ..., "message": ...}.
type adminError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondAdminError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, adminError{Error: code, Message: message})
}

// adminAuth gates the admin surface on the X-Admin-Key header, compared
// in constant time. An unset key disables the surface entirely.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminKey == "" {
			respondAdminError(w, http.StatusServiceUnavailable, "admin_disabled", "no admin key is configured")
			return
		}
		provided := r.Header.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminKey)) != 1 {
			s.audit(r, store.EventAdminAuthFailed, "", "", map[string]any{"path": r.URL.Path})
			respondAdminError(w, http.StatusUnauthorized, "unauthorized", "invalid admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// paginatedResponse is the shared listing envelope.
type paginatedResponse[T any] struct {
	Data   []T   `json:"data"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

func paginationFrom(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return store.Paginate(limit, offset)
}

// ── Stats and health ────────────────────────────────────────────

type adminStats struct {
	Clients      int64 `json:"clients"`
	Proofs       int64 `json:"proofs"`
	Nullifiers   int64 `json:"nullifiers"`
	Issuers      int64 `json:"issuers"`
	AuditEntries int64 `json:"audit_entries"`
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clients, err := s.st.Clients.Count(ctx)
	if err != nil {
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	proofs, err := s.st.Proofs.Count(ctx)
	if err != nil {
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	nullifiers, err := s.st.Nullifiers.Count(ctx)
	if err != nil {
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	issuers, err := s.st.Issuers.Count(ctx)
	if err != nil {
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	audit, err := s.st.Audit.Count(ctx)
	if err != nil {
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, adminStats{
		Clients:      clients,
		Proofs:       proofs,
		Nullifiers:   nullifiers,
		Issuers:      issuers,
		AuditEntries: audit,
	})
}

type detailedHealth struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Database      struct {
		Connected bool  `json:"connected"`
		OpenConns int   `json:"open_connections"`
		InUse     int   `json:"in_use"`
		Idle      int   `json:"idle"`
		WaitCount int64 `json:"wait_count"`
	} `json:"database"`
}

func (s *Server) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	out := detailedHealth{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if sqlDB, err := s.st.DB().DB(); err == nil {
		if pingErr := sqlDB.PingContext(r.Context()); pingErr == nil {
			out.Database.Connected = true
		} else {
			out.Status = "degraded"
		}
		stats := sqlDB.Stats()
		out.Database.OpenConns = stats.OpenConnections
		out.Database.InUse = stats.InUse
		out.Database.Idle = stats.Idle
		out.Database.WaitCount = stats.WaitCount
	} else {
		out.Status = "degraded"
	}
	respondJSON(w, http.StatusOK, out)
}

// ── Clients ─────────────────────────────────────────────────────

func (s *Server) handleAdminListClients(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationFrom(r)
	data, err := s.st.Clients.List(r.Context(), limit, offset)
	if err != nil {
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	total, err := s.st.Clients.Count(r.Context())
	if err != nil {
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, paginatedResponse[store.Client]{
		Data: data, Total: total, Limit: limit, Offset: offset,
	})
}

type createClientRequest struct {
	ClientID      string   `json:"client_id"`
	ClientName    string   `json:"client_name"`
	RedirectURIs  []string `json:"redirect_uris"`
	AllowedScopes []string `json:"allowed_scopes"`
	ClientType    string   `json:"client_type"`
}

type createClientResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"` // returned once
}

func (s *Server) handleAdminCreateClient(w http.ResponseWriter, r *http.Request) {
	var body createClientRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondAdminError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if body.ClientID == "" || len(body.RedirectURIs) == 0 {
		respondAdminError(w, http.StatusBadRequest, "invalid_body", "client_id and redirect_uris are required")
		return
	}
	for _, uri := range body.RedirectURIs {
		if !absoluteURI(uri) {
			respondAdminError(w, http.StatusBadRequest, "invalid_body", "redirect_uris entries must be absolute URIs with a scheme")
			return
		}
	}
	clientType := body.ClientType
	if clientType == "" {
		clientType = store.ClientTypeConfidential
	}
	if clientType != store.ClientTypePublic && clientType != store.ClientTypeConfidential {
		respondAdminError(w, http.StatusBadRequest, "invalid_body", "client_type must be public or confidential")
		return
	}

	client := &store.Client{
		ClientID:      body.ClientID,
		ClientName:    body.ClientName,
		RedirectURIs:  strings.Join(body.RedirectURIs, " "),
		AllowedScopes: strings.Join(body.AllowedScopes, " "),
		ClientType:    clientType,
	}

	var secret string
	if clientType == store.ClientTypeConfidential {
		secret = randomToken(32)
		hash, err := crypto.HashClientSecret(secret)
		if err != nil {
			respondAdminError(w, http.StatusInternalServerError, "server_error", "secret hashing failed")
			return
		}
		client.ClientSecretHash = hash
	}

	if err := s.st.Clients.Create(r.Context(), client); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			respondAdminError(w, http.StatusConflict, "duplicate", "client_id already registered")
			return
		}
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	s.audit(r, store.EventClientRegistered, body.ClientID, "", map[string]any{"client_type": clientType})
	respondJSON(w, http.StatusCreated, createClientResponse{ClientID: body.ClientID, ClientSecret: secret})
}

func (s *Server) handleAdminDeleteClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	if err := s.st.Clients.Delete(r.Context(), clientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondAdminError(w, http.StatusNotFound, "not_found", "no such client")
			return
		}
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	s.audit(r, store.EventClientDeleted, clientID, "", nil)
	w.WriteHeader(http.StatusNoContent)
}

// ── Issuers ─────────────────────────────────────────────────────

type issuerRequest struct {
	IssuerID           string `json:"issuer_id"`
	Name               string `json:"name"`
	PublicKey          string `json:"public_key"` // hex
	PublicKeyAlgorithm string `json:"public_key_algorithm"`
	VerificationURL    string `json:"verification_url"`
	Trusted            bool   `json:"trusted"`
}

func (req *issuerRequest) toModel() (*store.Issuer, string) {
	if req.IssuerID == "" {
		return nil, "issuer_id is required"
	}
	switch req.PublicKeyAlgorithm {
	case "dilithium3", "ed25519":
	default:
		return nil, "public_key_algorithm must be dilithium3 or ed25519"
	}
	pk, err := hex.DecodeString(req.PublicKey)
	if err != nil {
		return nil, "public_key must be hex-encoded"
	}
	return &store.Issuer{
		IssuerID:           req.IssuerID,
		Name:               req.Name,
		PublicKey:          pk,
		PublicKeyAlgorithm: req.PublicKeyAlgorithm,
		VerificationURL:    req.VerificationURL,
		Trusted:            req.Trusted,
	}, ""
}

func (s *Server) handleAdminListIssuers(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationFrom(r)
	data, err := s.st.Issuers.List(r.Context(), limit, offset)
	if err != nil {
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	total, err := s.st.Issuers.Count(r.Context())
	if err != nil {
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, paginatedResponse[store.Issuer]{
		Data: data, Total: total, Limit: limit, Offset: offset,
	})
}

func (s *Server) handleAdminCreateIssuer(w http.ResponseWriter, r *http.Request) {
	var body issuerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondAdminError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	issuer, msg := body.toModel()
	if msg != "" {
		respondAdminError(w, http.StatusBadRequest, "invalid_body", msg)
		return
	}
	if err := s.st.Issuers.Create(r.Context(), issuer); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			respondAdminError(w, http.StatusConflict, "duplicate", "issuer_id already registered")
			return
		}
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	s.audit(r, store.EventIssuerCreated, "", "", map[string]any{"issuer_id": issuer.IssuerID})
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleAdminUpdateIssuer(w http.ResponseWriter, r *http.Request) {
	var body issuerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondAdminError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	body.IssuerID = chi.URLParam(r, "issuerID")
	issuer, msg := body.toModel()
	if msg != "" {
		respondAdminError(w, http.StatusBadRequest, "invalid_body", msg)
		return
	}
	if err := s.st.Issuers.Update(r.Context(), issuer); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondAdminError(w, http.StatusNotFound, "not_found", "no such issuer")
			return
		}
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	s.audit(r, store.EventIssuerUpdated, "", "", map[string]any{"issuer_id": issuer.IssuerID})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminDeleteIssuer(w http.ResponseWriter, r *http.Request) {
	issuerID := chi.URLParam(r, "issuerID")
	if err := s.st.Issuers.Delete(r.Context(), issuerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondAdminError(w, http.StatusNotFound, "not_found", "no such issuer")
			return
		}
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	s.audit(r, store.EventIssuerDeleted, "", "", map[string]any{"issuer_id": issuerID})
	w.WriteHeader(http.StatusNoContent)
}

// ── Proofs and audit (read-only) ────────────────────────────────

func (s *Server) handleAdminListProofs(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationFrom(r)
	data, err := s.st.Proofs.List(r.Context(), limit, offset, r.URL.Query().Get("circuit_type"))
	if err != nil {
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	total, err := s.st.Proofs.Count(r.Context())
	if err != nil {
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, paginatedResponse[store.Proof]{
		Data: data, Total: total, Limit: limit, Offset: offset,
	})
}

func (s *Server) handleAdminListAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationFrom(r)
	data, err := s.st.Audit.List(r.Context(), limit, offset, r.URL.Query().Get("event_type"))
	if err != nil {
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	total, err := s.st.Audit.Count(r.Context())
	if err != nil {
		respondAdminError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, paginatedResponse[store.AuditEntry]{
		Data: data, Total: total, Limit: limit, Offset: offset,
	})
}

// absoluteURI reports whether s parses as an absolute URI with a scheme.
func absoluteURI(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.IsAbs() && u.Host != ""
}
