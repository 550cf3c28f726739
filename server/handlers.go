package server

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fantasma-id/fantasma/circuits"
	"github.com/fantasma-id/fantasma/crypto"
	"github.com/fantasma-id/fantasma/oidc"
	"github.com/fantasma-id/fantasma/store"
)

// ==== Shared helpers ====

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// respondOAuthError writes the OAuth error envelope.
func respondOAuthError(w http.ResponseWriter, status int, oe *oidc.Error) {
	respondJSON(w, status, oe)
}

// redirectError sends the user agent back to the client with error and
// preserved state.
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state string, oe *oidc.Error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect", http.StatusBadRequest)
		return
	}
	q := u.Query()
	q.Set("error", oe.Code)
	if oe.Description != "" {
		q.Set("error_description", oe.Description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// redirectCode completes a successful authorization.
func redirectCode(w http.ResponseWriter, r *http.Request, redirectURI, code, state string) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect", http.StatusBadRequest)
		return
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// randomToken returns n random bytes base64url-encoded without padding.
func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// tokenHash is the at-rest form of opaque access and refresh tokens.
func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// audit appends an entry with request context; failures are logged only.
func (s *Server) audit(r *http.Request, event, clientID, subject string, details map[string]any) {
	var payload string
	if details != nil {
		b, _ := json.Marshal(details)
		payload = string(b)
	}
	entry := &store.AuditEntry{
		EventType: event,
		ClientID:  clientID,
		Subject:   subject,
		Details:   payload,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
	if err := s.st.Audit.Append(r.Context(), entry); err != nil {
		s.log.Warn("audit append failed", "event", event, "error", err)
	}
}

// todayYYYYMMDD returns the current UTC date as a circuit-friendly int.
func todayYYYYMMDD() int {
	now := time.Now().UTC()
	return now.Year()*10000 + int(now.Month())*100 + now.Day()
}

// ==== Discovery, keys, health ====

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	metas := make([]oidc.CircuitMetadata, 0)
	for _, c := range s.engine.Circuits() {
		metas = append(metas, oidc.CircuitMetadata{
			ID:          c.ID,
			Version:     c.Version,
			Description: c.Description,
		})
	}
	respondJSON(w, http.StatusOK, oidc.NewDiscoveryDocument(s.cfg.Issuer, metas))
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	respondJSON(w, http.StatusOK, s.signer.JWKS())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// CircuitListResponse mirrors the /circuits payload.
type CircuitListResponse struct {
	Circuits []oidc.CircuitMetadata `json:"circuits"`
	Count    int                    `json:"count"`
}

func (s *Server) handleListCircuits(w http.ResponseWriter, r *http.Request) {
	metas := make([]oidc.CircuitMetadata, 0)
	for _, c := range s.engine.Circuits() {
		metas = append(metas, oidc.CircuitMetadata{ID: c.ID, Version: c.Version, Description: c.Description})
	}
	respondJSON(w, http.StatusOK, CircuitListResponse{Circuits: metas, Count: len(metas)})
}

// ==== Authorization endpoint ====

type authorizeParams struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

func authorizeParamsFrom(get func(string) string) authorizeParams {
	return authorizeParams{
		ResponseType:        get("response_type"),
		ClientID:            get("client_id"),
		RedirectURI:         get("redirect_uri"),
		Scope:               get("scope"),
		State:               get("state"),
		Nonce:               get("nonce"),
		CodeChallenge:       get("code_challenge"),
		CodeChallengeMethod: get("code_challenge_method"),
	}
}

// validateClientRedirect resolves the client and checks the redirect URI.
// Failures here must never redirect.
func (s *Server) validateClientRedirect(r *http.Request, p authorizeParams) (*store.Client, *oidc.Error) {
	if p.ClientID == "" || p.RedirectURI == "" {
		return nil, oidc.NewError(oidc.ErrInvalidRequest, "client_id and redirect_uri are required")
	}
	client, err := s.st.Clients.GetByClientID(r.Context(), p.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, oidc.NewError(oidc.ErrInvalidClient, "unknown client %q", p.ClientID)
	}
	if err != nil {
		return nil, oidc.NewError(oidc.ErrServerError, "client lookup failed")
	}
	if !client.HasRedirectURI(p.RedirectURI) {
		return nil, oidc.NewError(oidc.ErrInvalidRequest, "redirect_uri is not registered for this client")
	}
	return client, nil
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	p := authorizeParamsFrom(r.URL.Query().Get)

	client, oe := s.validateClientRedirect(r, p)
	if oe != nil {
		s.audit(r, store.EventAuthorizeError, p.ClientID, "", map[string]any{"error": oe.Code})
		s.renderErrorPage(w, http.StatusBadRequest, oe)
		return
	}

	if p.ResponseType != "code" {
		redirectError(w, r, p.RedirectURI, p.State,
			oidc.NewError("unsupported_response_type", "only the code response type is supported"))
		return
	}

	// No SSO session exists, so silent re-authentication cannot succeed.
	if r.URL.Query().Get("prompt") == "none" || r.URL.Query().Get("max_age") != "" {
		redirectError(w, r, p.RedirectURI, p.State,
			oidc.NewError(oidc.ErrLoginRequired, "interactive consent is always required"))
		return
	}

	claims, err := oidc.ResolveScopes(p.Scope, client.AllowedScopeList())
	if err != nil {
		var soe *oidc.Error
		if !errors.As(err, &soe) {
			soe = oidc.NewError(oidc.ErrServerError, "scope resolution failed")
		}
		s.audit(r, store.EventAuthorizeError, p.ClientID, "", map[string]any{"error": soe.Code, "scope": p.Scope})
		redirectError(w, r, p.RedirectURI, p.State, soe)
		return
	}

	if oe := validatePKCEParams(client, p); oe != nil {
		redirectError(w, r, p.RedirectURI, p.State, oe)
		return
	}

	s.renderConsentPage(w, r, client, p, claims)
}

// validatePKCEParams enforces challenge requirements at /authorize time.
func validatePKCEParams(client *store.Client, p authorizeParams) *oidc.Error {
	switch p.CodeChallengeMethod {
	case "", "S256", "plain":
	default:
		return oidc.NewError(oidc.ErrInvalidRequest, "unsupported code_challenge_method %q", p.CodeChallengeMethod)
	}
	if p.CodeChallengeMethod != "" && p.CodeChallenge == "" {
		return oidc.NewError(oidc.ErrInvalidRequest, "code_challenge_method without code_challenge")
	}
	if !client.Confidential() && p.CodeChallenge == "" {
		return oidc.NewError(oidc.ErrInvalidRequest, "public clients must use PKCE")
	}
	return nil
}

// ==== Consent endpoint ====

// consentClaimPayload is the wallet-supplied witness material for one
// claim, carried in the zk_witness form field as JSON.
type consentClaimPayload struct {
	Nullifier  string          `json:"nullifier"`  // hex, 32 bytes
	Commitment string          `json:"commitment"` // hex field element
	Type       string          `json:"type,omitempty"`
	Private    json.RawMessage `json:"private"`
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderErrorPage(w, http.StatusBadRequest, oidc.NewError(oidc.ErrInvalidRequest, "malformed form body"))
		return
	}
	p := authorizeParamsFrom(r.PostForm.Get)

	client, oe := s.validateClientRedirect(r, p)
	if oe != nil {
		s.renderErrorPage(w, http.StatusBadRequest, oe)
		return
	}

	if !s.validConsentToken(r.PostForm.Get("consent_token"), p.ClientID) {
		redirectError(w, r, p.RedirectURI, p.State,
			oidc.NewError(oidc.ErrInvalidRequest, "consent expired, restart the authorization flow"))
		return
	}

	if r.PostForm.Get("action") != "approve" {
		s.audit(r, store.EventAuthorizeDenied, p.ClientID, "", nil)
		redirectError(w, r, p.RedirectURI, p.State,
			oidc.NewError(oidc.ErrAccessDenied, "the user denied the request"))
		return
	}

	subject := r.PostForm.Get("subject")
	if !crypto.ValidSubject(subject, s.cfg.PseudonymHexLen) {
		redirectError(w, r, p.RedirectURI, p.State,
			oidc.NewError(oidc.ErrInvalidRequest, "subject does not match the pseudonym grammar"))
		return
	}

	claims, err := oidc.ResolveScopes(p.Scope, client.AllowedScopeList())
	if err != nil {
		var soe *oidc.Error
		if !errors.As(err, &soe) {
			soe = oidc.NewError(oidc.ErrServerError, "scope resolution failed")
		}
		redirectError(w, r, p.RedirectURI, p.State, soe)
		return
	}

	domain, err := crypto.RegistrableDomain(p.RedirectURI)
	if err != nil {
		redirectError(w, r, p.RedirectURI, p.State,
			oidc.NewError(oidc.ErrInvalidRequest, "redirect_uri has no usable domain"))
		return
	}

	var witnessData map[string]consentClaimPayload
	if len(claims) > 0 {
		if err := json.Unmarshal([]byte(r.PostForm.Get("zk_witness")), &witnessData); err != nil {
			redirectError(w, r, p.RedirectURI, p.State,
				oidc.NewError(oidc.ErrInvalidRequest, "zk_witness is not valid JSON"))
			return
		}
	}

	zkClaims, nullifiers, oe := s.runProofPipeline(r, subject, domain, claims, witnessData)
	if oe != nil {
		s.audit(r, store.EventAuthorizeError, p.ClientID, subject, map[string]any{
			"error": oe.Code, "description": oe.Description,
		})
		redirectError(w, r, p.RedirectURI, p.State, oe)
		return
	}

	code := randomToken(32)
	zkJSON, err := json.Marshal(zkClaims)
	if err != nil {
		redirectError(w, r, p.RedirectURI, p.State, oidc.NewError(oidc.ErrServerError, "claims snapshot failed"))
		return
	}

	// All proofs verified: record the nullifiers and mint the code in one
	// transaction so replay can never mint a code.
	txErr := s.st.Transaction(r.Context(), func(tx *store.Store) error {
		for _, n := range nullifiers {
			if err := tx.Nullifiers.InsertUnique(r.Context(), n); err != nil {
				return err
			}
		}
		return tx.AuthCodes.Insert(r.Context(), &store.AuthCode{
			Code:                code,
			ClientID:            client.ClientID,
			Subject:             subject,
			RedirectURI:         p.RedirectURI,
			Scopes:              p.Scope,
			Nonce:               p.Nonce,
			State:               p.State,
			CodeChallenge:       p.CodeChallenge,
			CodeChallengeMethod: p.CodeChallengeMethod,
			ZkClaims:            string(zkJSON),
			ExpiresAt:           time.Now().UTC().Add(s.cfg.AuthCodeTTL),
		})
	})
	if txErr != nil {
		if errors.Is(txErr, store.ErrDuplicate) {
			s.audit(r, store.EventReplayDetected, client.ClientID, subject, map[string]any{"domain": domain})
			redirectError(w, r, p.RedirectURI, p.State, oidc.ReplayDetected())
			return
		}
		s.log.Error("authorization transaction failed", "error", txErr)
		redirectError(w, r, p.RedirectURI, p.State, oidc.NewError(oidc.ErrServerError, "authorization could not be completed"))
		return
	}

	for _, n := range nullifiers {
		s.audit(r, store.EventNullifierRecorded, client.ClientID, subject, map[string]any{
			"domain": n.Domain, "circuit": n.CircuitType,
		})
	}
	s.audit(r, store.EventAuthorizeGranted, client.ClientID, subject, map[string]any{"scope": p.Scope})
	redirectCode(w, r, p.RedirectURI, code, p.State)
}

// witnessInvalidMarker distinguishes an unsatisfiable predicate from a
// pipeline failure when mapping a failed job to an OAuth error.
const witnessInvalidMarker = "witness does not satisfy"

// runProofPipeline submits one proving job per claim, waits for the
// results and assembles the zk_claims snapshot plus the nullifier rows.
func (s *Server) runProofPipeline(
	r *http.Request,
	subject, domain string,
	claims []oidc.ClaimRequest,
	witnessData map[string]consentClaimPayload,
) (oidc.ZkClaims, []*store.Nullifier, *oidc.Error) {
	ctx := r.Context()
	zk := make(oidc.ZkClaims, len(claims))
	var nullifiers []*store.Nullifier

	type submitted struct {
		claim   oidc.ClaimRequest
		proofID string
	}
	var jobs []submitted

	for _, claim := range claims {
		payload, ok := witnessData[claim.Key()]
		if !ok {
			return nil, nil, oidc.NewError(oidc.ErrInvalidRequest, "missing witness for claim %q", claim.Key())
		}

		nullifierBytes, err := hex.DecodeString(strings.TrimPrefix(payload.Nullifier, "0x"))
		if err != nil || len(nullifierBytes) != 32 {
			return nil, nil, oidc.NewError(oidc.ErrInvalidRequest, "claim %q carries a malformed nullifier", claim.Key())
		}
		var nf [32]byte
		copy(nf[:], nullifierBytes)
		nh := crypto.NullifierHash(nf)
		nullifiers = append(nullifiers, &store.Nullifier{
			NullifierHash: hex.EncodeToString(nh[:]),
			Domain:        domain,
			CircuitType:   claim.CircuitID,
		})

		pub, oe := publicInputsFor(claim, payload)
		if oe != nil {
			return nil, nil, oe
		}

		proofID, err := s.orch.Submit(ctx, subject, circuits.Witness{
			CircuitID:     claim.CircuitID,
			PublicInputs:  pub,
			PrivateInputs: payload.Private,
		})
		if err != nil {
			return nil, nil, oidc.NewError(oidc.ErrTemporarilyUnavailable, "proving backend unavailable")
		}
		jobs = append(jobs, submitted{claim: claim, proofID: proofID})
	}

	poll := 250 * time.Millisecond
	attempts := int(s.cfg.ProofWait/poll) + 1

	for _, job := range jobs {
		status, err := s.orch.Wait(ctx, job.proofID, poll, attempts)
		if err != nil {
			return nil, nil, oidc.NewError(oidc.ErrServerError, "proof status unavailable")
		}
		switch {
		case !status.Terminal():
			return nil, nil, oidc.NewError(oidc.ErrInvalidRequest, "proof generation timed out for claim %q", job.claim.Key())
		case status.State == store.ProofStateFailed && strings.Contains(status.Error, witnessInvalidMarker):
			return nil, nil, oidc.NewError(oidc.ErrAccessDenied, "the credential does not satisfy claim %q", job.claim.Key())
		case status.State == store.ProofStateFailed:
			return nil, nil, oidc.NewError(oidc.ErrInvalidRequest, "proof generation failed for claim %q", job.claim.Key())
		case !status.Verified:
			return nil, nil, oidc.NewError(oidc.ErrInvalidRequest, "proof for claim %q could not be verified", job.claim.Key())
		}

		zk[job.claim.Key()] = oidc.ZkClaim{
			Satisfied:  true,
			Parameters: job.claim.Parameters,
			ProofRef: oidc.ProofRef{
				ID:        job.proofID,
				Hash:      hex.EncodeToString(status.ProofHash),
				CircuitID: job.claim.CircuitID,
			},
			VerifiedAt: time.Now().UTC().Unix(),
		}
	}
	return zk, nullifiers, nil
}

// publicInputsFor derives the circuit public inputs from the resolved
// claim and the wallet-supplied commitment.
func publicInputsFor(claim oidc.ClaimRequest, payload consentClaimPayload) (json.RawMessage, *oidc.Error) {
	if payload.Commitment == "" {
		return nil, oidc.NewError(oidc.ErrInvalidRequest, "claim %q is missing its commitment", claim.Key())
	}
	var pub map[string]any
	switch claim.Kind {
	case oidc.ClaimAgeAtLeast:
		pub = map[string]any{
			"threshold":    claim.Parameters["threshold"],
			"current_date": todayYYYYMMDD(),
			"commitment":   payload.Commitment,
		}
	case oidc.ClaimKycStatus:
		pub = map[string]any{
			"required_level": claim.Parameters["level"],
			"commitment":     payload.Commitment,
		}
	case oidc.ClaimHoldsCredential:
		typeName, _ := claim.Parameters["type"].(string)
		if typeName == "" {
			typeName = payload.Type
		}
		code, ok := circuits.CredentialTypeCode(typeName)
		if !ok {
			return nil, oidc.NewError(oidc.ErrInvalidRequest, "unknown credential type %q", typeName)
		}
		pub = map[string]any{
			"type_code":  code,
			"commitment": payload.Commitment,
		}
	default:
		return nil, oidc.NewError(oidc.ErrServerError, "unhandled claim kind %q", claim.Kind)
	}
	b, err := json.Marshal(pub)
	if err != nil {
		return nil, oidc.NewError(oidc.ErrServerError, "public input encoding failed")
	}
	return b, nil
}

// ==== Token endpoint ====

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondOAuthError(w, http.StatusBadRequest, oidc.NewError(oidc.ErrInvalidRequest, "malformed form body"))
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	client, oe := s.authenticateClient(r)
	if oe != nil {
		s.audit(r, store.EventTokenRejected, r.PostForm.Get("client_id"), "", map[string]any{"error": oe.Code})
		status := http.StatusBadRequest
		if oe.Code == oidc.ErrInvalidClient {
			status = http.StatusUnauthorized
			w.Header().Set("WWW-Authenticate", `Basic realm="fantasma"`)
		}
		respondOAuthError(w, status, oe)
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.tokenFromAuthCode(w, r, client)
	case "refresh_token":
		s.tokenFromRefreshToken(w, r, client)
	default:
		s.audit(r, store.EventTokenRejected, client.ClientID, "", map[string]any{"error": oidc.ErrUnsupportedGrantType})
		respondOAuthError(w, http.StatusBadRequest,
			oidc.NewError(oidc.ErrUnsupportedGrantType, "grant_type must be authorization_code or refresh_token"))
	}
}

// authenticateClient resolves the caller from Basic auth or form fields
// and verifies confidential client secrets in constant time.
func (s *Server) authenticateClient(r *http.Request) (*store.Client, *oidc.Error) {
	clientID := r.PostForm.Get("client_id")
	clientSecret := r.PostForm.Get("client_secret")
	if id, secret, ok := r.BasicAuth(); ok {
		clientID, clientSecret = id, secret
	}
	if clientID == "" {
		return nil, oidc.NewError(oidc.ErrInvalidClient, "client authentication required")
	}

	client, err := s.st.Clients.GetByClientID(r.Context(), clientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, oidc.NewError(oidc.ErrInvalidClient, "unknown client")
	}
	if err != nil {
		return nil, oidc.NewError(oidc.ErrServerError, "client lookup failed")
	}

	if client.Confidential() {
		if clientSecret == "" || !crypto.VerifyClientSecret(clientSecret, client.ClientSecretHash) {
			return nil, oidc.NewError(oidc.ErrInvalidClient, "client authentication failed")
		}
	}
	return client, nil
}

func (s *Server) tokenFromAuthCode(w http.ResponseWriter, r *http.Request, client *store.Client) {
	code := r.PostForm.Get("code")
	if code == "" {
		respondOAuthError(w, http.StatusBadRequest, oidc.NewError(oidc.ErrInvalidRequest, "code is required"))
		return
	}

	ac, err := s.st.AuthCodes.RedeemOnce(r.Context(), code)
	switch {
	case errors.Is(err, store.ErrAlreadyUsed):
		// Code replay: kill every token issued from this code.
		if n, revErr := s.st.RefreshTokens.RevokeChain(r.Context(), code); revErr == nil && n > 0 {
			s.log.Warn("auth code replay revoked token chain", "client_id", client.ClientID, "revoked", n)
		}
		s.audit(r, store.EventTokenRejected, client.ClientID, "", map[string]any{"error": "code_reuse"})
		respondOAuthError(w, http.StatusBadRequest, oidc.NewError(oidc.ErrInvalidGrant, "authorization code already used"))
		return
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrExpired):
		s.audit(r, store.EventTokenRejected, client.ClientID, "", map[string]any{"error": "bad_code"})
		respondOAuthError(w, http.StatusBadRequest, oidc.NewError(oidc.ErrInvalidGrant, "invalid or expired authorization code"))
		return
	case err != nil:
		respondOAuthError(w, http.StatusInternalServerError, oidc.NewError(oidc.ErrServerError, "code redemption failed"))
		return
	}

	if ac.ClientID != client.ClientID {
		s.audit(r, store.EventTokenRejected, client.ClientID, "", map[string]any{"error": "client_mismatch"})
		respondOAuthError(w, http.StatusBadRequest, oidc.NewError(oidc.ErrInvalidGrant, "authorization code was issued to another client"))
		return
	}
	if r.PostForm.Get("redirect_uri") != ac.RedirectURI {
		respondOAuthError(w, http.StatusBadRequest, oidc.NewError(oidc.ErrInvalidGrant, "redirect_uri does not match the authorization request"))
		return
	}
	if oe := verifyPKCE(ac, client, r.PostForm.Get("code_verifier")); oe != nil {
		s.audit(r, store.EventTokenRejected, client.ClientID, "", map[string]any{"error": "pkce"})
		respondOAuthError(w, http.StatusBadRequest, oe)
		return
	}

	var zk oidc.ZkClaims
	if ac.ZkClaims != "" {
		if err := json.Unmarshal([]byte(ac.ZkClaims), &zk); err != nil {
			respondOAuthError(w, http.StatusInternalServerError, oidc.NewError(oidc.ErrServerError, "claims snapshot unreadable"))
			return
		}
	}

	idToken, err := s.signer.IDToken(client.ClientID, ac.Subject, ac.Nonce, zk, ac.CreatedAt, s.cfg.AccessTokenTTL)
	if err != nil {
		respondOAuthError(w, http.StatusInternalServerError, oidc.NewError(oidc.ErrServerError, "token signing failed"))
		return
	}

	resp, err := s.issueTokens(r, client, ac.Subject, ac.Scopes, code, idToken)
	if err != nil {
		respondOAuthError(w, http.StatusInternalServerError, oidc.NewError(oidc.ErrServerError, "token persistence failed"))
		return
	}

	s.audit(r, store.EventTokenIssued, client.ClientID, ac.Subject, map[string]any{"scope": ac.Scopes})
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) tokenFromRefreshToken(w http.ResponseWriter, r *http.Request, client *store.Client) {
	raw := r.PostForm.Get("refresh_token")
	if raw == "" {
		respondOAuthError(w, http.StatusBadRequest, oidc.NewError(oidc.ErrInvalidRequest, "refresh_token is required"))
		return
	}

	rt, err := s.st.RefreshTokens.LookupByHash(r.Context(), tokenHash(raw))
	if errors.Is(err, store.ErrNotFound) {
		respondOAuthError(w, http.StatusBadRequest, oidc.NewError(oidc.ErrInvalidGrant, "unknown refresh token"))
		return
	}
	if err != nil {
		respondOAuthError(w, http.StatusInternalServerError, oidc.NewError(oidc.ErrServerError, "refresh token lookup failed"))
		return
	}

	if rt.RevokedAt != nil {
		// Reuse of a rotated token burns the whole chain.
		if n, revErr := s.st.RefreshTokens.RevokeChain(r.Context(), rt.ChainCode); revErr == nil {
			s.log.Warn("refresh token reuse revoked chain", "client_id", client.ClientID, "revoked", n)
		}
		s.audit(r, store.EventTokenRejected, client.ClientID, rt.Subject, map[string]any{"error": "refresh_reuse"})
		respondOAuthError(w, http.StatusBadRequest, oidc.NewError(oidc.ErrInvalidGrant, "refresh token has been revoked"))
		return
	}
	if time.Now().UTC().After(rt.ExpiresAt) {
		respondOAuthError(w, http.StatusBadRequest, oidc.NewError(oidc.ErrInvalidGrant, "refresh token expired"))
		return
	}
	if rt.ClientID != client.ClientID {
		respondOAuthError(w, http.StatusBadRequest, oidc.NewError(oidc.ErrInvalidGrant, "refresh token was issued to another client"))
		return
	}

	// Scope narrowing only: the new grant can never exceed the original.
	scopes := rt.Scopes
	if requested := r.PostForm.Get("scope"); requested != "" {
		granted := make(map[string]bool)
		for _, sc := range rt.ScopeList() {
			granted[sc] = true
		}
		for _, sc := range strings.Fields(requested) {
			if !granted[sc] {
				respondOAuthError(w, http.StatusBadRequest,
					oidc.NewError(oidc.ErrInvalidScope, "scope %q exceeds the original grant", sc))
				return
			}
		}
		scopes = requested
	}

	if err := s.st.RefreshTokens.Revoke(r.Context(), rt.TokenHash); err != nil {
		respondOAuthError(w, http.StatusInternalServerError, oidc.NewError(oidc.ErrServerError, "token rotation failed"))
		return
	}

	idToken, err := s.signer.IDToken(client.ClientID, rt.Subject, "", nil, time.Now(), s.cfg.AccessTokenTTL)
	if err != nil {
		respondOAuthError(w, http.StatusInternalServerError, oidc.NewError(oidc.ErrServerError, "token signing failed"))
		return
	}

	resp, err := s.issueTokensRotated(r, client, rt, scopes, idToken)
	if err != nil {
		respondOAuthError(w, http.StatusInternalServerError, oidc.NewError(oidc.ErrServerError, "token persistence failed"))
		return
	}

	s.audit(r, store.EventTokenRefreshed, client.ClientID, rt.Subject, map[string]any{"scope": scopes})
	respondJSON(w, http.StatusOK, resp)
}

// issueTokens mints the opaque access and refresh tokens for a fresh
// authorization-code grant.
func (s *Server) issueTokens(r *http.Request, client *store.Client, subject, scopes, chainCode, idToken string) (*oidc.TokenResponse, error) {
	now := time.Now().UTC()

	accessToken := randomToken(32)
	if err := s.st.AccessTokens.Insert(r.Context(), &store.AccessToken{
		TokenHash: tokenHash(accessToken),
		ClientID:  client.ClientID,
		Subject:   subject,
		Scopes:    scopes,
		ExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}); err != nil {
		return nil, err
	}

	refreshToken := randomToken(32)
	if err := s.st.RefreshTokens.Insert(r.Context(), &store.RefreshToken{
		TokenHash: tokenHash(refreshToken),
		ClientID:  client.ClientID,
		Subject:   subject,
		Scopes:    scopes,
		ChainCode: chainCode,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}); err != nil {
		return nil, err
	}

	return &oidc.TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		IDToken:      idToken,
		RefreshToken: refreshToken,
		Scope:        scopes,
	}, nil
}

// issueTokensRotated mints tokens for a refresh grant, linking the new
// refresh token into the existing chain.
func (s *Server) issueTokensRotated(r *http.Request, client *store.Client, prev *store.RefreshToken, scopes, idToken string) (*oidc.TokenResponse, error) {
	now := time.Now().UTC()

	accessToken := randomToken(32)
	if err := s.st.AccessTokens.Insert(r.Context(), &store.AccessToken{
		TokenHash: tokenHash(accessToken),
		ClientID:  client.ClientID,
		Subject:   prev.Subject,
		Scopes:    scopes,
		ExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}); err != nil {
		return nil, err
	}

	refreshToken := randomToken(32)
	if err := s.st.RefreshTokens.Insert(r.Context(), &store.RefreshToken{
		TokenHash:   tokenHash(refreshToken),
		ClientID:    client.ClientID,
		Subject:     prev.Subject,
		Scopes:      scopes,
		ChainCode:   prev.ChainCode,
		RotatedFrom: prev.TokenHash,
		ExpiresAt:   now.Add(s.cfg.RefreshTokenTTL),
	}); err != nil {
		return nil, err
	}

	return &oidc.TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		IDToken:      idToken,
		RefreshToken: refreshToken,
		Scope:        scopes,
	}, nil
}

// verifyPKCE checks the stored challenge against the presented verifier.
func verifyPKCE(ac *store.AuthCode, client *store.Client, verifier string) *oidc.Error {
	if ac.CodeChallenge == "" {
		if !client.Confidential() {
			return oidc.NewError(oidc.ErrInvalidGrant, "public client flow requires PKCE")
		}
		return nil
	}
	if verifier == "" {
		return oidc.NewError(oidc.ErrInvalidGrant, "code_verifier is required")
	}
	switch ac.CodeChallengeMethod {
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != ac.CodeChallenge {
			return oidc.NewError(oidc.ErrInvalidGrant, "code_verifier does not match the challenge")
		}
	case "plain", "":
		if verifier != ac.CodeChallenge {
			return oidc.NewError(oidc.ErrInvalidGrant, "code_verifier does not match the challenge")
		}
	default:
		return oidc.NewError(oidc.ErrInvalidGrant, "unsupported code_challenge_method")
	}
	return nil
}

// ==== Userinfo ====

func (s *Server) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		w.Header().Set("WWW-Authenticate", "Bearer")
		respondOAuthError(w, http.StatusUnauthorized, oidc.NewError(oidc.ErrInvalidRequest, "bearer token required"))
		return
	}
	at, err := s.st.AccessTokens.LookupByHash(r.Context(), tokenHash(strings.TrimPrefix(auth, "Bearer ")))
	if errors.Is(err, store.ErrNotFound) {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		respondOAuthError(w, http.StatusUnauthorized, oidc.NewError(oidc.ErrInvalidRequest, "invalid or expired access token"))
		return
	}
	if err != nil {
		respondOAuthError(w, http.StatusInternalServerError, oidc.NewError(oidc.ErrServerError, "token lookup failed"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"sub": at.Subject})
}

// ==== Proof retrieval ====

func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	proofID := chi.URLParam(r, "proofID")

	p, err := s.st.Proofs.Get(r.Context(), proofID)
	if errors.Is(err, store.ErrNotFound) {
		respondJSON(w, http.StatusNotFound, map[string]string{
			"error": "not_found", "message": fmt.Sprintf("proof %q not found", proofID),
		})
		return
	}
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error", "message": "proof lookup failed"})
		return
	}
	if p.State != store.ProofStateComplete || len(p.ProofData) == 0 {
		respondJSON(w, http.StatusNotFound, map[string]string{
			"error": "not_found", "message": fmt.Sprintf("proof %q is not available", proofID),
		})
		return
	}
	if p.ExpiresAt != nil && time.Now().UTC().After(*p.ExpiresAt) {
		respondJSON(w, http.StatusNotFound, map[string]string{
			"error": "not_found", "message": fmt.Sprintf("proof %q has expired", proofID),
		})
		return
	}

	// Proof bytes are public and immutable.
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "public, max-age=3600, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(p.ProofData)
}
