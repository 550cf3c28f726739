package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fantasma-id/fantasma/store"
)

func adminReq(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Admin-Key", "admin-key")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAdminAuthRequired(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("X-Admin-Key", "wrong")
	rec = e.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Failures land in the audit log.
	entries, err := e.st.Audit.List(context.Background(), 10, 0, store.EventAdminAuthFailed)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	e := newTestEnv(t)
	e.srv.cfg.AdminKey = ""

	rec := e.do(adminReq(http.MethodGet, "/admin/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminClientLifecycle(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(adminReq(http.MethodPost, "/admin/clients", map[string]any{
		"client_id":      "rp-1",
		"client_name":    "RP One",
		"redirect_uris":  []string{"https://rp.one/cb"},
		"allowed_scopes": []string{"openid", "zk:age:18+"},
		"client_type":    "confidential",
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created createClientResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "rp-1", created.ClientID)
	assert.NotEmpty(t, created.ClientSecret, "confidential clients receive their secret once")

	// The stored hash does not contain the plaintext secret.
	c, err := e.st.Clients.GetByClientID(context.Background(), "rp-1")
	require.NoError(t, err)
	assert.NotContains(t, c.ClientSecretHash, created.ClientSecret)

	// Duplicate registration conflicts.
	rec = e.do(adminReq(http.MethodPost, "/admin/clients", map[string]any{
		"client_id":     "rp-1",
		"redirect_uris": []string{"https://rp.one/cb"},
	}))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Relative redirect URIs are rejected.
	rec = e.do(adminReq(http.MethodPost, "/admin/clients", map[string]any{
		"client_id":     "rp-2",
		"redirect_uris": []string{"/relative/cb"},
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(adminReq(http.MethodGet, "/admin/clients", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list paginatedResponse[store.Client]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.EqualValues(t, 1, list.Total)
	require.Len(t, list.Data, 1)
	assert.Empty(t, list.Data[0].ClientSecretHash, "secret hash never leaves the server")

	rec = e.do(adminReq(http.MethodDelete, "/admin/clients/rp-1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(adminReq(http.MethodDelete, "/admin/clients/rp-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminPublicClientHasNoSecret(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(adminReq(http.MethodPost, "/admin/clients", map[string]any{
		"client_id":     "spa",
		"redirect_uris": []string{"https://spa.example/cb"},
		"client_type":   "public",
	}))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created createClientResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Empty(t, created.ClientSecret)
}

func TestAdminIssuerLifecycle(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(adminReq(http.MethodPost, "/admin/issuers", map[string]any{
		"issuer_id":            "gov-registry",
		"name":                 "Government Registry",
		"public_key":           "deadbeef",
		"public_key_algorithm": "dilithium3",
		"trusted":              true,
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Unknown algorithms are rejected.
	rec = e.do(adminReq(http.MethodPost, "/admin/issuers", map[string]any{
		"issuer_id":            "bad",
		"public_key":           "00",
		"public_key_algorithm": "rsa",
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(adminReq(http.MethodPut, "/admin/issuers/gov-registry", map[string]any{
		"name":                 "Government Registry (rotated)",
		"public_key":           "cafebabe",
		"public_key_algorithm": "dilithium3",
		"trusted":              false,
	}))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	iss, err := e.st.Issuers.Get(context.Background(), "gov-registry")
	require.NoError(t, err)
	assert.False(t, iss.Trusted)

	rec = e.do(adminReq(http.MethodGet, "/admin/issuers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list paginatedResponse[store.Issuer]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.EqualValues(t, 1, list.Total)

	rec = e.do(adminReq(http.MethodDelete, "/admin/issuers/gov-registry", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAdminStatsAndHealth(t *testing.T) {
	e := newTestEnv(t)
	e.registerClient(t, "demo", store.ClientTypeConfidential, "openid")

	rec := e.do(adminReq(http.MethodGet, "/admin/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats adminStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats.Clients)

	rec = e.do(adminReq(http.MethodGet, "/admin/health/detailed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health detailedHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.Database.Connected)
}

func TestAdminAuditListing(t *testing.T) {
	e := newTestEnv(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, e.st.Audit.Append(context.Background(), &store.AuditEntry{
			EventType: store.EventTokenIssued, ClientID: "demo",
		}))
	}

	rec := e.do(adminReq(http.MethodGet, "/admin/audit?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list paginatedResponse[store.AuditEntry]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.EqualValues(t, 3, list.Total)
	assert.Len(t, list.Data, 2)
	assert.Equal(t, 2, list.Limit)

	// Limits clamp to the [1,200] contract.
	rec = e.do(adminReq(http.MethodGet, "/admin/audit?limit=9999", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 200, list.Limit)
}
