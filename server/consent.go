package server

import (
	"crypto/subtle"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fantasma-id/fantasma/crypto"
	"github.com/fantasma-id/fantasma/oidc"
	"github.com/fantasma-id/fantasma/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// consentPermission is one row on the consent page.
type consentPermission struct {
	Title       string
	Description string
	ZkProof     bool
}

// consentPageData feeds templates/consent.html.
type consentPageData struct {
	ClientName   string
	Domain       string
	Permissions  []consentPermission
	HiddenFields map[string]string
	ConsentToken string
	DenyURL      string
}

// errorPageData feeds templates/error.html.
type errorPageData struct {
	Code        string
	Description string
}

// consentToken authenticates the round-trip through the consent form and
// bounds it to the consent window.
func (s *Server) consentToken(clientID string, issuedAt time.Time) string {
	ts := strconv.FormatInt(issuedAt.Unix(), 10)
	mac := crypto.SHA3256(s.consentKey[:], []byte(ts), []byte(clientID))
	return ts + "." + hex.EncodeToString(mac[:16])
}

// validConsentToken checks the MAC and the consent window in constant
// time over the MAC bytes.
func (s *Server) validConsentToken(token, clientID string) bool {
	ts, mac, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}
	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if time.Since(time.Unix(issued, 0)) > s.cfg.ConsentTTL {
		return false
	}
	want := crypto.SHA3256(s.consentKey[:], []byte(ts), []byte(clientID))
	got, err := hex.DecodeString(mac)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want[:16], got) == 1
}

// renderConsentPage shows the approval form for a validated request.
func (s *Server) renderConsentPage(w http.ResponseWriter, r *http.Request, client *store.Client, p authorizeParams, claims []oidc.ClaimRequest) {
	domain, err := crypto.RegistrableDomain(p.RedirectURI)
	if err != nil {
		s.renderErrorPage(w, http.StatusBadRequest, oidc.NewError(oidc.ErrInvalidRequest, "redirect_uri has no usable domain"))
		return
	}

	permissions := []consentPermission{{
		Title:       "Basic identity",
		Description: fmt.Sprintf("A pseudonymous identifier scoped to %s", domain),
	}}
	for _, c := range claims {
		permissions = append(permissions, permissionFor(c))
	}

	denyURL, _ := url.Parse(p.RedirectURI)
	dq := denyURL.Query()
	dq.Set("error", oidc.ErrAccessDenied)
	dq.Set("error_description", "the user denied the request")
	if p.State != "" {
		dq.Set("state", p.State)
	}
	denyURL.RawQuery = dq.Encode()

	hidden := map[string]string{
		"response_type": p.ResponseType,
		"client_id":     p.ClientID,
		"redirect_uri":  p.RedirectURI,
		"scope":         p.Scope,
	}
	if p.State != "" {
		hidden["state"] = p.State
	}
	if p.Nonce != "" {
		hidden["nonce"] = p.Nonce
	}
	if p.CodeChallenge != "" {
		hidden["code_challenge"] = p.CodeChallenge
	}
	if p.CodeChallengeMethod != "" {
		hidden["code_challenge_method"] = p.CodeChallengeMethod
	}

	data := consentPageData{
		ClientName:   client.ClientName,
		Domain:       domain,
		Permissions:  permissions,
		HiddenFields: hidden,
		ConsentToken: s.consentToken(p.ClientID, time.Now()),
		DenyURL:      denyURL.String(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.ExecuteTemplate(w, "consent.html", data); err != nil {
		s.log.Error("render consent page", "error", err)
	}
}

// permissionFor describes one claim in user-facing terms.
func permissionFor(c oidc.ClaimRequest) consentPermission {
	switch c.Kind {
	case oidc.ClaimAgeAtLeast:
		return consentPermission{
			Title:       fmt.Sprintf("Age %v or older", c.Parameters["threshold"]),
			Description: "Proves the age requirement is met without revealing a birthdate",
			ZkProof:     true,
		}
	case oidc.ClaimKycStatus:
		return consentPermission{
			Title:       fmt.Sprintf("KYC %v status", c.Parameters["level_name"]),
			Description: "Proves identity verification status without personal data",
			ZkProof:     true,
		}
	case oidc.ClaimHoldsCredential:
		name, _ := c.Parameters["type"].(string)
		if name == "" {
			name = "credential"
		}
		return consentPermission{
			Title:       fmt.Sprintf("%s verification", name),
			Description: "Proves the credential is held without revealing its contents",
			ZkProof:     true,
		}
	}
	return consentPermission{Title: c.Kind}
}

// renderErrorPage is used when the redirect target cannot be trusted.
func (s *Server) renderErrorPage(w http.ResponseWriter, status int, oe *oidc.Error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplates.ExecuteTemplate(w, "error.html", errorPageData{
		Code:        oe.Code,
		Description: oe.Description,
	}); err != nil {
		s.log.Error("render error page", "error", err)
	}
}
