package httptransport

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"olocus/internal/audit"
	"olocus/internal/credential"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

type issueCredentialRequest struct {
	VisitID string          `json:"visit_id"`
	Mode    credential.Mode `json:"mode"`
}

func (h *Handler) handleIssueCredential(w http.ResponseWriter, r *http.Request) {
	var req issueCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode issue request"))
		return
	}
	visitID, err := domain.ParseVisitID(req.VisitID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid visit id"))
		return
	}

	v, err := h.deps.Visits.VisitByID(r.Context(), visitID)
	if err != nil {
		writeError(w, err)
		return
	}

	cred, err := h.deps.Issuer.Issue(r.Context(), h.deps.Ledger.Chain(), v, req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}

	h.deps.Metrics.CredentialsIssued.Inc()
	h.emit(audit.Event{
		Actor:   GetDID(r.Context()),
		ChainID: cred.ChainID,
		Action:  audit.ActionCredentialIssued,
		Subject: cred.ID.String(),
		Detail:  string(req.Mode),
	})
	writeJSON(w, http.StatusCreated, cred)
}

type verifyCredentialRequest struct {
	Credential credential.LocationCredential `json:"credential"`
	PublicKey  string                        `json:"public_key"`
}

func (h *Handler) handleVerifyCredential(w http.ResponseWriter, r *http.Request) {
	var req verifyCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode verify request"))
		return
	}
	pub, err := parsePublicKey(req.PublicKey)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.deps.Issuer.Verify(r.Context(), req.Credential, pub); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func parsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "public key must be 32 hex-encoded bytes")
	}
	return ed25519.PublicKey(raw), nil
}
