package httptransport

import (
	"encoding/json"
	"net/http"

	"olocus/internal/attestation"
	"olocus/internal/audit"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

type attestationRequestRequest struct {
	VisitID      string                   `json:"visit_id"`
	CredentialID string                   `json:"credential_id"`
	AttesterDID  string                   `json:"attester_did"`
	Requirements attestation.Requirements `json:"requirements"`
}

// handleAttestationRequest builds a signed attestation request for the given
// visit, addressed to one attester. The claim discloses the visit center to
// that attester only.
func (h *Handler) handleAttestationRequest(w http.ResponseWriter, r *http.Request) {
	var req attestationRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode attestation request"))
		return
	}
	visitID, err := domain.ParseVisitID(req.VisitID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid visit id"))
		return
	}
	credentialID, err := domain.ParseCredentialID(req.CredentialID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid credential id"))
		return
	}
	attester, err := domain.ParseDID(req.AttesterDID)
	if err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid attester did"))
		return
	}

	v, err := h.deps.Visits.VisitByID(r.Context(), visitID)
	if err != nil {
		writeError(w, err)
		return
	}

	claim := attestation.Claim{
		CredentialID:    credentialID,
		ClaimantDID:     GetDID(r.Context()),
		Center:          v.Center,
		Arrival:         v.Arrival,
		Departure:       v.Departure,
		VisitCommitment: v.Commitment,
	}
	request, err := h.deps.Engine.NewRequest(r.Context(), claim, attester, req.Requirements)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

type attestationRespondRequest struct {
	Request           attestation.Request `json:"request"`
	ClaimantPublicKey string              `json:"claimant_public_key"`
}

func (h *Handler) handleAttestationRespond(w http.ResponseWriter, r *http.Request) {
	var req attestationRespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode respond request"))
		return
	}
	pub, err := parsePublicKey(req.ClaimantPublicKey)
	if err != nil {
		writeError(w, err)
		return
	}

	att, err := h.deps.Engine.Respond(r.Context(), req.Request, pub)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.deps.Batches != nil {
		if err := h.deps.Batches.Add(*att); err != nil {
			h.deps.Logger.Warn("attestation batch backlog full", "attestation", att.ID)
		}
	}
	h.emit(audit.Event{
		Actor:   GetDID(r.Context()),
		Action:  audit.ActionAttestationAccepted,
		Subject: att.ID.String(),
	})
	writeJSON(w, http.StatusCreated, att)
}

type attestationValidateRequest struct {
	Attestation       attestation.Attestation `json:"attestation"`
	AttesterPublicKey string                  `json:"attester_public_key"`
}

func (h *Handler) handleAttestationValidate(w http.ResponseWriter, r *http.Request) {
	var req attestationValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode validate request"))
		return
	}
	pub, err := parsePublicKey(req.AttesterPublicKey)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.deps.Engine.Validate(r.Context(), req.Attestation, pub); err != nil {
		h.deps.Metrics.AttestationsValidated.WithLabelValues("rejected").Inc()
		writeError(w, err)
		return
	}
	h.deps.Metrics.AttestationsValidated.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}
