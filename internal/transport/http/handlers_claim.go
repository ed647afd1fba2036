package httptransport

import (
	"encoding/json"
	"net/http"

	"olocus/internal/attestation"
	"olocus/internal/audit"
	"olocus/internal/friendship"
	"olocus/internal/nullifier"
	"olocus/internal/trust"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

type ratedAttestationInput struct {
	Attestation attestation.Attestation `json:"attestation"`
	Level       friendship.Level        `json:"level"`
}

type publishClaimRequest struct {
	VisitID      string                  `json:"visit_id"`
	Salt         string                  `json:"salt"`
	Attestations []ratedAttestationInput `json:"attestations"`
}

type publishClaimResponse struct {
	Nullifier string      `json:"nullifier"`
	Score     trust.Score `json:"score"`
}

// handlePublishClaim registers the claim's nullifier and scores its
// attestations. Registration is the double-claim gate: publishing the same
// visit twice with the same salt conflicts, regardless of which marketplace
// relays the claim.
func (h *Handler) handlePublishClaim(w http.ResponseWriter, r *http.Request) {
	var req publishClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode claim"))
		return
	}
	visitID, err := domain.ParseVisitID(req.VisitID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid visit id"))
		return
	}
	if req.Salt == "" {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "salt must not be empty"))
		return
	}

	claimant := GetDID(r.Context())
	n := nullifier.Compute(visitID, claimant, []byte(req.Salt))

	if err := h.deps.Registry.Register(r.Context(), n); err != nil {
		if dErrors.HasCode(err, dErrors.CodeDoubleClaim) {
			h.deps.Metrics.NullifierConflicts.Inc()
			h.emit(audit.Event{
				Actor:   claimant,
				ChainID: GetChainID(r.Context()),
				Action:  audit.ActionDoubleClaimRejected,
				Subject: visitID.String(),
				Code:    int(dErrors.CodeDoubleClaim),
			})
		}
		writeError(w, err)
		return
	}

	rated := make([]trust.RatedAttestation, 0, len(req.Attestations))
	for _, in := range req.Attestations {
		rated = append(rated, trust.RatedAttestation{
			Attestation: in.Attestation,
			Level:       in.Level,
		})
	}
	score := h.deps.Scorer.Score(rated)

	h.emit(audit.Event{
		Actor:   claimant,
		ChainID: GetChainID(r.Context()),
		Action:  audit.ActionClaimPublished,
		Subject: visitID.String(),
		Detail:  string(score.Status),
	})
	writeJSON(w, http.StatusCreated, publishClaimResponse{
		Nullifier: n.Hex(),
		Score:     score,
	})
}
