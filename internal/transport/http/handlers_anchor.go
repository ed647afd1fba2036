package httptransport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"olocus/internal/audit"
	dErrors "olocus/pkg/domain-errors"
)

const dayLayout = "2006-01-02"

type createAnchorRequest struct {
	Day string `json:"day"`
}

func (h *Handler) handleCreateAnchor(w http.ResponseWriter, r *http.Request) {
	var req createAnchorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode anchor request"))
		return
	}
	day, err := time.ParseInLocation(dayLayout, req.Day, time.UTC)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "day must be YYYY-MM-DD"))
		return
	}

	a, err := h.deps.Anchors.CreateDailyAnchor(r.Context(), h.deps.Ledger.Chain(), day)
	if err != nil {
		writeError(w, err)
		return
	}
	if a == nil {
		// The day holds neither blocks nor visits.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.deps.Metrics.AnchorsCreated.Inc()
	if a.Pending() {
		h.deps.Metrics.AnchorsPending.Inc()
	}
	h.emit(audit.Event{
		Actor:   GetDID(r.Context()),
		ChainID: a.ChainID,
		Action:  audit.ActionAnchorCreated,
		Subject: a.ID.String(),
		Detail:  string(a.Status),
	})
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) handleRetryAnchors(w http.ResponseWriter, r *http.Request) {
	completed, err := h.deps.Anchors.RetryPending(r.Context(), GetChainID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if completed > 0 {
		h.deps.Metrics.AnchorsPending.Sub(float64(completed))
		h.emit(audit.Event{
			Actor:   GetDID(r.Context()),
			ChainID: GetChainID(r.Context()),
			Action:  audit.ActionAnchorConfirmed,
		})
	}
	writeJSON(w, http.StatusOK, map[string]int{"completed": completed})
}

func (h *Handler) handleAnchorByDay(w http.ResponseWriter, r *http.Request) {
	day, err := time.ParseInLocation(dayLayout, chi.URLParam(r, "day"), time.UTC)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "day must be YYYY-MM-DD"))
		return
	}

	a, err := h.deps.AnchorStore.AnchorByDay(r.Context(), GetChainID(r.Context()), day)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
