package httptransport

import (
	"encoding/json"
	"net/http"
	"time"

	"olocus/internal/audit"
	dErrors "olocus/pkg/domain-errors"
)

type detectVisitsRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// handleDetectVisits runs the aggregator over the requested block window and
// persists the visits it finds.
func (h *Handler) handleDetectVisits(w http.ResponseWriter, r *http.Request) {
	var req detectVisitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode window"))
		return
	}
	if !req.To.After(req.From) {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "window end must be after start"))
		return
	}

	chainID := GetChainID(r.Context())
	blocks, err := h.deps.Blocks.BlocksByTime(r.Context(), chainID, req.From, req.To)
	if err != nil {
		writeError(w, err)
		return
	}

	visits, err := h.deps.Aggregator.Aggregate(r.Context(), chainID, blocks)
	if err != nil {
		writeError(w, err)
		return
	}

	for _, v := range visits {
		if err := h.deps.Visits.SaveVisit(r.Context(), v); err != nil {
			writeError(w, err)
			return
		}
		h.emit(audit.Event{
			Actor:   GetDID(r.Context()),
			ChainID: chainID,
			Action:  audit.ActionVisitDetected,
			Subject: v.ID.String(),
		})
	}
	h.deps.Metrics.VisitsDetected.Add(float64(len(visits)))

	writeJSON(w, http.StatusOK, map[string]any{"visits": visits})
}

func (h *Handler) handleListVisits(w http.ResponseWriter, r *http.Request) {
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid from timestamp"))
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid to timestamp"))
		return
	}

	visits, err := h.deps.Visits.VisitsInPeriod(r.Context(), GetChainID(r.Context()), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"visits": visits})
}
