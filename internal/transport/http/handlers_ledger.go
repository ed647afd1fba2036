package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"olocus/internal/audit"
	"olocus/internal/ledger"
	dErrors "olocus/pkg/domain-errors"
)

type appendSampleRequest struct {
	Timestamp   time.Time             `json:"timestamp"`
	Coordinates ledger.GeoCoordinates `json:"coordinates"`
	Accuracy    ledger.GeoAccuracy    `json:"accuracy"`
	Motion      ledger.MotionState    `json:"motion_state"`
	Tampered    bool                  `json:"tampered"`
}

func (h *Handler) handleChainInfo(w http.ResponseWriter, r *http.Request) {
	chain := h.deps.Ledger.Chain()
	writeJSON(w, http.StatusOK, map[string]any{
		"id":             chain.ID,
		"owner":          chain.Owner,
		"genesis":        chain.Genesis,
		"head":           chain.Head,
		"length":         chain.Length,
		"last_timestamp": chain.LastTimestamp,
		"version":        chain.Version,
	})
}

// handleAppendSample records one location sample as a new block. The device
// fingerprint is derived from the User-Agent of the submitting client, so
// fingerprint drift across samples shows up in the chain itself.
func (h *Handler) handleAppendSample(w http.ResponseWriter, r *http.Request) {
	var req appendSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode sample"))
		return
	}

	sample := ledger.Sample{
		Timestamp:   req.Timestamp,
		Coordinates: req.Coordinates,
		Accuracy:    req.Accuracy,
		Motion:      req.Motion,
		Device: ledger.DeviceState{
			Fingerprint: h.deps.Device.ComputeFingerprint(r.UserAgent()),
			Tampered:    req.Tampered,
		},
	}

	block, err := h.deps.Ledger.Append(r.Context(), sample)
	if err != nil {
		writeError(w, err)
		return
	}

	h.deps.Metrics.BlocksAppended.Inc()
	h.emit(audit.Event{
		Actor:   GetDID(r.Context()),
		ChainID: GetChainID(r.Context()),
		Action:  audit.ActionBlockAppended,
		Subject: block.Hash.Hex(),
	})
	writeJSON(w, http.StatusCreated, block)
}

func (h *Handler) handleBlocksInRange(w http.ResponseWriter, r *http.Request) {
	from, err := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid from index"))
		return
	}
	to, err := strconv.ParseUint(r.URL.Query().Get("to"), 10, 64)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid to index"))
		return
	}

	blocks, err := h.deps.Blocks.BlocksInRange(r.Context(), GetChainID(r.Context()), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
}
