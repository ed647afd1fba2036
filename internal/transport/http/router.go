package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires all public endpoints. Everything under /v1 requires a
// bearer token bound to the device's DID and chain.
func NewRouter(h *Handler, validator TokenValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireAuth(validator, h.deps.Logger))
		if h.deps.RateLimit != nil {
			r.Use(h.deps.RateLimit.Handler)
		}

		r.Get("/ledger/chain", h.handleChainInfo)
		r.Post("/ledger/samples", h.handleAppendSample)
		r.Get("/ledger/blocks", h.handleBlocksInRange)

		r.Post("/visits/detect", h.handleDetectVisits)
		r.Get("/visits", h.handleListVisits)

		r.Post("/anchors", h.handleCreateAnchor)
		r.Post("/anchors/retry", h.handleRetryAnchors)
		r.Get("/anchors/{day}", h.handleAnchorByDay)

		r.Post("/credentials", h.handleIssueCredential)
		r.Post("/credentials/verify", h.handleVerifyCredential)

		r.Post("/friendships/requests", h.handleInitiateFriendship)
		r.Delete("/friendships/requests/{id}", h.handleAbortFriendship)
		r.Post("/friendships/accept", h.handleAcceptFriendship)
		r.Post("/friendships/complete", h.handleCompleteFriendship)
		r.Post("/friendships/adopt", h.handleAdoptFriendship)
		r.Get("/friendships", h.handleListFriendships)

		r.Post("/attestations/requests", h.handleAttestationRequest)
		r.Post("/attestations/respond", h.handleAttestationRespond)
		r.Post("/attestations/validate", h.handleAttestationValidate)

		r.Post("/claims", h.handlePublishClaim)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
