// Package httptransport is the thin HTTP layer over the protocol engine. It
// delegates to domain services without embedding business logic so transport
// concerns remain isolated.
package httptransport

import (
	"log/slog"

	"olocus/internal/anchor"
	"olocus/internal/attestation"
	"olocus/internal/audit"
	"olocus/internal/credential"
	"olocus/internal/device"
	"olocus/internal/friendship"
	"olocus/internal/ledger"
	"olocus/internal/nullifier"
	"olocus/internal/platform/metrics"
	"olocus/internal/ratelimit"
	"olocus/internal/trust"
	"olocus/internal/visit"
)

// Deps collects the domain services the handlers dispatch to.
type Deps struct {
	Ledger      *ledger.Ledger
	Blocks      ledger.BlockStore
	Aggregator  *visit.Aggregator
	Visits      visit.Store
	Anchors     *anchor.Service
	AnchorStore anchor.Store
	Issuer      *credential.Issuer
	Engine      *attestation.Engine
	Batches     *attestation.Builder
	Friends     *friendship.Establisher
	FriendStore friendship.Store
	Scorer      *trust.Scorer
	Registry    nullifier.Registry
	Device      *device.Service
	Audit       *audit.Publisher
	Metrics     *metrics.Metrics
	RateLimit   *ratelimit.Middleware
	Logger      *slog.Logger
}

type Handler struct {
	deps Deps
}

func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{deps: deps}
}

func (h *Handler) emit(event audit.Event) {
	if h.deps.Audit != nil {
		h.deps.Audit.Emit(event)
	}
}
