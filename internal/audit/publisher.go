package audit

import (
	"context"
	"log/slog"
	"time"

	"olocus/pkg/domain"
)

// Publisher captures structured audit events. Emit hands events to the
// worker inbox without blocking the caller; a full inbox drops the event and
// logs, auditing never stalls the protocol path.
type Publisher struct {
	inbox  chan<- Event
	logger *slog.Logger
	now    func() time.Time
}

type PublisherOption func(*Publisher)

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(inbox chan<- Event, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		inbox:  inbox,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("audit inbox full, dropping event",
			"action", event.Action, "actor", event.Actor)
	}
}

// List reads back persisted events for one actor. It goes through the store,
// not the inbox, so callers see only what the worker has flushed.
func List(ctx context.Context, store Store, actor domain.DID) ([]Event, error) {
	return store.ListByActor(ctx, actor)
}
