package syncer

import (
	"context"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
)

// Handler delivers one queue item to its upstream. The item id is the
// idempotency key, so Sync may be called again for an item whose earlier
// delivery was not acknowledged.
type Handler interface {
	Domain() domain.Domain
	Sync(ctx context.Context, item domain.QueueItem) domain.Outcome
}

// BatchHandler delivers items in groups. SyncBatch returns one outcome per
// item, in order.
type BatchHandler interface {
	Handler
	BatchSize() int
	SyncBatch(ctx context.Context, items []domain.QueueItem) []domain.Outcome
}

// Reconciler pulls upstream state after a cycle has pushed local changes.
type Reconciler interface {
	Reconcile(ctx context.Context, storeID string) error
}
