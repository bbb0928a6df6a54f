package outboxd

import (
	"context"
	"time"

	"github.com/bravellian/outboxd/item"
)

// Operator is a small convenience wrapper over Store for
// administrative and post-incident use: reviving dead-lettered items
// and listing items by status. It adds no behavior beyond the Store
// contract; it exists so a CLI or admin endpoint can depend on one
// narrow type instead of the full Store interface.
//
// Supplemented beyond spec.md's component list: the spec names Revive
// and a List-like read path as operations but never as a type of
// their own, mirroring the teacher's already-public Observer read
// path (sql/observer.go) extended to the reads an operator needs.
type Operator struct {
	store Store
}

func NewOperator(store Store) *Operator {
	return &Operator{store: store}
}

// Revive returns Dead items in ids to Ready, optionally replacing
// LastError and scheduling them due after delay.
func (o *Operator) Revive(ctx context.Context, ids []string, reason string, delay *time.Duration) error {
	return o.store.Revive(ctx, ids, reason, delay)
}

// List returns up to limit items in the given status, most recently
// created first. Pass item.Unknown for no status filter.
func (o *Operator) List(ctx context.Context, status item.Status, limit int) ([]*item.WorkItem, error) {
	return o.store.List(ctx, status, limit)
}

// Get returns the full record for one item.
func (o *Operator) Get(ctx context.Context, id string) (*item.WorkItem, error) {
	return o.store.Get(ctx, id)
}
