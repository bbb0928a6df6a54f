package item

import (
	"time"

	"github.com/bravellian/outboxd/envelope"
)

// WorkItem is a single row of the work-queue table: the unit of
// dispatch for both the inbox and outbox subsystems.
//
// LockedUntil and OwnerToken are non-nil/non-empty together: a row is
// leased iff both are set and LockedUntil is in the future. DueOn nil
// means "claimable immediately".
type WorkItem struct {
	envelope.Envelope

	Status       Status
	AttemptCount uint32
	LockedUntil  *time.Time
	OwnerToken   string
	DueOn        *time.Time

	CreatedOn   time.Time
	ProcessedOn *time.Time
	ProcessedBy string
	LastError   string
}

// Leased reports whether the item is currently held under an active
// lease, as of the given reference time.
func (w *WorkItem) Leased(now time.Time) bool {
	return w.OwnerToken != "" && w.LockedUntil != nil && w.LockedUntil.After(now)
}
