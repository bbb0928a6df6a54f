package outboxd

import (
	"context"
	"time"

	"github.com/bravellian/outboxd/item"
)

// EnqueueOptions carries the optional fields of Store.Enqueue.
//
// WorkItemId lets a caller supply a stable dedup key (inbox usage); if
// empty, the store generates one (outbox usage).
type EnqueueOptions struct {
	WorkItemId    string
	CorrelationId string
	DueOn         *time.Time
	Hash          string
	Source        string
}

// Store is the single source of truth for work-item state and the
// only component that performs the atomic state transitions of
// spec.md §3.1/§4.1. Every mutating operation runs in one database
// transaction at an isolation level sufficient to prevent phantom
// re-claims.
//
// Every operation but Enqueue is idempotent on no-op inputs: Ack,
// Abandon and Fail silently skip ids that do not match the caller's
// OwnerToken or are not in the expected state (spec.md §7,
// OwnershipMismatch); Revive and ReapExpired act only on rows in the
// state they expect.
type Store interface {
	// Enqueue inserts a new row with Status=Ready, AttemptCount=0.
	// topic must be non-empty and at most 255 bytes, payload must be
	// non-nil, or a *ValidationError is returned and no row is
	// created.
	Enqueue(ctx context.Context, topic string, payload []byte, opts EnqueueOptions) (string, error)

	// Claim atomically selects up to batchSize rows that are eligible
	// (Ready, or Processing with an expired lease, and DueOn <= now or
	// null), ordered by CreatedOn ascending, skipping rows locked by
	// concurrent transactions, and marks them Processing under
	// ownerToken with a lease of leaseSeconds. Returns the claimed ids;
	// an empty result means nothing was eligible.
	Claim(ctx context.Context, ownerToken string, leaseSeconds int, batchSize int) ([]string, error)

	// Get reads the full row for id. Returns *NotFound if id is
	// unknown.
	Get(ctx context.Context, id string) (*item.WorkItem, error)

	// Ack marks each id in ids Done, provided its current OwnerToken
	// matches ownerToken and its Status is Processing; non-matching
	// ids are skipped. As part of the same transaction it increments
	// CompletedSteps on every join each acked id is a member of
	// (idempotent per member).
	Ack(ctx context.Context, ownerToken string, ids []string, workerId string) error

	// Abandon returns matching rows (OwnerToken==ownerToken,
	// Status==Processing) to Ready, incrementing AttemptCount and
	// recording lastError. If delay is non-nil, DueOn is set to
	// now+*delay; otherwise DueOn is cleared.
	Abandon(ctx context.Context, ownerToken string, ids []string, lastError string, delay *time.Duration) error

	// Fail marks matching rows Dead with the given reason, and
	// atomically increments FailedSteps on every join each id is a
	// member of (idempotent per member, same rule as Ack).
	Fail(ctx context.Context, ownerToken string, ids []string, reason string, workerId string) error

	// Revive returns Dead rows in ids to Ready. Owner-token agnostic
	// (an operator action, not a lease-holder action). If reason is
	// non-empty it replaces LastError; if delay is non-nil, DueOn is
	// set to now+*delay.
	Revive(ctx context.Context, ids []string, reason string, delay *time.Duration) error

	// ReapExpired returns every Processing row whose LockedUntil has
	// passed to Ready, without incrementing AttemptCount: a lease
	// expiry is an infrastructure event, not a handler failure.
	ReapExpired(ctx context.Context) (int64, error)

	// Cleanup deletes Done/Dead rows whose ProcessedOn is older than
	// retention, and returns the number of rows deleted.
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)

	// List returns up to limit rows matching status (item.Unknown
	// means no filter), most recently created first. Intended for
	// administrative and diagnostic use, not normal consumption.
	List(ctx context.Context, status item.Status, limit int) ([]*item.WorkItem, error)
}
