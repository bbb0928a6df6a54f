package outboxd

import (
	"context"

	"github.com/bravellian/outboxd/join"
)

// JoinStore persists join aggregates and their member links, and
// performs the clamped, per-member-idempotent counter increments of
// spec.md §3.2/§4.2.
type JoinStore interface {
	// CreateJoin creates a new Pending join. expectedSteps must be >=
	// 1 or a *ValidationError is returned.
	CreateJoin(ctx context.Context, tenantId string, expectedSteps uint32, metadata string) (string, error)

	// Attach idempotently links workItemId to joinId. Re-attaching an
	// already-linked pair is a no-op.
	Attach(ctx context.Context, joinId, workItemId string) error

	// IncrementCompleted increments CompletedSteps by one, clamped at
	// ExpectedSteps, the first time it is called for (joinId,
	// workItemId); subsequent calls for the same pair are no-ops. The
	// member must already be attached.
	IncrementCompleted(ctx context.Context, joinId, workItemId string) error

	// IncrementFailed is IncrementCompleted's counterpart for
	// FailedSteps.
	IncrementFailed(ctx context.Context, joinId, workItemId string) error

	// UpdateStatus sets the join's Status and refreshes
	// LastUpdatedOn.
	UpdateStatus(ctx context.Context, joinId string, status join.Status) error

	GetJoin(ctx context.Context, joinId string) (*join.Join, error)
	GetMembers(ctx context.Context, joinId string) ([]*join.Member, error)
}
