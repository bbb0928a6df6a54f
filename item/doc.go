// Package item defines the stateful representation of a work item as
// persisted by a Store.
//
// A WorkItem embeds envelope.Envelope and augments it with the lease
// and lifecycle fields a Store maintains: Status, AttemptCount,
// LockedUntil, OwnerToken, DueOn and the audit trail left by each
// terminal transition.
//
// WorkItem values returned by Store operations are snapshots; mutating
// them does not affect stored state. Transitions happen only through
// Store methods.
package item
