// Package envelope defines the transport-level shape of a work item.
//
// An Envelope carries the fields a handler and the routing layer need
// and nothing about delivery state (status, attempts, leases). Those
// concerns live one level up, in package item.
//
// Envelope is shared by both symmetric subsystems the queue backs: an
// inbox envelope carries Source and Hash for dedup, an outbox envelope
// leaves them empty and gets its Id generated rather than supplied.
package envelope
