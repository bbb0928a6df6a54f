// Package outboxd provides a storage-agnostic durable work-queue core
// backing symmetric inbox/outbox subsystems, plus a fan-in join
// coordinator for work that must wait on several independent steps.
//
// # Overview
//
// outboxd models a durable queue with explicit state transitions
// persisted in a relational backend (the transactional outbox
// pattern). It separates the transport payload (envelope.Envelope)
// from delivery state (item.WorkItem), and defines a Store interface
// that any SQL backend can implement; sqlstore ships one backed by
// uptrace/bun with dialects for PostgreSQL, SQL Server and SQLite.
//
// # Delivery Semantics
//
// outboxd gives at-least-once delivery. A work item may be delivered
// more than once if a worker crashes mid-handle, its lease expires, or
// it is explicitly abandoned for retry. Handlers must be idempotent;
// PermanentError lets a handler opt a failure out of retry entirely.
//
// # Lease Model
//
// Claim moves a batch of items from Ready to Processing under a
// caller-chosen OwnerToken and a lease (LockedUntil). While the lease
// is valid the items are invisible to other claimants. If the owning
// worker never resolves them, Reaper returns them to Ready once the
// lease expires, without penalizing AttemptCount.
//
// # State Machine
//
//	Ready -> Processing -> Done
//	Ready -> Processing -> Ready    (Abandon, or Reaper on lease expiry)
//	Ready -> Processing -> Dead     (Fail, or retries exhausted)
//	Dead  -> Ready                  (Revive)
//
// # Fan-in Joins
//
// A Join tracks how many of ExpectedSteps members have reported
// completion or failure. Ack and Fail increment a join's counters
// exactly once per member regardless of redelivery, through
// JoinStore's idempotent-per-member bookkeeping. JoinWaitHandler, a
// built-in Handler for the reserved topic "join.wait", lets a caller
// be notified by enqueuing a follow-up work item once a join settles.
//
// # Multi-Store Fan-Out
//
// A StoreProvider resolves the set of stores a PollingLoop, Reaper and
// CleanupWorker poll on their own cadences; ConfiguredProvider serves
// a fixed list, DiscoveryProvider reconciles against an external
// catalog of StoreConfigs (opening new ones, disposing of removed or
// changed ones through a StoreFactory), and PlatformProvider excludes
// a known control-plane store from a platform-wide catalog.
// SelectionStrategy (RoundRobin, DrainFirst) picks exactly one store
// per PollingLoop iteration, carrying the last iteration's store and
// claimed count so DrainFirst can keep a hot store for several
// iterations before moving on; Reaper and CleanupWorker instead sweep
// every store on every tick.
package outboxd
