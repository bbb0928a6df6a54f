// Package sqlstore implements outboxd.Store and outboxd.JoinStore over
// a relational backend using uptrace/bun, with dialects for
// PostgreSQL, SQL Server and SQLite (the last mainly for tests and
// small deployments).
//
// # Schema
//
// Store owns three tables: work_items (one row per item.WorkItem) and,
// for joins, join_aggregates and join_members. InitSchema creates both
// sets of tables and their indexes inside one transaction, and is safe
// to call repeatedly.
//
// # Claim strategy
//
// Claim is a single UPDATE ... WHERE id IN (subquery) ... RETURNING
// statement: the subquery selects eligible ids, the outer UPDATE
// transitions them atomically, so there is no separate SELECT-then-UPDATE
// race window. On dialects that support it (PostgreSQL, SQL Server),
// the inner subquery additionally locks its rows FOR UPDATE SKIP
// LOCKED, so concurrent claimers skip rows already being claimed
// instead of blocking on them; SQLite has no such clause and falls
// back to the plain subquery, which is still race-free because
// SQLite serializes writers.
package sqlstore
