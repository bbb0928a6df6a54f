// Package join defines the fan-in aggregate that tracks completion of
// a set of work items and triggers follow-up work when every member
// has terminated (successfully or not).
//
// A Join is tenant-local and store-local: it lives in one database
// alongside the work items that report into it. Cross-store joins are
// a known, explicitly out-of-scope extension (see DESIGN.md, Open
// Questions).
package join
