package outboxd

import "context"

// SelectionStrategy picks the single store a PollingLoop should poll
// on its next iteration, given the provider's current store set and
// what happened on the previous iteration (spec.md §4.3/§4.5:
// "lastProcessedStore", "lastProcessedCount" carried across
// iterations). Returns the zero ManagedStore and false when stores is
// empty.
type SelectionStrategy interface {
	Next(stores []ManagedStore, lastProcessedStore StoreIdentifier, lastProcessedCount int) (ManagedStore, bool)
}

// RoundRobin always advances to the store listed after
// lastProcessedStore, wrapping to the first; if lastProcessedStore is
// no longer present (or this is the first iteration), it picks the
// first store. Gives every store an equal share of iterations over
// time.
type RoundRobin struct{}

func (RoundRobin) Next(stores []ManagedStore, lastProcessedStore StoreIdentifier, _ int) (ManagedStore, bool) {
	return roundRobinNext(stores, lastProcessedStore)
}

// DrainFirst continues polling lastProcessedStore while it keeps
// yielding claimed items (lastProcessedCount > 0), so one hot store
// can be drained across several consecutive iterations before the
// loop advances; once a poll of it comes back empty, it advances
// exactly like RoundRobin.
type DrainFirst struct{}

func (DrainFirst) Next(stores []ManagedStore, lastProcessedStore StoreIdentifier, lastProcessedCount int) (ManagedStore, bool) {
	if lastProcessedCount > 0 && lastProcessedStore.Normalized != "" {
		for _, s := range stores {
			if s.ID.Normalized == lastProcessedStore.Normalized {
				return s, true
			}
		}
	}
	return roundRobinNext(stores, lastProcessedStore)
}

func roundRobinNext(stores []ManagedStore, lastProcessedStore StoreIdentifier) (ManagedStore, bool) {
	n := len(stores)
	if n == 0 {
		return ManagedStore{}, false
	}
	if lastProcessedStore.Normalized == "" {
		return stores[0], true
	}
	for i, s := range stores {
		if s.ID.Normalized == lastProcessedStore.Normalized {
			return stores[(i+1)%n], true
		}
	}
	return stores[0], true
}

// visitAllStores runs fn over every store provider currently reports,
// in the order it returns them, stopping early only if ctx is
// cancelled. A per-store error from fn is not fatal to the sweep: it
// is the caller's job (via fn) to log it and move on, so one
// unreachable store never starves the rest. Shared by Reaper and
// CleanupWorker, which (unlike the PollingLoop's per-iteration
// SelectionStrategy pick) sweep every store on every tick.
func visitAllStores(ctx context.Context, provider StoreProvider, fn func(context.Context, ManagedStore) error) error {
	stores, err := provider.Stores(ctx)
	if err != nil {
		return err
	}
	for _, s := range stores {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = fn(ctx, s)
	}
	return nil
}
