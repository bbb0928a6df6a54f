package outboxd_test

import (
	"context"
	"testing"
	"time"

	outboxd "github.com/bravellian/outboxd"
	"github.com/bravellian/outboxd/item"
)

func TestReaperRecoversExpiredLeases(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, _ := store.Enqueue(ctx, "greet", []byte("x"), outboxd.EnqueueOptions{})
	if _, err := store.Claim(ctx, "owner-1", 0, 1); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	managed := []outboxd.ManagedStore{{ID: outboxd.StoreIdentifier{Name: "a"}, Store: store}}
	r := outboxd.NewReaper(outboxd.ReaperConfig{
		Interval: 10 * time.Millisecond,
		Provider: outboxd.NewConfiguredProvider(managed),
	})
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer r.Stop(time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		wi, err := store.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if wi.Status == item.Ready {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("reaper did not recover expired lease in time")
}
