package sqlstore_test

import (
	"context"
	"testing"

	outboxd "github.com/bravellian/outboxd"
	"github.com/bravellian/outboxd/join"
	"github.com/bravellian/outboxd/sqlstore"
)

func TestJoinCompletesAfterAllMembersAck(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlstore.New(db)

	joinId, err := store.CreateJoin(ctx, "tenant-a", 3, "")
	if err != nil {
		t.Fatal(err)
	}

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := store.Enqueue(ctx, "etl.step", []byte("x"), outboxd.EnqueueOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if err := store.Attach(ctx, joinId, id); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	for _, id := range ids {
		claimed, err := store.Claim(ctx, "owner-1", 30, 1)
		if err != nil || len(claimed) != 1 {
			t.Fatalf("claim failed: %v %v", claimed, err)
		}
		if err := store.Ack(ctx, "owner-1", []string{id}, "worker-a"); err != nil {
			t.Fatal(err)
		}
	}

	j, err := store.GetJoin(ctx, joinId)
	if err != nil {
		t.Fatal(err)
	}
	if j.CompletedSteps != 3 {
		t.Fatalf("expected CompletedSteps=3, got %d", j.CompletedSteps)
	}
	if !j.Done() {
		t.Fatal("expected join to report Done")
	}
}

func TestIncrementIsIdempotentPerMember(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlstore.New(db)

	joinId, err := store.CreateJoin(ctx, "tenant-a", 2, "")
	if err != nil {
		t.Fatal(err)
	}
	id, _ := store.Enqueue(ctx, "etl.step", []byte("x"), outboxd.EnqueueOptions{})
	if err := store.Attach(ctx, joinId, id); err != nil {
		t.Fatal(err)
	}

	// Simulate the handler reporting completion twice for the same
	// work item (e.g. a retried Ack replay).
	if err := store.IncrementCompleted(ctx, joinId, id); err != nil {
		t.Fatal(err)
	}
	if err := store.IncrementCompleted(ctx, joinId, id); err != nil {
		t.Fatal(err)
	}

	j, err := store.GetJoin(ctx, joinId)
	if err != nil {
		t.Fatal(err)
	}
	if j.CompletedSteps != 1 {
		t.Fatalf("expected CompletedSteps=1 after double-increment, got %d", j.CompletedSteps)
	}
}

func TestUpdateStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlstore.New(db)

	joinId, err := store.CreateJoin(ctx, "tenant-a", 1, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateStatus(ctx, joinId, join.Completed); err != nil {
		t.Fatal(err)
	}
	j, err := store.GetJoin(ctx, joinId)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != join.Completed {
		t.Fatalf("expected Completed, got %v", j.Status)
	}
}

func TestAttachIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlstore.New(db)

	joinId, err := store.CreateJoin(ctx, "tenant-a", 1, "")
	if err != nil {
		t.Fatal(err)
	}
	id, _ := store.Enqueue(ctx, "etl.step", []byte("x"), outboxd.EnqueueOptions{})

	if err := store.Attach(ctx, joinId, id); err != nil {
		t.Fatal(err)
	}
	if err := store.Attach(ctx, joinId, id); err != nil {
		t.Fatal(err)
	}

	members, err := store.GetMembers(ctx, joinId)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 {
		t.Fatalf("expected exactly 1 member after re-attach, got %d", len(members))
	}
}
