package sqlstore_test

import (
	"context"
	"testing"
	"time"

	outboxd "github.com/bravellian/outboxd"
	"github.com/bravellian/outboxd/item"
	"github.com/bravellian/outboxd/sqlstore"
)

func TestClaimAndAck(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlstore.New(db)

	id, err := store.Enqueue(ctx, "orders.created", []byte("payload"), outboxd.EnqueueOptions{})
	if err != nil {
		t.Fatal(err)
	}

	ids, err := store.Claim(ctx, "owner-1", 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("expected to claim %s, got %v", id, ids)
	}

	wi, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if wi.Status != item.Processing {
		t.Fatalf("expected Processing, got %v", wi.Status)
	}
	if wi.OwnerToken != "owner-1" {
		t.Fatalf("expected owner-1, got %q", wi.OwnerToken)
	}

	if err := store.Ack(ctx, "owner-1", []string{id}, "worker-a"); err != nil {
		t.Fatal(err)
	}
	wi, err = store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if wi.Status != item.Done {
		t.Fatalf("expected Done, got %v", wi.Status)
	}
	if wi.ProcessedBy != "worker-a" {
		t.Fatalf("expected worker-a, got %q", wi.ProcessedBy)
	}
}

func TestEnqueueTxRollsBackWithCaller(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlstore.New(db)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	id, err := store.EnqueueTx(ctx, tx, "orders.created", []byte("payload"), outboxd.EnqueueOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get(ctx, id); err == nil {
		t.Fatal("expected NotFound: enqueue inside a rolled-back transaction must not be visible")
	}

	tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	id, err = store.EnqueueTx(ctx, tx, "orders.created", []byte("payload"), outboxd.EnqueueOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	wi, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if wi.Status != item.Ready {
		t.Fatalf("expected Ready, got %v", wi.Status)
	}
}

func TestAbandonReturnsToReady(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlstore.New(db)

	id, _ := store.Enqueue(ctx, "orders.created", []byte("payload"), outboxd.EnqueueOptions{})
	ids, err := store.Claim(ctx, "owner-1", 30, 1)
	if err != nil || len(ids) != 1 {
		t.Fatalf("claim failed: %v %v", ids, err)
	}

	delay := 0 * time.Second
	if err := store.Abandon(ctx, "owner-1", []string{id}, "boom", &delay); err != nil {
		t.Fatal(err)
	}

	wi, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if wi.Status != item.Ready {
		t.Fatalf("expected Ready, got %v", wi.Status)
	}
	if wi.AttemptCount != 1 {
		t.Fatalf("expected AttemptCount=1, got %d", wi.AttemptCount)
	}
	if wi.OwnerToken != "" {
		t.Fatalf("expected cleared owner token, got %q", wi.OwnerToken)
	}
	if wi.LastError != "boom" {
		t.Fatalf("expected LastError=boom, got %q", wi.LastError)
	}
}

func TestOwnershipMismatchIsSilentNoOp(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlstore.New(db)

	id, _ := store.Enqueue(ctx, "orders.created", []byte("payload"), outboxd.EnqueueOptions{})
	if _, err := store.Claim(ctx, "owner-1", 30, 1); err != nil {
		t.Fatal(err)
	}

	// A stale worker's Ack with the wrong owner token must not error and
	// must not touch the row.
	if err := store.Ack(ctx, "owner-2", []string{id}, "stale-worker"); err != nil {
		t.Fatal(err)
	}

	wi, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if wi.Status != item.Processing {
		t.Fatalf("expected row untouched (still Processing), got %v", wi.Status)
	}
}

func TestFailIncrementsFailedSteps(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlstore.New(db)

	joinId, err := store.CreateJoin(ctx, "tenant-a", 1, "")
	if err != nil {
		t.Fatal(err)
	}
	id, _ := store.Enqueue(ctx, "orders.created", []byte("payload"), outboxd.EnqueueOptions{})
	if err := store.Attach(ctx, joinId, id); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Claim(ctx, "owner-1", 30, 1); err != nil {
		t.Fatal(err)
	}
	if err := store.Fail(ctx, "owner-1", []string{id}, "maximum retry attempts exceeded", "worker-a"); err != nil {
		t.Fatal(err)
	}

	wi, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if wi.Status != item.Dead {
		t.Fatalf("expected Dead, got %v", wi.Status)
	}
	if wi.ProcessedBy != "worker-a:FAILED" {
		t.Fatalf("expected worker-a:FAILED, got %q", wi.ProcessedBy)
	}

	j, err := store.GetJoin(ctx, joinId)
	if err != nil {
		t.Fatal(err)
	}
	if j.FailedSteps != 1 {
		t.Fatalf("expected FailedSteps=1, got %d", j.FailedSteps)
	}
}

func TestReapExpiredDoesNotIncrementAttemptCount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlstore.New(db)

	id, _ := store.Enqueue(ctx, "orders.created", []byte("payload"), outboxd.EnqueueOptions{})
	if _, err := store.Claim(ctx, "owner-1", 0, 1); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	n, err := store.ReapExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped row, got %d", n)
	}

	wi, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if wi.Status != item.Ready {
		t.Fatalf("expected Ready, got %v", wi.Status)
	}
	if wi.AttemptCount != 0 {
		t.Fatalf("expected AttemptCount=0 after reap, got %d", wi.AttemptCount)
	}
}

func TestCleanupDeletesTerminalRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlstore.New(db)

	id, _ := store.Enqueue(ctx, "orders.created", []byte("payload"), outboxd.EnqueueOptions{})
	if _, err := store.Claim(ctx, "owner-1", 30, 1); err != nil {
		t.Fatal(err)
	}
	if err := store.Ack(ctx, "owner-1", []string{id}, "worker-a"); err != nil {
		t.Fatal(err)
	}

	n, err := store.Cleanup(ctx, -time.Second) // everything processed before "now + 1s" is eligible
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted row, got %d", n)
	}

	if _, err := store.Get(ctx, id); err == nil {
		t.Fatal("expected NotFound after cleanup")
	}
}

func TestReviveReturnsDeadToReady(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqlstore.New(db)

	id, _ := store.Enqueue(ctx, "orders.created", []byte("payload"), outboxd.EnqueueOptions{})
	if _, err := store.Claim(ctx, "owner-1", 30, 1); err != nil {
		t.Fatal(err)
	}
	if err := store.Fail(ctx, "owner-1", []string{id}, "bad", "worker-a"); err != nil {
		t.Fatal(err)
	}

	if err := store.Revive(ctx, []string{id}, "operator retry", nil); err != nil {
		t.Fatal(err)
	}

	wi, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if wi.Status != item.Ready {
		t.Fatalf("expected Ready, got %v", wi.Status)
	}
	if wi.LastError != "operator retry" {
		t.Fatalf("expected LastError=operator retry, got %q", wi.LastError)
	}
}
