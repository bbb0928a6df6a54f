package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	outboxd "github.com/bravellian/outboxd"
	"github.com/bravellian/outboxd/join"
)

type incrementKind int

const (
	incrementCompleted incrementKind = iota
	incrementFailed
)

func (s *Store) CreateJoin(ctx context.Context, tenantId string, expectedSteps uint32, metadata string) (string, error) {
	if expectedSteps < 1 {
		return "", &outboxd.ValidationError{Field: "expectedSteps", Reason: "must be >= 1"}
	}
	now := time.Now()
	m := &joinModel{
		Id:            uuid.NewString(),
		TenantId:      tenantId,
		ExpectedSteps: expectedSteps,
		Status:        join.Pending,
		Metadata:      metadata,
		CreatedOn:     now,
		LastUpdatedOn: now,
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return "", &outboxd.TransientBackendError{Op: "create_join", Err: err}
	}
	return m.Id, nil
}

// Attach idempotently links workItemId to joinId. A re-attach of the
// same pair is a no-op: bun's ON CONFLICT DO NOTHING targets the
// member table's (join_id, work_item_id) primary key.
func (s *Store) Attach(ctx context.Context, joinId, workItemId string) error {
	m := &joinMemberModel{
		JoinId:     joinId,
		WorkItemId: workItemId,
		Counted:    false,
		AttachedOn: time.Now(),
	}
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (join_id, work_item_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return &outboxd.TransientBackendError{Op: "attach", Err: err}
	}
	return nil
}

func (s *Store) IncrementCompleted(ctx context.Context, joinId, workItemId string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return incrementMember(ctx, tx, joinId, workItemId, incrementCompleted)
	})
}

func (s *Store) IncrementFailed(ctx context.Context, joinId, workItemId string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return incrementMember(ctx, tx, joinId, workItemId, incrementFailed)
	})
}

// incrementMembers increments the counter for every join workItemId is
// attached to, within tx. It is Store.Ack/Fail's automatic path; it
// calls incrementMember per join, the same function the manual
// IncrementCompleted/IncrementFailed path calls directly, so both go
// through the same clamp-and-mark-counted logic (spec.md §4.2).
func (s *Store) incrementMembers(ctx context.Context, tx bun.Tx, workItemId string, kind incrementKind) error {
	var joinIds []string
	err := tx.NewSelect().
		Model((*joinMemberModel)(nil)).
		Column("join_id").
		Where("work_item_id = ?", workItemId).
		Where("counted = ?", false).
		Scan(ctx, &joinIds)
	if err != nil {
		return err
	}
	for _, joinId := range joinIds {
		if err := incrementMember(ctx, tx, joinId, workItemId, kind); err != nil {
			return err
		}
	}
	return nil
}

// incrementMember performs the clamped, idempotent-per-member counter
// bump: lock the member row, skip if already counted, lock the join
// row, then increment the appropriate counter (clamped at
// ExpectedSteps) and mark the member counted.
//
// Grounded on the teacher's join-parent locking idiom from the pack
// (other_examples' job_repo.go FinalizeParentJob: lock the parent row
// FOR UPDATE, then aggregate and update within the same lock), applied
// here to join_aggregates/join_members instead of a parent/child job
// hierarchy.
func incrementMember(ctx context.Context, tx bun.Tx, joinId, workItemId string, kind incrementKind) error {
	var member joinMemberModel
	err := tx.NewSelect().
		Model(&member).
		Where("join_id = ?", joinId).
		Where("work_item_id = ?", workItemId).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if member.Counted {
		return nil
	}

	var j joinModel
	if err := tx.NewSelect().Model(&j).Where("id = ?", joinId).For("UPDATE").Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}

	switch kind {
	case incrementCompleted:
		if j.CompletedSteps < j.ExpectedSteps {
			j.CompletedSteps++
		}
	case incrementFailed:
		if j.FailedSteps < j.ExpectedSteps {
			j.FailedSteps++
		}
	}
	j.LastUpdatedOn = time.Now()

	if _, err := tx.NewUpdate().
		Model(&j).
		Column("completed_steps", "failed_steps", "last_updated_on").
		Where("id = ?", joinId).
		Exec(ctx); err != nil {
		return err
	}

	member.Counted = true
	_, err = tx.NewUpdate().
		Model(&member).
		Column("counted").
		Where("join_id = ?", joinId).
		Where("work_item_id = ?", workItemId).
		Exec(ctx)
	return err
}

func (s *Store) UpdateStatus(ctx context.Context, joinId string, status join.Status) error {
	res, err := s.db.NewUpdate().
		Model((*joinModel)(nil)).
		Set("status = ?", status).
		Set("last_updated_on = ?", time.Now()).
		Where("id = ?", joinId).
		Exec(ctx)
	if err != nil {
		return &outboxd.TransientBackendError{Op: "update_join_status", Err: err}
	}
	if !isAffected(res) {
		return &outboxd.NotFound{Id: joinId}
	}
	return nil
}

func (s *Store) GetJoin(ctx context.Context, joinId string) (*join.Join, error) {
	var m joinModel
	err := s.db.NewSelect().Model(&m).Where("id = ?", joinId).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &outboxd.NotFound{Id: joinId}
		}
		return nil, &outboxd.TransientBackendError{Op: "get_join", Err: err}
	}
	return m.toJoin(), nil
}

func (s *Store) GetMembers(ctx context.Context, joinId string) ([]*join.Member, error) {
	var models []joinMemberModel
	err := s.db.NewSelect().
		Model(&models).
		Where("join_id = ?", joinId).
		Order("attached_on ASC").
		Scan(ctx)
	if err != nil {
		return nil, &outboxd.TransientBackendError{Op: "get_members", Err: err}
	}
	out := make([]*join.Member, len(models))
	for i := range models {
		out[i] = models[i].toMember()
	}
	return out, nil
}

var _ outboxd.JoinStore = (*Store)(nil)
