package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/bravellian/outboxd/envelope"
	"github.com/bravellian/outboxd/item"
	"github.com/bravellian/outboxd/join"
)

// itemModel is the row shape for work_items. Id is a plain string
// rather than uuid.UUID because Store.Enqueue must accept a
// caller-supplied dedup key for inbox usage, not only generated ids.
type itemModel struct {
	bun.BaseModel `bun:"table:work_items"`

	Id            string `bun:"id,pk"`
	Topic         string `bun:"topic,notnull"`
	Payload       []byte `bun:"payload"`
	CorrelationId string `bun:"correlation_id"`
	Source        string `bun:"source"`
	Hash          string `bun:"hash"`

	Status       item.Status `bun:"status,notnull,default:0"`
	AttemptCount uint32      `bun:"attempt_count,notnull,default:0"`
	LockedUntil  *time.Time  `bun:"locked_until,nullzero"`
	OwnerToken   string      `bun:"owner_token"`
	DueOn        *time.Time  `bun:"due_on,nullzero"`

	CreatedOn   time.Time  `bun:"created_on,notnull,default:current_timestamp"`
	ProcessedOn *time.Time `bun:"processed_on,nullzero"`
	ProcessedBy string     `bun:"processed_by"`
	LastError   string     `bun:"last_error"`
}

func (m *itemModel) toWorkItem() *item.WorkItem {
	return &item.WorkItem{
		Envelope: envelope.Envelope{
			Id:            m.Id,
			Topic:         m.Topic,
			Payload:       m.Payload,
			CorrelationId: m.CorrelationId,
			Source:        m.Source,
			Hash:          m.Hash,
		},
		Status:       m.Status,
		AttemptCount: m.AttemptCount,
		LockedUntil:  m.LockedUntil,
		OwnerToken:   m.OwnerToken,
		DueOn:        m.DueOn,
		CreatedOn:    m.CreatedOn,
		ProcessedOn:  m.ProcessedOn,
		ProcessedBy:  m.ProcessedBy,
		LastError:    m.LastError,
	}
}

// joinModel is the row shape for join_aggregates.
type joinModel struct {
	bun.BaseModel `bun:"table:join_aggregates"`

	Id             string      `bun:"id,pk"`
	TenantId       string      `bun:"tenant_id"`
	ExpectedSteps  uint32      `bun:"expected_steps,notnull"`
	CompletedSteps uint32      `bun:"completed_steps,notnull,default:0"`
	FailedSteps    uint32      `bun:"failed_steps,notnull,default:0"`
	Status         join.Status `bun:"status,notnull,default:0"`
	Metadata       string      `bun:"metadata"`

	CreatedOn     time.Time `bun:"created_on,notnull,default:current_timestamp"`
	LastUpdatedOn time.Time `bun:"last_updated_on,notnull,default:current_timestamp"`
}

func (m *joinModel) toJoin() *join.Join {
	return &join.Join{
		Id:             m.Id,
		TenantId:       m.TenantId,
		ExpectedSteps:  m.ExpectedSteps,
		CompletedSteps: m.CompletedSteps,
		FailedSteps:    m.FailedSteps,
		Status:         m.Status,
		Metadata:       m.Metadata,
		CreatedOn:      m.CreatedOn,
		LastUpdatedOn:  m.LastUpdatedOn,
	}
}

// joinMemberModel is the row shape for join_members, keyed by
// (join_id, work_item_id). join_id carries an ON DELETE CASCADE
// foreign key to join_aggregates.id, so removing a join row also
// removes its members.
type joinMemberModel struct {
	bun.BaseModel `bun:"table:join_members"`

	JoinId     string    `bun:"join_id,pk"`
	WorkItemId string    `bun:"work_item_id,pk"`
	Counted    bool      `bun:"counted,notnull,default:false"`
	AttachedOn time.Time `bun:"attached_on,notnull,default:current_timestamp"`
}

func (m *joinMemberModel) toMember() *join.Member {
	return &join.Member{
		JoinId:     m.JoinId,
		WorkItemId: m.WorkItemId,
		Counted:    m.Counted,
		AttachedOn: m.AttachedOn,
	}
}
