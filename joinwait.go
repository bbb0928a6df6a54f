package outboxd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bravellian/outboxd/item"
	"github.com/bravellian/outboxd/join"
)

// JoinWaitTopic is the reserved topic a JoinWaitHandler is registered
// under. Enqueueing a work item on this topic is how a caller asks the
// queue to notify it when a join finishes.
const JoinWaitTopic = "join.wait"

// JoinWaitPayload is the typed payload decoded from a join.wait work
// item (spec.md §4.7, §9 "Dynamic dispatch": a schema-specific
// decoder, not a free-form blob).
type JoinWaitPayload struct {
	JoinId              string          `json:"joinId"`
	FailIfAnyStepFailed bool            `json:"failIfAnyStepFailed"`
	OnCompleteTopic     string          `json:"onCompleteTopic"`
	OnCompletePayload   json.RawMessage `json:"onCompletePayload"`
	OnFailTopic         string          `json:"onFailTopic"`
	OnFailPayload       json.RawMessage `json:"onFailPayload"`
}

// errJoinNotDone is returned (unwrapped) by JoinWaitHandler.Handle
// while the join has not yet reached ExpectedSteps; the Dispatcher
// treats it as an ordinary retryable error and abandons the item with
// the standard backoff delay, so the wait re-polls on the normal
// retry cadence rather than busy-looping.
var errJoinNotDone = fmt.Errorf("outboxd: join not yet complete")

// JoinWaitHandler implements the built-in join.wait handler of
// spec.md §4.7 (component C10): it re-checks a join on every dispatch
// and, once every member has reported, enqueues the appropriate
// completion or failure follow-up work item. It does not check whether
// the join was already settled, so a redelivered join.wait item
// enqueues the follow-up again.
type JoinWaitHandler struct {
	joins JoinStore
	store Store
}

func NewJoinWaitHandler(joins JoinStore, store Store) *JoinWaitHandler {
	return &JoinWaitHandler{joins: joins, store: store}
}

func (h *JoinWaitHandler) Topic() string { return JoinWaitTopic }

func (h *JoinWaitHandler) Handle(ctx context.Context, wi *item.WorkItem) error {
	var payload JoinWaitPayload
	if err := json.Unmarshal(wi.Payload, &payload); err != nil {
		return NewPermanentError(fmt.Errorf("decode join.wait payload: %w", err))
	}

	j, err := h.joins.GetJoin(ctx, payload.JoinId)
	if err != nil {
		return err
	}

	if !j.Done() {
		return errJoinNotDone
	}

	if payload.FailIfAnyStepFailed && j.FailedSteps > 0 {
		if err := h.joins.UpdateStatus(ctx, j.Id, join.Failed); err != nil {
			return err
		}
		if payload.OnFailTopic != "" {
			if _, err := h.store.Enqueue(ctx, payload.OnFailTopic, orNullPayload(payload.OnFailPayload), EnqueueOptions{
				CorrelationId: j.Id,
			}); err != nil {
				return err
			}
		}
		return nil
	}

	if err := h.joins.UpdateStatus(ctx, j.Id, join.Completed); err != nil {
		return err
	}
	if payload.OnCompleteTopic != "" {
		if _, err := h.store.Enqueue(ctx, payload.OnCompleteTopic, orNullPayload(payload.OnCompletePayload), EnqueueOptions{
			CorrelationId: j.Id,
		}); err != nil {
			return err
		}
	}
	return nil
}

// orNullPayload substitutes the JSON literal "null" for an absent
// follow-up payload, since Enqueue requires a non-nil payload but a
// join.wait caller may not supply one.
func orNullPayload(raw json.RawMessage) []byte {
	if raw == nil {
		return []byte("null")
	}
	return raw
}
