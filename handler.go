package outboxd

import (
	"context"
	"fmt"
	"strings"

	"github.com/bravellian/outboxd/item"
)

// Handler processes one claimed work item. Handlers must be
// idempotent: the queue provides at-least-once delivery, and a raised
// error (or a crash before Ack) redelivers the same item.
type Handler interface {
	Topic() string
	Handle(ctx context.Context, wi *item.WorkItem) error
}

// HandlerFunc adapts a plain function to Handler for a given topic.
type HandlerFunc struct {
	TopicName string
	Fn        func(ctx context.Context, wi *item.WorkItem) error
}

func (h HandlerFunc) Topic() string { return h.TopicName }

func (h HandlerFunc) Handle(ctx context.Context, wi *item.WorkItem) error {
	return h.Fn(ctx, wi)
}

// PermanentError marks a handler failure that should never be
// retried: the Dispatcher routes it straight to Fail instead of
// Abandon, regardless of remaining attempts. Handlers opt into this by
// wrapping their error with NewPermanentError; an ordinary error (even
// one wrapping a non-idempotent-redelivery complaint) is retryable by
// default, per spec.md §4.3.
type PermanentError struct {
	Err error
}

func NewPermanentError(err error) *PermanentError {
	return &PermanentError{Err: err}
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// HandlerRegistry resolves a topic to its Handler with an
// exact-case-insensitive match. Duplicate registration is a
// *ConfigurationError detected at construction time (spec.md §6).
type HandlerRegistry struct {
	byTopic map[string]Handler
}

// NewHandlerRegistry builds a registry from a set of handlers,
// rejecting duplicate (case-insensitive) topics.
func NewHandlerRegistry(handlers ...Handler) (*HandlerRegistry, error) {
	r := &HandlerRegistry{byTopic: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a single handler, rejecting a topic already present.
func (r *HandlerRegistry) Register(h Handler) error {
	key := strings.ToLower(h.Topic())
	if _, ok := r.byTopic[key]; ok {
		return &ConfigurationError{Reason: fmt.Sprintf("duplicate handler registration for topic %q", h.Topic())}
	}
	r.byTopic[key] = h
	return nil
}

// Resolve looks up the handler for topic, case-insensitively.
func (r *HandlerRegistry) Resolve(topic string) (Handler, bool) {
	h, ok := r.byTopic[strings.ToLower(topic)]
	return h, ok
}
