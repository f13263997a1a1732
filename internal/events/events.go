// Package events carries domain events from the lending aggregates to
// whoever consumes them downstream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable record of something that happened to an aggregate.
type Event interface {
	EventType() string
	AggregateID() uuid.UUID
	AggregateType() string
	OccurredAt() time.Time
}

// Sink receives events after the aggregate that produced them was persisted.
type Sink interface {
	Publish(ctx context.Context, evs ...Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, evs ...Event) error

func (f SinkFunc) Publish(ctx context.Context, evs ...Event) error {
	return f(ctx, evs...)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, ...Event) error { return nil })

// Multi publishes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, evs ...Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, evs...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Envelope is the serialized form of an event.
type Envelope struct {
	Type          string          `json:"type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Data          json.RawMessage `json:"data"`
}

// Seal serializes an event into an envelope.
func Seal(ev Event) (Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", ev.EventType(), err)
	}
	return Envelope{
		Type:          ev.EventType(),
		AggregateID:   ev.AggregateID(),
		AggregateType: ev.AggregateType(),
		OccurredAt:    ev.OccurredAt().UTC(),
		Data:          data,
	}, nil
}

// Recorder keeps published events in memory. Tests use it as a sink.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evs ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType())
	}
	return out
}

// Reset forgets all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
