// Package events defines the framework's outbound event stream: experiment
// lifecycle notifications published to a caller-supplied sink. The NATS sink
// carries them across process boundaries; the memory sink serves embedded
// use and tests.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type identifies a framework event
type Type string

const (
	TypeExperimentCreated  Type = "experiment.created"
	TypeExperimentAnalyzed Type = "experiment.analyzed"
	TypeExperimentStopped  Type = "experiment.stopped"
	TypeExperimentAlert    Type = "experiment.alert"
)

// Event is one framework notification. Payload carries the relevant
// experiment or result snapshot, already serialized so sinks never touch
// engine internals.
type Event struct {
	ID           uuid.UUID       `json:"id"`
	Type         Type            `json:"type"`
	ExperimentID uuid.UUID       `json:"experiment_id"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// New builds an event, marshaling the payload
func New(eventType Type, experimentID uuid.UUID, payload any) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Event{
		ID:           uuid.New(),
		Type:         eventType,
		ExperimentID: experimentID,
		Payload:      raw,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// Sink receives framework events
type Sink interface {
	Publish(ctx context.Context, ev *Event) error
	Close() error
}

// Tee fans publishes out to several sinks. Publish returns the first error
// after attempting every sink, so one failing destination does not starve
// the others.
func Tee(sinks ...Sink) Sink {
	return teeSink(sinks)
}

type teeSink []Sink

func (t teeSink) Publish(ctx context.Context, ev *Event) error {
	var firstErr error
	for _, s := range t {
		if err := s.Publish(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t teeSink) Close() error {
	var firstErr error
	for _, s := range t {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Handler is a callback for subscribed events
type Handler func(ev *Event)
