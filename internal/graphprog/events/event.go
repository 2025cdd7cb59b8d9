// Package events describes what happens during an interpreter run so that
// observers outside the process can follow along.
package events

import (
	"context"
	"time"
)

type Type string

const (
	RunStarted       Type = "run_started"
	ProgramCalled    Type = "program_called"
	ActionExecuted   Type = "action_executed"
	DecisionResolved Type = "decision_resolved"
	ProgramEnded     Type = "program_ended"
	RunFinished      Type = "run_finished"
	RunFailed        Type = "run_failed"
)

type Event struct {
	RunID   string         `json:"run_id" msgpack:"run_id"`
	Seq     int            `json:"seq" msgpack:"seq"`
	Time    time.Time      `json:"time" msgpack:"time"`
	Type    Type           `json:"type" msgpack:"type"`
	Program string         `json:"program,omitempty" msgpack:"program,omitempty"`
	Node    string         `json:"node,omitempty" msgpack:"node,omitempty"`
	Kind    string         `json:"kind,omitempty" msgpack:"kind,omitempty"`
	Detail  map[string]any `json:"detail,omitempty" msgpack:"detail,omitempty"`
}

// Sink receives events in order. Emit must not block the run for long; a
// failing sink logs and carries on.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Multi fans every event out to each sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// Join drops nil sinks and flattens the rest. It returns Nop when nothing
// remains.
func Join(sinks ...Sink) Sink {
	var out Multi
	for _, s := range sinks {
		switch v := s.(type) {
		case nil:
		case Multi:
			out = append(out, v...)
		default:
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Nop{}
	case 1:
		return out[0]
	}
	return out
}
