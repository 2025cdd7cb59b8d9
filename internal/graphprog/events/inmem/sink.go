// Package inmem keeps run events in memory, mostly for tests and for the
// CLI's end-of-run summary.
package inmem

import (
	"context"
	"sync"

	"github.com/danshapiro/agentgraph/internal/graphprog/events"
)

type Sink struct {
	mu     sync.Mutex
	events []events.Event
}

func New() *Sink { return &Sink{} }

func (s *Sink) Emit(_ context.Context, ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, copyEvent(ev))
}

// Events returns a snapshot. Callers may modify it freely.
func (s *Sink) Events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.events))
	for i, ev := range s.events {
		out[i] = copyEvent(ev)
	}
	return out
}

// Types lists the event types in emission order.
func (s *Sink) Types() []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Type, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func copyEvent(ev events.Event) events.Event {
	if ev.Detail != nil {
		d := make(map[string]any, len(ev.Detail))
		for k, v := range ev.Detail {
			d[k] = v
		}
		ev.Detail = d
	}
	return ev
}
