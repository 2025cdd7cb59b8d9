package events

import (
	"context"
	"testing"
)

type recorder struct{ got []Type }

func (r *recorder) Emit(_ context.Context, ev Event) { r.got = append(r.got, ev.Type) }

func TestJoin(t *testing.T) {
	if _, ok := Join(nil, nil).(Nop); !ok {
		t.Fatalf("Join of nothing should be Nop")
	}
	a := &recorder{}
	if got := Join(nil, a); got != Sink(a) {
		t.Fatalf("Join of one sink should return it unchanged")
	}

	b := &recorder{}
	s := Join(a, Join(b, Nop{}))
	s.Emit(context.Background(), Event{Type: RunStarted})
	s.Emit(context.Background(), Event{Type: RunFinished})
	if len(a.got) != 2 || len(b.got) != 2 || b.got[1] != RunFinished {
		t.Fatalf("a=%v b=%v", a.got, b.got)
	}
}
