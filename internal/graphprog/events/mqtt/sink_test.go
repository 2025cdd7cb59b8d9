package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/danshapiro/agentgraph/internal/graphprog/events"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newToken(p.err)
}

func TestSink_PublishesJSONPerRunTopic(t *testing.T) {
	pub := &fakePublisher{}
	s, err := New(pub, Config{Topic: "lab/runs/", QoS: 1})
	if err != nil {
		t.Fatal(err)
	}
	s.Emit(context.Background(), events.Event{RunID: "01RUN", Seq: 3, Type: events.ProgramCalled, Program: "main"})

	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages", len(pub.msgs))
	}
	m := pub.msgs[0]
	if m.topic != "lab/runs/01RUN" || m.qos != 1 {
		t.Fatalf("topic=%q qos=%d", m.topic, m.qos)
	}
	var got events.Event
	if err := json.Unmarshal(m.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Type != events.ProgramCalled || got.Program != "main" || got.Seq != 3 {
		t.Fatalf("decoded %+v", got)
	}
}

func TestSink_Msgpack(t *testing.T) {
	pub := &fakePublisher{}
	s, err := New(pub, Config{Codec: CodecMsgpack})
	if err != nil {
		t.Fatal(err)
	}
	s.Emit(context.Background(), events.Event{RunID: "r", Type: events.DecisionResolved, Detail: map[string]any{"answer": "YES"}})
	if pub.msgs[0].topic != DefaultTopic+"/r" {
		t.Fatalf("topic %q", pub.msgs[0].topic)
	}
	var got events.Event
	if err := msgpack.Unmarshal(pub.msgs[0].payload, &got); err != nil {
		t.Fatalf("payload is not msgpack: %v", err)
	}
	if got.Detail["answer"] != "YES" {
		t.Fatalf("detail %+v", got.Detail)
	}
}

func TestSink_PublishFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	s, err := New(pub, Config{})
	if err != nil {
		t.Fatal(err)
	}
	s.Emit(context.Background(), events.Event{RunID: "r", Type: events.RunFailed})
	s.Emit(context.Background(), events.Event{RunID: "r", Type: events.RunFinished})
	if len(pub.msgs) != 2 {
		t.Fatalf("later events should still be attempted")
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	if _, err := New(&fakePublisher{}, Config{Codec: "xml"}); err == nil {
		t.Fatalf("expected codec error")
	}
	if _, err := New(&fakePublisher{}, Config{QoS: 3}); err == nil {
		t.Fatalf("expected qos error")
	}
	if _, err := Dial(Config{}); err == nil {
		t.Fatalf("expected missing broker error")
	}
}
