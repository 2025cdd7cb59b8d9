package model

import "testing"

func TestDecodePayload_Variants(t *testing.T) {
	cases := []struct {
		id    string
		attrs map[string]string
		want  Payload
	}{
		{id: "start", attrs: map[string]string{}, want: Control{Name: ControlStart}},
		{id: "END", attrs: map[string]string{}, want: Control{Name: ControlEnd}},
		{id: "s", attrs: map[string]string{"kind": "control", "name": "start"}, want: Control{Name: ControlStart}},
		{id: "a", attrs: map[string]string{"kind": "Action", "name": "Greet", "tool": "Predict", "prompt": "Say hi"}, want: Action{Purpose: "Greet", Tool: "Predict", Prompt: "Say hi"}},
		{id: "d", attrs: map[string]string{"kind": "DECISION", "question": "Done?"}, want: Decision{Purpose: "d", Question: "Done?"}},
		{id: "p", attrs: map[string]string{"kind": "Program", "label": "Clarify", "program": "clarify"}, want: Program{Purpose: "Clarify", Program: "clarify"}},
	}
	for _, tc := range cases {
		got, err := DecodePayload(tc.id, tc.attrs)
		if err != nil {
			t.Fatalf("%s: DecodePayload error: %v", tc.id, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %#v want %#v", tc.id, got, tc.want)
		}
	}
}

func TestDecodePayload_Rejects(t *testing.T) {
	if _, err := DecodePayload("x", map[string]string{}); err == nil {
		t.Fatalf("expected missing kind error")
	}
	if _, err := DecodePayload("x", map[string]string{"kind": "Loop"}); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if _, err := DecodePayload("x", map[string]string{"kind": "Control", "name": "Middle"}); err == nil {
		t.Fatalf("expected bad control name error")
	}
}

func TestGraph_SuccessorAndOptions(t *testing.T) {
	g := NewGraph("g")
	for i, id := range []string{"start", "ask", "yes", "no", "end"} {
		n := NewNode(id)
		n.Order = i
		if err := g.AddNode(n); err != nil {
			t.Fatal(err)
		}
	}
	g.Nodes["start"].Payload = Control{Name: ControlStart}
	g.Nodes["end"].Payload = Control{Name: ControlEnd}
	g.Nodes["ask"].Payload = Decision{Purpose: "Ask", Question: "?"}

	add := func(from, to, label string) {
		e := NewEdge(from, to)
		if label != "" {
			e.Attrs["label"] = label
		}
		_ = g.AddEdge(e)
	}
	add("start", "ask", "")
	add("ask", "yes", "yes")
	add("ask", "no", "No")
	add("ask", "no", "NO")
	add("yes", "end", "")
	add("no", "end", "")

	if got := g.Start(); got == nil || got.ID != "start" {
		t.Fatalf("Start: %v", got)
	}
	if got := g.Next("start"); got == nil || got.ID != "ask" {
		t.Fatalf("Next(start): %v", got)
	}
	if got := g.Successor("ask", "no"); got == nil || got.ID != "no" {
		t.Fatalf("Successor(ask, no): %v", got)
	}
	opts := g.DecisionOptions("ask")
	if len(opts) != 2 || opts[0] != "YES" || opts[1] != "NO" {
		t.Fatalf("options: %v", opts)
	}
	if got := g.Incoming("end"); len(got) != 2 {
		t.Fatalf("incoming(end): %d", len(got))
	}
}

func TestGraph_CloneIsIndependent(t *testing.T) {
	g := NewGraph("g")
	n := NewNode("a")
	n.Attrs["k"] = "v"
	_ = g.AddNode(n)
	cp := g.Clone()
	cp.Nodes["a"].Attrs["k"] = "changed"
	if g.Nodes["a"].Attrs["k"] != "v" {
		t.Fatalf("clone shares attrs")
	}
}
