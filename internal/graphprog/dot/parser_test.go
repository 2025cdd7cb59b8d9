package dot

import (
	"testing"

	"github.com/danshapiro/agentgraph/internal/graphprog/model"
)

func TestParse_ProgramWithAllNodeKinds(t *testing.T) {
	src := []byte(`
// @desc: Answer the question, clarifying first when needed
digraph main {
    start [kind=Control, name=Start]
    end   [kind=Control, name=End]

    search  [kind=Action, name="Find facts", tool=program_search, prompt="Search for\nprograms"]
    known   [kind=Decision, name="Check", question="Is the answer known?"]
    clarify [kind=Program, name="Clarify the question", program=clarify]

    start -> search -> known
    known -> end [label=yes]
    known -> clarify [label=NO]
    clarify -> end
}
`)
	g, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if g.Name != "main" {
		t.Fatalf("graph name: got %q", g.Name)
	}
	if g.Description != "Answer the question, clarifying first when needed" {
		t.Fatalf("description: got %q", g.Description)
	}
	if len(g.Nodes) != 5 {
		t.Fatalf("nodes: got %d", len(g.Nodes))
	}
	if len(g.Edges) != 5 {
		t.Fatalf("edges: got %d", len(g.Edges))
	}
	a, ok := g.Nodes["search"].Payload.(model.Action)
	if !ok {
		t.Fatalf("search payload: %#v", g.Nodes["search"].Payload)
	}
	if a.Tool != "program_search" || a.Prompt != "Search for\nprograms" || a.Purpose != "Find facts" {
		t.Fatalf("action payload: %#v", a)
	}
	if got := g.DecisionOptions("known"); len(got) != 2 || got[0] != "YES" || got[1] != "NO" {
		t.Fatalf("decision options: %v", got)
	}
	if p, ok := g.Nodes["clarify"].Payload.(model.Program); !ok || p.Program != "clarify" {
		t.Fatalf("program payload: %#v", g.Nodes["clarify"].Payload)
	}
	if !g.Start().IsStart() || !g.End().IsEnd() {
		t.Fatalf("control nodes not decoded")
	}
}

func TestParse_DefaultsCommentsAndBareControlNodes(t *testing.T) {
	src := []byte(`
# leading hash comment
digraph "helper" {
    /* block comment with -> and [ ] */
    node [kind=Action, tool=Predict]
    start
    end
    a [name="Say hello" prompt="Greet the user"]
    b [name=Farewell, prompt="Say bye"]; // trailing
    start -> a -> b -> end
}
`)
	g, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if g.Name != "helper" {
		t.Fatalf("name: %q", g.Name)
	}
	if g.Description != "" {
		t.Fatalf("description should be empty, got %q", g.Description)
	}
	// start/end inherit kind=Action from the node defaults but carry no
	// Start/End name, so they decode as Actions.
	if g.Nodes["start"].Kind() != model.KindAction {
		t.Fatalf("start kind with defaults: %q", g.Nodes["start"].Kind())
	}
	b, ok := g.Nodes["b"].Payload.(model.Action)
	if !ok || b.Tool != "Predict" || b.Purpose != "Farewell" {
		t.Fatalf("b payload: %#v", g.Nodes["b"].Payload)
	}
	if got := len(g.Outgoing("a")); got != 1 {
		t.Fatalf("chained edge expansion: got %d", got)
	}
}

func TestParse_UnknownKindLeavesNilPayload(t *testing.T) {
	g, err := Parse([]byte(`digraph x { start; end; odd [kind=Loop]; start -> odd -> end }`))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if g.Nodes["odd"].Payload != nil {
		t.Fatalf("expected nil payload, got %#v", g.Nodes["odd"].Payload)
	}
	if !g.Nodes["start"].IsStart() || !g.Nodes["end"].IsEnd() {
		t.Fatalf("bare start/end not decoded as control nodes")
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	cases := map[string]string{
		"missing brace":     `digraph x { start -> end`,
		"trailing tokens":   `digraph x { } extra`,
		"unterminated str":  `digraph x { a [prompt="oops] }`,
		"unterminated note": `digraph x { /* never closed }`,
		"not a digraph":     `graph x { }`,
	}
	for name, src := range cases {
		if _, err := Parse([]byte(src)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseName(t *testing.T) {
	name, err := ParseName([]byte("// @desc: x\ndigraph sub_1 { start -> end }"))
	if err != nil {
		t.Fatalf("ParseName: %v", err)
	}
	if name != "sub_1" {
		t.Fatalf("name: %q", name)
	}
}
