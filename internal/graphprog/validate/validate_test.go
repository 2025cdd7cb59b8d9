package validate

import (
	"strings"
	"testing"

	"github.com/danshapiro/agentgraph/internal/graphprog/dot"
	"github.com/danshapiro/agentgraph/internal/graphprog/model"
)

func mustParse(t *testing.T, src string) *model.Graph {
	t.Helper()
	g, err := dot.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return g
}

func TestValidate_WellFormedProgramHasNoErrors(t *testing.T) {
	g := mustParse(t, `
digraph main {
  start
  end
  ask  [kind=Decision, name="Check", question="Known?"]
  work [kind=Action, name="Work", tool=Predict]
  sub  [kind=Program, name="Clarify", program=clarify]
  start -> ask
  ask -> work [label=yes]
  ask -> sub [label=no]
  work -> end
  sub -> end
}
`)
	if err := ValidateOrError(g); err != nil {
		t.Fatalf("expected valid program, got %v", err)
	}
}

func TestValidate_StartAndEndRules(t *testing.T) {
	assertHasRule(t, Validate(mustParse(t, `digraph G { end }`)), "start_node", SeverityError)
	assertHasRule(t, Validate(mustParse(t, `digraph G { start }`)), "end_node", SeverityError)

	g := mustParse(t, `
digraph G {
  start
  end
  a [kind=Action, tool=Predict]
  b [kind=Action, tool=Predict]
  start -> a
  start -> b
  a -> start
  b -> end
  end -> a
}
`)
	diags := Validate(g)
	assertHasRule(t, diags, "start_no_incoming", SeverityError)
	assertHasRule(t, diags, "start_one_outgoing", SeverityError)
	assertHasRule(t, diags, "end_no_outgoing", SeverityError)
}

func TestValidate_EndNeedsIncoming(t *testing.T) {
	g := mustParse(t, `
digraph G {
  start
  end
  a [kind=Action, tool=Predict]
  start -> a
  a -> a
}
`)
	diags := Validate(g)
	assertHasRule(t, diags, "end_has_incoming", SeverityError)
	assertHasRule(t, diags, "reachability", SeverityError)
}

func TestValidate_ReachabilityAndEdgeTargets(t *testing.T) {
	g := mustParse(t, `
digraph G {
  start
  end
  a [kind=Action, tool=Predict]
  orphan [kind=Action, tool=Predict]
  start -> a -> end
  orphan -> end
  a -> missing
}
`)
	diags := Validate(g)
	assertHasRule(t, diags, "reachability", SeverityError)
	assertHasRule(t, diags, "edge_target_exists", SeverityError)
	assertHasRule(t, diags, "action_next", SeverityError)

	foundNode, foundEdge := false, false
	for _, d := range diags {
		if d.Rule == "reachability" && d.NodeID == "orphan" {
			foundNode = true
		}
		if d.Rule == "edge_target_exists" && d.EdgeTo == "missing" {
			foundEdge = true
		}
	}
	if !foundNode {
		t.Fatalf("expected reachability diagnostic for orphan")
	}
	if !foundEdge {
		t.Fatalf("expected edge_target_exists diagnostic to carry edge ids")
	}
}

func TestValidate_ActionAndProgramEdges(t *testing.T) {
	g := mustParse(t, `
digraph G {
  start
  end
  a [kind=Action, tool=Predict]
  p [kind=Program, name="Call"]
  start -> a
  a -> p [label=yes]
  p -> end
}
`)
	diags := Validate(g)
	assertHasRule(t, diags, "action_next", SeverityError)
	assertHasRule(t, diags, "program_next", SeverityError)
}

func TestValidate_DecisionOptions(t *testing.T) {
	g := mustParse(t, `
digraph G {
  start
  end
  d [kind=Decision, name="Pick"]
  start -> d
  d -> end [label=yes]
  d -> end [label=YES]
}
`)
	diags := Validate(g)
	assertHasRule(t, diags, "decision_options", SeverityError)
	assertHasRule(t, diags, "decision_question", SeverityWarning)

	var msgs []string
	for _, d := range diags {
		if d.Rule == "decision_options" {
			msgs = append(msgs, d.Message)
		}
	}
	joined := strings.Join(msgs, "|")
	if !strings.Contains(joined, "duplicate") || !strings.Contains(joined, "at least two") {
		t.Fatalf("decision_options messages: %v", msgs)
	}
}

func TestValidate_UnknownKindAndMissingTool(t *testing.T) {
	g := mustParse(t, `
digraph G {
  start
  end
  a [kind=Action]
  odd [kind=Loop]
  start -> a -> odd -> end
}
`)
	diags := Validate(g)
	assertHasRule(t, diags, "node_kind", SeverityError)
	assertHasRule(t, diags, "action_tool", SeverityWarning)
	if len(Errors(diags)) == 0 {
		t.Fatalf("Errors() dropped the node_kind error")
	}
}

type forbidNode string

func (f forbidNode) Name() string { return "forbid_node" }
func (f forbidNode) Apply(g *model.Graph) []Diagnostic {
	if _, ok := g.Nodes[string(f)]; ok {
		return []Diagnostic{{Rule: f.Name(), Severity: SeverityError, Message: "forbidden", NodeID: string(f)}}
	}
	return nil
}

func TestValidateOrError_IncludesExtraRules(t *testing.T) {
	g := mustParse(t, `digraph G { start; end; start -> end }`)
	if err := ValidateOrError(g); err != nil {
		t.Fatalf("minimal program: %v", err)
	}
	err := ValidateOrError(g, forbidNode("end"))
	if err == nil || !strings.Contains(err.Error(), "forbid_node") {
		t.Fatalf("expected extra rule failure, got %v", err)
	}
}

func assertHasRule(t *testing.T, diags []Diagnostic, rule string, sev Severity) {
	t.Helper()
	for _, d := range diags {
		if d.Rule == rule && d.Severity == sev {
			return
		}
	}
	t.Fatalf("expected diagnostic rule=%s severity=%s; got %+v", rule, sev, diags)
}
