package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danshapiro/agentgraph/internal/graphprog/model"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

type Diagnostic struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	NodeID   string   `json:"node_id,omitempty"`
	EdgeFrom string   `json:"edge_from,omitempty"`
	EdgeTo   string   `json:"edge_to,omitempty"`
}

func (d Diagnostic) String() string {
	var where []string
	if d.NodeID != "" {
		where = append(where, "node="+d.NodeID)
	}
	if d.EdgeFrom != "" || d.EdgeTo != "" {
		where = append(where, fmt.Sprintf("edge=%s->%s", d.EdgeFrom, d.EdgeTo))
	}
	s := fmt.Sprintf("%s %s: %s", d.Severity, d.Rule, d.Message)
	if len(where) > 0 {
		s += " (" + strings.Join(where, " ") + ")"
	}
	return s
}

// LintRule lets callers add checks on top of the built-in rules.
type LintRule interface {
	Name() string
	Apply(g *model.Graph) []Diagnostic
}

// Validate runs all built-in lint rules and any extra rules against the graph.
// Extra rules run after the built-ins.
func Validate(g *model.Graph, extraRules ...LintRule) []Diagnostic {
	if g == nil {
		return []Diagnostic{{Rule: "graph_nil", Severity: SeverityError, Message: "graph is nil"}}
	}
	var diags []Diagnostic
	diags = append(diags, lintNodeKinds(g)...)
	diags = append(diags, lintStartNode(g)...)
	diags = append(diags, lintEndNode(g)...)
	diags = append(diags, lintEdgeTargetsExist(g)...)
	diags = append(diags, lintReachability(g)...)
	diags = append(diags, lintActionNext(g)...)
	diags = append(diags, lintProgramNext(g)...)
	diags = append(diags, lintDecisionOptions(g)...)
	diags = append(diags, lintDecisionQuestion(g)...)
	diags = append(diags, lintActionTool(g)...)

	for _, rule := range extraRules {
		if rule != nil {
			diags = append(diags, rule.Apply(g)...)
		}
	}
	return diags
}

// Errors filters diags down to SeverityError.
func Errors(diags []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

func ValidateOrError(g *model.Graph, extraRules ...LintRule) error {
	var errs []string
	for _, d := range Errors(Validate(g, extraRules...)) {
		errs = append(errs, d.Rule+": "+d.Message)
	}
	if len(errs) > 0 {
		name := ""
		if g != nil {
			name = g.Name
		}
		return fmt.Errorf("program %q failed validation: %s", name, strings.Join(errs, "; "))
	}
	return nil
}

func lintNodeKinds(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.SortedNodeIDs() {
		n := g.Nodes[id]
		if n.Payload != nil {
			continue
		}
		_, err := model.DecodePayload(id, n.Attrs)
		msg := "node kind could not be decoded"
		if err != nil {
			msg = err.Error()
		}
		diags = append(diags, Diagnostic{
			Rule:     "node_kind",
			Severity: SeverityError,
			Message:  msg,
			NodeID:   id,
		})
	}
	return diags
}

func controlIDs(g *model.Graph, name string) []string {
	var ids []string
	for _, id := range g.SortedNodeIDs() {
		if c, ok := g.Nodes[id].Payload.(model.Control); ok && c.Name == name {
			ids = append(ids, id)
		}
	}
	return ids
}

func lintStartNode(g *model.Graph) []Diagnostic {
	ids := controlIDs(g, model.ControlStart)
	if len(ids) != 1 {
		return []Diagnostic{{
			Rule:     "start_node",
			Severity: SeverityError,
			Message:  fmt.Sprintf("program must have exactly one Start node (found %d: %v)", len(ids), ids),
		}}
	}
	var diags []Diagnostic
	start := ids[0]
	if in := g.Incoming(start); len(in) > 0 {
		for _, e := range in {
			diags = append(diags, Diagnostic{
				Rule:     "start_no_incoming",
				Severity: SeverityError,
				Message:  "Start node must not have incoming edges",
				NodeID:   start,
				EdgeFrom: e.From,
				EdgeTo:   e.To,
			})
		}
	}
	if out := g.Outgoing(start); len(out) != 1 {
		diags = append(diags, Diagnostic{
			Rule:     "start_one_outgoing",
			Severity: SeverityError,
			Message:  fmt.Sprintf("Start node must have exactly one outgoing edge (found %d)", len(out)),
			NodeID:   start,
		})
	} else if !out[0].IsNext() {
		diags = append(diags, Diagnostic{
			Rule:     "start_one_outgoing",
			Severity: SeverityError,
			Message:  fmt.Sprintf("Start node edge must be NEXT, got %s", out[0].Label()),
			NodeID:   start,
			EdgeFrom: out[0].From,
			EdgeTo:   out[0].To,
		})
	}
	return diags
}

func lintEndNode(g *model.Graph) []Diagnostic {
	ids := controlIDs(g, model.ControlEnd)
	if len(ids) != 1 {
		return []Diagnostic{{
			Rule:     "end_node",
			Severity: SeverityError,
			Message:  fmt.Sprintf("program must have exactly one End node (found %d: %v)", len(ids), ids),
		}}
	}
	var diags []Diagnostic
	end := ids[0]
	for _, e := range g.Outgoing(end) {
		diags = append(diags, Diagnostic{
			Rule:     "end_no_outgoing",
			Severity: SeverityError,
			Message:  "End node must not have outgoing edges",
			NodeID:   end,
			EdgeFrom: e.From,
			EdgeTo:   e.To,
		})
	}
	if len(g.Incoming(end)) == 0 {
		diags = append(diags, Diagnostic{
			Rule:     "end_has_incoming",
			Severity: SeverityError,
			Message:  "End node must have at least one incoming edge",
			NodeID:   end,
		})
	}
	return diags
}

func lintEdgeTargetsExist(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.From]; !ok {
			diags = append(diags, Diagnostic{
				Rule:     "edge_target_exists",
				Severity: SeverityError,
				Message:  "edge references missing from-node",
				EdgeFrom: e.From,
				EdgeTo:   e.To,
			})
		}
		if _, ok := g.Nodes[e.To]; !ok {
			diags = append(diags, Diagnostic{
				Rule:     "edge_target_exists",
				Severity: SeverityError,
				Message:  "edge references missing to-node",
				EdgeFrom: e.From,
				EdgeTo:   e.To,
			})
		}
	}
	return diags
}

func lintReachability(g *model.Graph) []Diagnostic {
	start := g.Start()
	if start == nil {
		return nil
	}
	seen := map[string]bool{start.ID: true}
	queue := []string{start.ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing(cur) {
			if _, ok := g.Nodes[e.To]; !ok || seen[e.To] {
				continue
			}
			seen[e.To] = true
			queue = append(queue, e.To)
		}
	}
	var diags []Diagnostic
	for _, id := range g.SortedNodeIDs() {
		if !seen[id] {
			diags = append(diags, Diagnostic{
				Rule:     "reachability",
				Severity: SeverityError,
				Message:  "node is not reachable from Start",
				NodeID:   id,
			})
		}
	}
	return diags
}

func lintSingleNext(g *model.Graph, kind model.Kind, rule string) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.SortedNodeIDs() {
		if g.Nodes[id].Kind() != kind {
			continue
		}
		out := g.Outgoing(id)
		next := 0
		for _, e := range out {
			if e.IsNext() {
				next++
			} else {
				diags = append(diags, Diagnostic{
					Rule:     rule,
					Severity: SeverityError,
					Message:  fmt.Sprintf("%s node edges must be NEXT, got %s", kind, e.Label()),
					NodeID:   id,
					EdgeFrom: e.From,
					EdgeTo:   e.To,
				})
			}
		}
		if next != 1 {
			diags = append(diags, Diagnostic{
				Rule:     rule,
				Severity: SeverityError,
				Message:  fmt.Sprintf("%s node must have exactly one outgoing NEXT edge (found %d)", kind, next),
				NodeID:   id,
			})
		}
	}
	return diags
}

func lintActionNext(g *model.Graph) []Diagnostic {
	return lintSingleNext(g, model.KindAction, "action_next")
}

func lintProgramNext(g *model.Graph) []Diagnostic {
	diags := lintSingleNext(g, model.KindProgram, "program_next")
	for _, id := range g.SortedNodeIDs() {
		p, ok := g.Nodes[id].Payload.(model.Program)
		if ok && strings.TrimSpace(p.Program) == "" {
			diags = append(diags, Diagnostic{
				Rule:     "program_next",
				Severity: SeverityError,
				Message:  "Program node must name the program it calls",
				NodeID:   id,
			})
		}
	}
	return diags
}

func lintDecisionOptions(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.SortedNodeIDs() {
		if g.Nodes[id].Kind() != model.KindDecision {
			continue
		}
		out := g.Outgoing(id)
		counts := map[string]int{}
		for _, e := range out {
			if e.IsNext() {
				diags = append(diags, Diagnostic{
					Rule:     "decision_options",
					Severity: SeverityError,
					Message:  "Decision node edges must carry an answer label",
					NodeID:   id,
					EdgeFrom: e.From,
					EdgeTo:   e.To,
				})
				continue
			}
			counts[e.Label()]++
		}
		var dups []string
		for label, c := range counts {
			if c > 1 {
				dups = append(dups, label)
			}
		}
		sort.Strings(dups)
		if len(dups) > 0 {
			diags = append(diags, Diagnostic{
				Rule:     "decision_options",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Decision node has duplicate answer labels: %s", strings.Join(dups, ", ")),
				NodeID:   id,
			})
		}
		if len(counts) < 2 {
			diags = append(diags, Diagnostic{
				Rule:     "decision_options",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Decision node must have at least two labeled outgoing edges (found %d)", len(counts)),
				NodeID:   id,
			})
		}
	}
	return diags
}

func lintDecisionQuestion(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.SortedNodeIDs() {
		d, ok := g.Nodes[id].Payload.(model.Decision)
		if ok && strings.TrimSpace(d.Question) == "" {
			diags = append(diags, Diagnostic{
				Rule:     "decision_question",
				Severity: SeverityWarning,
				Message:  "Decision node has no question; the purpose will be asked instead",
				NodeID:   id,
			})
		}
	}
	return diags
}

func lintActionTool(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.SortedNodeIDs() {
		a, ok := g.Nodes[id].Payload.(model.Action)
		if ok && strings.TrimSpace(a.Tool) == "" {
			diags = append(diags, Diagnostic{
				Rule:     "action_tool",
				Severity: SeverityWarning,
				Message:  "Action node has no tool; it will run as Predict",
				NodeID:   id,
			})
		}
	}
	return diags
}
