// Package model holds the in-memory form of a graph program: a named directed
// graph whose nodes are one of four variants (Control, Action, Decision,
// Program) and whose edges are either NEXT links or decision answer labels.
package model

import (
	"fmt"
	"sort"
	"strings"
)

type Kind string

const (
	KindControl  Kind = "Control"
	KindAction   Kind = "Action"
	KindDecision Kind = "Decision"
	KindProgram  Kind = "Program"
)

// ParseKind accepts any letter case. The empty string and unknown values
// return false.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "control":
		return KindControl, true
	case "action":
		return KindAction, true
	case "decision":
		return KindDecision, true
	case "program":
		return KindProgram, true
	default:
		return "", false
	}
}

const (
	ControlStart = "Start"
	ControlEnd   = "End"

	// LabelNext is the unconditional sequencing edge type.
	LabelNext = "NEXT"
)

// Payload is the variant carried by a Node. The set of implementations is
// closed: Control, Action, Decision and Program.
type Payload interface {
	Kind() Kind
	isPayload()
}

type Control struct {
	Name string
}

type Action struct {
	Purpose string
	Tool    string
	Prompt  string
}

type Decision struct {
	Purpose  string
	Question string
}

type Program struct {
	Purpose string
	Program string
}

func (Control) Kind() Kind  { return KindControl }
func (Action) Kind() Kind   { return KindAction }
func (Decision) Kind() Kind { return KindDecision }
func (Program) Kind() Kind  { return KindProgram }

func (Control) isPayload()  {}
func (Action) isPayload()   {}
func (Decision) isPayload() {}
func (Program) isPayload()  {}

type Node struct {
	ID    string
	Attrs map[string]string
	Order int

	// Payload is nil when the node's kind could not be decoded; validation
	// reports such nodes.
	Payload Payload
}

func NewNode(id string) *Node {
	return &Node{ID: id, Attrs: map[string]string{}}
}

func (n *Node) Attr(key, def string) string {
	if n == nil || n.Attrs == nil {
		return def
	}
	if v, ok := n.Attrs[key]; ok {
		return v
	}
	return def
}

func (n *Node) Kind() Kind {
	if n == nil || n.Payload == nil {
		return ""
	}
	return n.Payload.Kind()
}

// Name returns the Control name or the purpose of any other variant.
func (n *Node) Name() string {
	if n == nil {
		return ""
	}
	switch p := n.Payload.(type) {
	case Control:
		return p.Name
	case Action:
		return p.Purpose
	case Decision:
		return p.Purpose
	case Program:
		return p.Purpose
	default:
		return n.Attr("name", n.ID)
	}
}

func (n *Node) IsStart() bool {
	c, ok := n.Payload.(Control)
	return ok && c.Name == ControlStart
}

func (n *Node) IsEnd() bool {
	c, ok := n.Payload.(Control)
	return ok && c.Name == ControlEnd
}

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s %q)", n.ID, n.Kind(), n.Name())
}

type Edge struct {
	From  string
	To    string
	Attrs map[string]string
	Order int
}

func NewEdge(from, to string) *Edge {
	return &Edge{From: from, To: to, Attrs: map[string]string{}}
}

func (e *Edge) Attr(key, def string) string {
	if e == nil || e.Attrs == nil {
		return def
	}
	if v, ok := e.Attrs[key]; ok {
		return v
	}
	return def
}

// Label returns the normalized edge type: NEXT for unlabeled edges, otherwise
// the upper-cased answer label.
func (e *Edge) Label() string {
	return NormalizeLabel(e.Attr("label", ""))
}

func (e *Edge) IsNext() bool { return e.Label() == LabelNext }

func NormalizeLabel(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return LabelNext
	}
	return s
}

type Graph struct {
	Name        string
	Description string
	Attrs       map[string]string
	Nodes       map[string]*Node
	Edges       []*Edge
}

func NewGraph(name string) *Graph {
	return &Graph{
		Name:  name,
		Attrs: map[string]string{},
		Nodes: map[string]*Node{},
	}
}

func (g *Graph) AddNode(n *Node) error {
	if n == nil || strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("graph %s: node id is required", g.Name)
	}
	if existing, ok := g.Nodes[n.ID]; ok {
		// DOT allows re-declaring a node to add attributes.
		for k, v := range n.Attrs {
			existing.Attrs[k] = v
		}
		return nil
	}
	g.Nodes[n.ID] = n
	return nil
}

func (g *Graph) AddEdge(e *Edge) error {
	if e == nil || e.From == "" || e.To == "" {
		return fmt.Errorf("graph %s: edge endpoints are required", g.Name)
	}
	e.Order = len(g.Edges)
	g.Edges = append(g.Edges, e)
	return nil
}

// Outgoing returns the edges leaving id in declaration order.
func (g *Graph) Outgoing(id string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e != nil && e.From == id {
			out = append(out, e)
		}
	}
	return out
}

func (g *Graph) Incoming(id string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e != nil && e.To == id {
			out = append(out, e)
		}
	}
	return out
}

func (g *Graph) findControl(name string) *Node {
	for _, id := range g.SortedNodeIDs() {
		n := g.Nodes[id]
		if c, ok := n.Payload.(Control); ok && c.Name == name {
			return n
		}
	}
	return nil
}

func (g *Graph) Start() *Node { return g.findControl(ControlStart) }

func (g *Graph) End() *Node { return g.findControl(ControlEnd) }

// Successor follows the first outgoing edge of id carrying label.
func (g *Graph) Successor(id, label string) *Node {
	label = NormalizeLabel(label)
	for _, e := range g.Outgoing(id) {
		if e.Label() == label {
			return g.Nodes[e.To]
		}
	}
	return nil
}

func (g *Graph) Next(id string) *Node { return g.Successor(id, LabelNext) }

// DecisionOptions lists the distinct answer labels leaving id, in
// declaration order.
func (g *Graph) DecisionOptions(id string) []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range g.Outgoing(id) {
		l := e.Label()
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// ProgramRefs returns the sorted, de-duplicated names of programs invoked by
// Program nodes.
func (g *Graph) ProgramRefs() []string {
	set := map[string]bool{}
	for _, n := range g.Nodes {
		if p, ok := n.Payload.(Program); ok && strings.TrimSpace(p.Program) != "" {
			set[p.Program] = true
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SortedNodeIDs orders node ids by declaration order, then id.
func (g *Graph) SortedNodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := g.Nodes[ids[i]], g.Nodes[ids[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Clone returns a deep copy. Stored graphs are shared read-only, so callers
// that want to mutate take a clone.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	out := NewGraph(g.Name)
	out.Description = g.Description
	for k, v := range g.Attrs {
		out.Attrs[k] = v
	}
	for id, n := range g.Nodes {
		cp := &Node{ID: n.ID, Order: n.Order, Payload: n.Payload, Attrs: make(map[string]string, len(n.Attrs))}
		for k, v := range n.Attrs {
			cp.Attrs[k] = v
		}
		out.Nodes[id] = cp
	}
	for _, e := range g.Edges {
		cp := &Edge{From: e.From, To: e.To, Order: e.Order, Attrs: make(map[string]string, len(e.Attrs))}
		for k, v := range e.Attrs {
			cp.Attrs[k] = v
		}
		out.Edges = append(out.Edges, cp)
	}
	return out
}
