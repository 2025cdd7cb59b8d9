// Package interp executes graph programs one node at a time.
//
// A run starts with the root program's frame on the stack and its cursor on
// the node after Start. Each RunStep executes exactly one node: Program
// nodes push a frame, Action nodes run a tool or the model, Decision nodes
// pick an outgoing edge, and End nodes pop a frame. The run is finished when
// the stack is empty.
package interp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/danshapiro/agentgraph/internal/ctxlog"
	"github.com/danshapiro/agentgraph/internal/graphprog/events"
	"github.com/danshapiro/agentgraph/internal/graphprog/model"
	"github.com/danshapiro/agentgraph/internal/graphprog/store"
	"github.com/danshapiro/agentgraph/internal/graphprog/trace"
	"github.com/danshapiro/agentgraph/internal/llm"
	"github.com/danshapiro/agentgraph/internal/tools"
)

const (
	DefaultMaxIteration   = 50
	DefaultSmartMaxTokens = 2048
	DefaultFastMaxTokens  = 1024
)

type Option func(*Interpreter)

func WithTools(r *tools.Registry) Option { return func(i *Interpreter) { i.tools = r } }

// WithSmartModel sets the model used for actions.
func WithSmartModel(m llm.Model) Option { return func(i *Interpreter) { i.smart = m } }

// WithFastModel sets the model used for decisions. It defaults to the smart
// model.
func WithFastModel(m llm.Model) Option { return func(i *Interpreter) { i.fast = m } }

func WithMaxIteration(n int) Option { return func(i *Interpreter) { i.maxIteration = n } }

func WithMaxDecisionAttempts(n int) Option {
	return func(i *Interpreter) { i.maxDecisionAttempts = n }
}

func WithSmartMaxTokens(n int) Option { return func(i *Interpreter) { i.smartMaxTokens = n } }

func WithFastMaxTokens(n int) Option { return func(i *Interpreter) { i.fastMaxTokens = n } }

func WithRootProgram(name string) Option { return func(i *Interpreter) { i.root = name } }

func WithEventSink(s events.Sink) Option { return func(i *Interpreter) { i.sink = s } }

// WithLogger overrides the logger carried by the run context.
func WithLogger(l *slog.Logger) Option { return func(i *Interpreter) { i.logger = l } }

func WithTokenizer(t trace.Tokenizer) Option { return func(i *Interpreter) { i.tokenizer = t } }

// WithPruneBelow permanently drops trace entries that no longer fit in n
// tokens. Zero keeps the whole history.
func WithPruneBelow(n int) Option { return func(i *Interpreter) { i.pruneBelow = n } }

// WithNote sets a standing note rendered under the objective in every
// context window.
func WithNote(note string) Option { return func(i *Interpreter) { i.note = note } }

// WithLoader enables write_program. By default the store is used when it
// implements store.Loader.
func WithLoader(l store.Loader) Option { return func(i *Interpreter) { i.loader = l } }

// Interpreter owns one run at a time. It is not safe for concurrent use;
// run independent interpreters against a shared Store instead.
type Interpreter struct {
	store  store.Store
	loader store.Loader
	tools  *tools.Registry
	smart  llm.Model
	fast   llm.Model
	sink   events.Sink
	logger *slog.Logger

	maxIteration        int
	maxDecisionAttempts int
	smartMaxTokens      int
	fastMaxTokens       int
	root                string
	note                string
	tokenizer           trace.Tokenizer
	pruneBelow          int

	runID      string
	trace      *trace.Buffer
	stack      Stack
	iterations int
	seq        int
	started    time.Time
	// pending is a program call requested by a tool during the current
	// action. It is pushed once the action completes.
	pending *Frame
}

func New(st store.Store, opts ...Option) (*Interpreter, error) {
	if st == nil {
		return nil, errors.New("interp: program store is required")
	}
	in := &Interpreter{
		store:               st,
		maxIteration:        DefaultMaxIteration,
		maxDecisionAttempts: DefaultMaxDecisionAttempts,
		smartMaxTokens:      DefaultSmartMaxTokens,
		fastMaxTokens:       DefaultFastMaxTokens,
		root:                store.DefaultRoot,
	}
	if l, ok := st.(store.Loader); ok {
		in.loader = l
	}
	for _, o := range opts {
		o(in)
	}
	if in.smart == nil {
		return nil, errors.New("interp: a language model is required")
	}
	if in.fast == nil {
		in.fast = in.smart
	}
	if in.sink == nil {
		in.sink = events.Nop{}
	}
	if in.maxIteration < 1 {
		return nil, fmt.Errorf("interp: max_iteration must be >= 1 (got %d)", in.maxIteration)
	}
	if in.maxDecisionAttempts < 1 {
		return nil, fmt.Errorf("interp: max_decision_attempts must be >= 1 (got %d)", in.maxDecisionAttempts)
	}
	if strings.TrimSpace(in.root) == "" {
		return nil, errors.New("interp: root program name is empty")
	}
	if in.pruneBelow < 0 {
		return nil, fmt.Errorf("interp: prune_below must be >= 0 (got %d)", in.pruneBelow)
	}
	var bufOpts []trace.Option
	if in.tokenizer != nil {
		bufOpts = append(bufOpts, trace.WithTokenizer(in.tokenizer))
	}
	if in.pruneBelow > 0 {
		bufOpts = append(bufOpts, trace.WithPruneBelow(in.pruneBelow))
	}
	in.trace = trace.New(bufOpts...)
	in.trace.SetNote(in.note)
	return in, nil
}

func (in *Interpreter) log(ctx context.Context) *slog.Logger {
	if in.logger != nil {
		return in.logger
	}
	return ctxlog.FromContext(ctx)
}

func (in *Interpreter) emit(ctx context.Context, typ events.Type, program string, node *model.Node, detail map[string]any) {
	in.seq++
	ev := events.Event{
		RunID:   in.runID,
		Seq:     in.seq,
		Time:    time.Now().UTC(),
		Type:    typ,
		Program: program,
		Detail:  detail,
	}
	if node != nil {
		ev.Node = node.ID
		ev.Kind = string(node.Kind())
	}
	in.sink.Emit(ctx, ev)
}

// Start resets the trace, objective and stack, then enters the root
// program.
func (in *Interpreter) Start(ctx context.Context, objective string) error {
	in.runID = ulid.Make().String()
	in.trace.Clear()
	in.trace.SetObjective(objective)
	in.stack.Reset()
	in.iterations = 0
	in.seq = 0
	in.pending = nil
	in.started = time.Now().UTC()

	g, err := in.store.Graph(in.root)
	if err != nil {
		return fmt.Errorf("start %q: %w", in.root, err)
	}
	first, err := in.store.StartingNode(in.root)
	if err != nil {
		return fmt.Errorf("start %q: %w", in.root, err)
	}
	in.stack.Push(Frame{Program: in.root, Graph: g, Cursor: first})
	in.trace.Append(trace.CallProgram(in.root, objective))

	in.log(ctx).Info("run started", "run_id", in.runID, "program", in.root, "objective", objective)
	in.emit(ctx, events.RunStarted, in.root, nil, map[string]any{"objective": objective})
	in.emit(ctx, events.ProgramCalled, in.root, nil, map[string]any{"purpose": objective})
	return nil
}

func (in *Interpreter) Finished() bool { return in.stack.Empty() }

func (in *Interpreter) Trace() *trace.Buffer { return in.trace }

func (in *Interpreter) Objective() string { return in.trace.Objective() }

// Depth is the number of active frames.
func (in *Interpreter) Depth() int { return in.stack.Len() }

func (in *Interpreter) Iterations() int { return in.iterations }

func (in *Interpreter) RunID() string { return in.runID }

// Cursor returns the program and node the next step will execute.
func (in *Interpreter) Cursor() (string, *model.Node) {
	top := in.stack.Top()
	if top == nil {
		return "", nil
	}
	return top.Program, top.Cursor
}

// RunStep executes the node under the cursor and returns the new cursor, or
// nil once the root program has ended.
func (in *Interpreter) RunStep(ctx context.Context) (*model.Node, error) {
	top := in.stack.Top()
	if top == nil {
		return nil, nil
	}
	in.iterations++
	if in.iterations > in.maxIteration {
		return nil, &MaxIterationsError{Limit: in.maxIteration, Program: top.Program, Node: top.Cursor.ID}
	}
	node := top.Cursor
	logger := in.log(ctx)
	logger.Debug("step", "run_id", in.runID, "iteration", in.iterations, "program", top.Program, "node", node.ID, "kind", node.Kind())

	switch p := node.Payload.(type) {
	case model.Program:
		f, err := in.frameFor(p.Program)
		if err != nil {
			return nil, &StructuralError{Program: top.Program, Node: node.ID, Msg: "cannot enter sub-program", Err: err}
		}
		in.enter(ctx, f, p.Purpose)
		return f.Cursor, nil

	case model.Action:
		x := Executor{Model: in.smart, Tools: in.tools}
		entry, res, err := x.Execute(ctx, runEnv{in}, ActionRequest{
			Purpose: p.Purpose,
			Tool:    p.Tool,
			Prompt:  p.Prompt,
			Context: in.trace.Window(in.smartMaxTokens),
		})
		if err != nil {
			in.pending = nil
			return nil, &StepError{Program: top.Program, Node: node.ID, Err: err}
		}
		in.trace.Append(entry)
		if res.IsError {
			// A failed tool does not get to redirect the run.
			in.pending = nil
			logger.Warn("tool failed", "run_id", in.runID, "program", top.Program, "node", node.ID, "tool", entry.Tool, "output", res.Output)
		}
		next, ok := in.store.NextNode(top.Graph, node)
		if !ok {
			in.pending = nil
			in.trace.Revert(1)
			return nil, &StructuralError{Program: top.Program, Node: node.ID, Msg: "action has no NEXT edge"}
		}
		in.emit(ctx, events.ActionExecuted, top.Program, node, map[string]any{
			"tool":     entry.Tool,
			"is_error": res.IsError,
			"call_id":  res.CallID,
		})
		top.Cursor = next
		if in.pending != nil {
			f := *in.pending
			in.pending = nil
			in.enter(ctx, f, p.Purpose)
			return f.Cursor, nil
		}
		return next, nil

	case model.Decision:
		options := top.Graph.DecisionOptions(node.ID)
		question := questionOf(p.Purpose, p.Question)
		r := Resolver{Model: in.fast, MaxAttempts: in.maxDecisionAttempts}
		out, err := r.Resolve(ctx, DecisionRequest{
			Purpose:  p.Purpose,
			Question: question,
			Options:  options,
			Context:  in.trace.Window(in.fastMaxTokens),
		})
		if err != nil {
			return nil, &StepError{Program: top.Program, Node: node.ID, Err: err}
		}
		if !out.OK {
			return nil, &DecisionError{Program: top.Program, Node: node.ID, Options: options, Attempts: out.Attempts, Answers: out.Rejected}
		}
		if out.Attempts > 1 {
			logger.Warn("decision needed retries", "run_id", in.runID, "program", top.Program, "node", node.ID, "attempts", out.Attempts, "rejected", out.Rejected)
		}
		in.trace.Append(trace.Decision(p.Purpose, question, out.Value))
		in.emit(ctx, events.DecisionResolved, top.Program, node, map[string]any{"answer": out.Value, "attempts": out.Attempts})
		next := top.Graph.Successor(node.ID, out.Value)
		if next == nil {
			return nil, &StructuralError{Program: top.Program, Node: node.ID, Msg: fmt.Sprintf("no edge labeled %s", out.Value)}
		}
		top.Cursor = next
		return next, nil

	case model.Control:
		if p.Name != model.ControlEnd {
			return nil, &StructuralError{Program: top.Program, Node: node.ID, Msg: fmt.Sprintf("unexpected %s node during traversal", p.Name)}
		}
		return in.leave(ctx)

	default:
		return nil, &StructuralError{Program: top.Program, Node: node.ID, Msg: "node has no recognized kind"}
	}
}

func (in *Interpreter) frameFor(program string) (Frame, error) {
	g, err := in.store.Graph(program)
	if err != nil {
		return Frame{}, err
	}
	first, err := in.store.StartingNode(program)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Program: program, Graph: g, Cursor: first}, nil
}

func (in *Interpreter) enter(ctx context.Context, f Frame, purpose string) {
	in.stack.Push(f)
	in.trace.Append(trace.CallProgram(f.Program, purpose))
	in.log(ctx).Debug("program called", "run_id", in.runID, "program", f.Program, "depth", in.stack.Len(), "dynamic", f.Dynamic)
	in.emit(ctx, events.ProgramCalled, f.Program, nil, map[string]any{"purpose": purpose, "dynamic": f.Dynamic, "depth": in.stack.Len()})
}

// leave pops the innermost frame at its End node and resumes the parent.
func (in *Interpreter) leave(ctx context.Context) (*model.Node, error) {
	done, _ := in.stack.Pop()
	in.trace.Append(trace.EndProgram(done.Program))
	in.emit(ctx, events.ProgramEnded, done.Program, done.Cursor, map[string]any{"depth": in.stack.Len()})

	parent := in.stack.Top()
	if parent == nil {
		in.log(ctx).Info("run finished", "run_id", in.runID, "iterations", in.iterations)
		in.emit(ctx, events.RunFinished, done.Program, nil, map[string]any{
			"finish_reason": string(ReasonFinished),
			"iterations":    in.iterations,
		})
		return nil, nil
	}
	if done.Dynamic {
		return parent.Cursor, nil
	}
	next, ok := in.store.NextNode(parent.Graph, parent.Cursor)
	if !ok {
		return nil, &StructuralError{Program: parent.Program, Node: parent.Cursor.ID, Msg: "program node has no NEXT edge"}
	}
	parent.Cursor = next
	return next, nil
}

// Run drives a fresh run to completion. When the iteration cap is hit the
// returned Result has FinishReason "max iters" and the error is a
// *MaxIterationsError.
func (in *Interpreter) Run(ctx context.Context, objective string) (*Result, error) {
	if err := in.Start(ctx, objective); err != nil {
		return nil, err
	}
	for !in.Finished() {
		if err := ctx.Err(); err != nil {
			in.fail(ctx, err)
			return nil, err
		}
		if _, err := in.RunStep(ctx); err != nil {
			in.fail(ctx, err)
			if errors.Is(err, ErrMaxIterations) {
				return in.result(ReasonMaxIters), err
			}
			return nil, err
		}
	}
	return in.result(ReasonFinished), nil
}

func (in *Interpreter) fail(ctx context.Context, err error) {
	reason := "error"
	if errors.Is(err, ErrMaxIterations) {
		reason = string(ReasonMaxIters)
	}
	in.log(ctx).Error("run failed", "run_id", in.runID, "iterations", in.iterations, "stack", in.stack.Programs(), "error", err)
	in.emit(ctx, events.RunFailed, in.root, nil, map[string]any{
		"finish_reason": reason,
		"error":         err.Error(),
		"iterations":    in.iterations,
	})
}

func (in *Interpreter) result(reason FinishReason) *Result {
	return &Result{
		RunID:        in.runID,
		Program:      in.root,
		Objective:    in.trace.Objective(),
		FinishReason: reason,
		Trace:        in.trace.Format(),
		Entries:      in.trace.Entries(),
		Iterations:   in.iterations,
		StartedAt:    in.started,
		FinishedAt:   time.Now().UTC(),
	}
}

// runEnv is the interpreter as seen by tools.
type runEnv struct{ in *Interpreter }

func (e runEnv) Objective() string { return e.in.trace.Objective() }

func (e runEnv) SetObjective(objective string) { e.in.trace.SetObjective(objective) }

func (e runEnv) Programs() store.Store { return e.in.store }

// CallProgram validates name now and schedules the call for when the
// current action completes.
func (e runEnv) CallProgram(ctx context.Context, name string) error {
	in := e.in
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return errors.New("no program name given")
	case in.pending != nil:
		return fmt.Errorf("program %q is already scheduled for this step", in.pending.Program)
	case !in.store.Exists(name):
		return fmt.Errorf("program %q does not exist", name)
	case in.store.IsProtected(name):
		return fmt.Errorf("program %q is protected and cannot be called", name)
	}
	f, err := in.frameFor(name)
	if err != nil {
		return fmt.Errorf("program %q cannot be called: %w", name, err)
	}
	f.Dynamic = true
	in.pending = &f
	return nil
}

func (e runEnv) LoadProgram(ctx context.Context, source string) (string, error) {
	if e.in.loader == nil {
		return "", errors.New("program store is read-only")
	}
	return e.in.loader.Load(ctx, []byte(source), store.LoadOptions{})
}
