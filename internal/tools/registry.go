// Package tools holds the named capabilities that Action nodes invoke.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/danshapiro/agentgraph/internal/graphprog/store"
)

// Env is what a tool may touch in the running interpreter.
type Env interface {
	Objective() string
	SetObjective(objective string)
	// CallProgram asks the interpreter to run a stored program once the
	// current action finishes. It fails for missing or protected programs.
	CallProgram(ctx context.Context, name string) error
	Programs() store.Store
	// LoadProgram stores an agent-authored program as an untrusted load.
	LoadProgram(ctx context.Context, source string) (string, error)
}

type TruncationStrategy string

const (
	TruncHeadTail TruncationStrategy = "head_tail"
	TruncTail     TruncationStrategy = "tail"
)

type OutputLimit struct {
	MaxChars int
	MaxLines int
	Strategy TruncationStrategy
}

type ExecFunc func(ctx context.Context, env Env, args map[string]any) (any, error)

type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema for the arguments. Nil means a single
	// required string argument named "input".
	Parameters map[string]any
	Exec       ExecFunc
	Limit      OutputLimit

	schema *jsonschema.Schema
}

type Result struct {
	Tool   string
	CallID string

	// Output is the truncated text folded into the trace.
	Output string
	// FullOutput is the untruncated text.
	FullOutput string

	IsError bool
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

var toolNameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_\-]{0,63}$`)

func (r *Registry) Register(t Tool) error {
	if !toolNameRE.MatchString(t.Name) {
		return fmt.Errorf("invalid tool name %q", t.Name)
	}
	if strings.EqualFold(t.Name, "predict") {
		return fmt.Errorf("tool name %q is reserved", t.Name)
	}
	if t.Exec == nil {
		return fmt.Errorf("tool %s missing executor", t.Name)
	}
	if t.Limit.MaxChars == 0 {
		t.Limit = defaultLimit(t.Name)
	}
	if t.Parameters == nil {
		t.Parameters = InputSchema("The tool input.")
	}
	s, err := compileSchema(t.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s schema: %w", t.Name, err)
	}
	t.schema = s

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tools == nil {
		r.tools = map[string]Tool{}
	}
	r.tools[t.Name] = t
	return nil
}

// Lookup matches the exact name first, then ignores case.
func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return Tool{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tools[name]; ok {
		return t, true
	}
	for k, t := range r.tools {
		if strings.EqualFold(k, name) {
			return t, true
		}
	}
	return Tool{}, false
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for k := range r.tools {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Execute runs a tool on raw model-produced input. A JSON object is used as
// the argument map; anything else becomes {"input": <text>}. Failures of
// any kind come back as an error Result, never as a Go error.
func (r *Registry) Execute(ctx context.Context, env Env, name, input string) Result {
	callID := ulid.Make().String()
	t, ok := r.Lookup(name)
	if !ok {
		msg := fmt.Sprintf("unknown tool: %s", name)
		return truncateResult(name, callID, msg, true, defaultLimit(name))
	}

	args := decodeArgs(input)
	if err := t.schema.Validate(args); err != nil {
		msg := fmt.Sprintf("tool args schema validation failed: %v", err)
		return truncateResult(t.Name, callID, msg, true, t.Limit)
	}

	v, err := invoke(ctx, env, t, args)
	if err != nil {
		full := ""
		if v != nil {
			full = valueToString(v)
		}
		if strings.TrimSpace(full) == "" {
			full = err.Error()
		} else {
			full = full + "\n" + err.Error()
		}
		return truncateResult(t.Name, callID, full, true, t.Limit)
	}
	return truncateResult(t.Name, callID, valueToString(v), false, t.Limit)
}

// invoke runs the tool, turning a panic into an error.
func invoke(ctx context.Context, env Env, t Tool, args map[string]any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Exec(ctx, env, args)
}

func decodeArgs(input string) map[string]any {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{") {
		var args map[string]any
		if err := json.Unmarshal([]byte(trimmed), &args); err == nil && args != nil {
			return args
		}
	}
	return map[string]any{"input": input}
}

// InputSchema is the schema of a tool taking one string argument, "input".
func InputSchema(description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"input": map[string]any{"type": "string", "description": description},
		},
		"required": []any{"input"},
	}
}

// StringArg returns args[key] when it is a string.
func StringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func truncateResult(toolName, callID, full string, isErr bool, lim OutputLimit) Result {
	out := truncateChars(full, lim.MaxChars, lim.Strategy)
	if lim.MaxLines > 0 {
		out = truncateLines(out, lim.MaxLines)
	}
	return Result{
		Tool:       toolName,
		CallID:     callID,
		Output:     out,
		FullOutput: full,
		IsError:    isErr,
	}
}

func truncateChars(s string, max int, strat TruncationStrategy) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	switch strat {
	case TruncTail:
		cut := runeStart(s, len(s)-max)
		marker := fmt.Sprintf("[WARNING: output truncated. First %d characters were removed.]\n\n", cut)
		return marker + s[cut:]
	default:
		head := runeStart(s, max/2)
		tail := runeStart(s, len(s)-(max-max/2))
		marker := fmt.Sprintf("\n\n[WARNING: output truncated. %d characters were removed from the middle.]\n\n", tail-head)
		return s[:head] + marker + s[tail:]
	}
}

// runeStart moves i forward to the start of a UTF-8 sequence.
func runeStart(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

func truncateLines(s string, max int) string {
	if max <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= max {
		return s
	}
	headCount := max / 2
	tailCount := max - headCount
	omitted := len(lines) - headCount - tailCount
	marker := fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted)
	return strings.Join(lines[:headCount], "\n") + marker + strings.Join(lines[len(lines)-tailCount:], "\n")
}

func defaultLimit(toolName string) OutputLimit {
	switch toolName {
	case "shell":
		return OutputLimit{MaxChars: 30_000, MaxLines: 256, Strategy: TruncHeadTail}
	case "program_search":
		return OutputLimit{MaxChars: 8_000, MaxLines: 100, Strategy: TruncTail}
	default:
		return OutputLimit{MaxChars: 20_000, Strategy: TruncHeadTail}
	}
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

func valueToString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
