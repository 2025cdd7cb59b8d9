package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/danshapiro/agentgraph/internal/graphprog/store"
)

type fakeEnv struct {
	objective string
	called    []string
	loaded    []string
	programs  *store.Memory
	callErr   error
}

func (e *fakeEnv) Objective() string     { return e.objective }
func (e *fakeEnv) SetObjective(s string) { e.objective = s }
func (e *fakeEnv) Programs() store.Store { return e.programs }
func (e *fakeEnv) CallProgram(ctx context.Context, name string) error {
	if e.callErr != nil {
		return e.callErr
	}
	e.called = append(e.called, name)
	return nil
}
func (e *fakeEnv) LoadProgram(ctx context.Context, source string) (string, error) {
	e.loaded = append(e.loaded, source)
	return e.programs.Load(ctx, []byte(source), store.LoadOptions{})
}

func newFakeEnv() *fakeEnv { return &fakeEnv{programs: store.NewMemory()} }

func echoTool() Tool {
	return Tool{
		Name: "echo",
		Exec: func(ctx context.Context, env Env, args map[string]any) (any, error) {
			return StringArg(args, "input"), nil
		},
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry()
	exec := func(ctx context.Context, env Env, args map[string]any) (any, error) { return nil, nil }
	if err := r.Register(Tool{Name: "bad name", Exec: exec}); err == nil {
		t.Fatalf("expected invalid name error")
	}
	if err := r.Register(Tool{Name: "Predict", Exec: exec}); err == nil {
		t.Fatalf("expected reserved name error")
	}
	if err := r.Register(Tool{Name: "noexec"}); err == nil {
		t.Fatalf("expected missing executor error")
	}
	if err := r.Register(Tool{Name: "badschema", Exec: exec, Parameters: map[string]any{"type": 12}}); err == nil {
		t.Fatalf("expected schema compile error")
	}
	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, ok := r.Lookup("ECHO"); !ok {
		t.Fatalf("Lookup should ignore case")
	}
	if got := r.Names(); len(got) != 1 || got[0] != "echo" {
		t.Fatalf("Names: %v", got)
	}
}

func TestRegistry_ExecuteDecodesInput(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool()); err != nil {
		t.Fatal(err)
	}
	env := newFakeEnv()
	ctx := context.Background()

	if res := r.Execute(ctx, env, "echo", "plain text"); res.IsError || res.Output != "plain text" {
		t.Fatalf("plain input: %+v", res)
	}
	if res := r.Execute(ctx, env, "echo", `{"input":"from json"}`); res.IsError || res.Output != "from json" {
		t.Fatalf("json input: %+v", res)
	}
	// Not a JSON object, so it is passed through as text.
	if res := r.Execute(ctx, env, "echo", `{broken`); res.IsError || res.Output != "{broken" {
		t.Fatalf("broken json input: %+v", res)
	}
	res := r.Execute(ctx, env, "echo", `{"other":"x"}`)
	if !res.IsError || !strings.Contains(res.Output, "schema validation failed") {
		t.Fatalf("expected schema failure: %+v", res)
	}
	if res.CallID == "" {
		t.Fatalf("expected call id")
	}
}

func TestRegistry_ExecuteContainsFailures(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Tool{
		Name: "boom",
		Exec: func(ctx context.Context, env Env, args map[string]any) (any, error) {
			return "partial output", errors.New("exploded")
		},
	})
	env := newFakeEnv()

	res := r.Execute(context.Background(), env, "boom", "x")
	if !res.IsError || !strings.Contains(res.Output, "partial output") || !strings.Contains(res.Output, "exploded") {
		t.Fatalf("tool error: %+v", res)
	}
	res = r.Execute(context.Background(), env, "missing", "x")
	if !res.IsError || res.Output != "unknown tool: missing" {
		t.Fatalf("unknown tool: %+v", res)
	}
}

func TestRegistry_ExecuteRecoversPanics(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Tool{
		Name: "boom",
		Exec: func(ctx context.Context, env Env, args map[string]any) (any, error) {
			var m map[string]int
			m["x"] = 1
			return "unreachable", nil
		},
	})

	res := r.Execute(context.Background(), newFakeEnv(), "boom", "x")
	if !res.IsError || !strings.HasPrefix(res.Output, "panic: ") || !strings.Contains(res.Output, "nil map") {
		t.Fatalf("panic result: %+v", res)
	}
}

func TestTruncateChars_KeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("é", 10) + strings.Repeat("世", 10)
	for max := 1; max < len(s); max++ {
		for _, strat := range []TruncationStrategy{TruncHeadTail, TruncTail} {
			if got := truncateChars(s, max, strat); !utf8.ValidString(got) {
				t.Fatalf("max=%d strategy=%s: invalid UTF-8 %q", max, strat, got)
			}
		}
	}
}

func TestRegistry_TruncatesOutput(t *testing.T) {
	r := NewRegistry()
	tool := echoTool()
	tool.Limit = OutputLimit{MaxChars: 10, Strategy: TruncHeadTail}
	_ = r.Register(tool)

	long := strings.Repeat("a", 20) + strings.Repeat("z", 20)
	res := r.Execute(context.Background(), newFakeEnv(), "echo", long)
	if res.FullOutput != long {
		t.Fatalf("full output changed")
	}
	if !strings.HasPrefix(res.Output, "aaaaa") || !strings.HasSuffix(res.Output, "zzzzz") || !strings.Contains(res.Output, "30 characters were removed") {
		t.Fatalf("head/tail truncation: %q", res.Output)
	}

	if got := truncateChars("0123456789", 4, TruncTail); !strings.HasSuffix(got, "6789") || !strings.Contains(got, "First 6") {
		t.Fatalf("tail truncation: %q", got)
	}
	if got := truncateLines("1\n2\n3\n4\n5\n6", 4); got != "1\n2\n[... 2 lines omitted ...]\n5\n6" {
		t.Fatalf("line truncation: %q", got)
	}
}
