package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danshapiro/agentgraph/internal/graphprog/store"
)

func mustBuiltins(t *testing.T, names ...string) *Registry {
	t.Helper()
	r, err := NewBuiltinRegistry(names, BuiltinOptions{Shell: ShellConfig{Timeout: 2 * time.Second}})
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}
	return r
}

func TestNewBuiltinRegistry_Defaults(t *testing.T) {
	r := mustBuiltins(t)
	want := []string{NameAskUser, NameCallProgram, NameProgramSearch, NameUpdateObjective, NameWriteProgram}
	if got := r.Names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("default builtins: %v", got)
	}
	if _, err := NewBuiltinRegistry([]string{"teleport"}, BuiltinOptions{}); err == nil {
		t.Fatalf("expected unknown builtin error")
	}
}

func TestUpdateObjective(t *testing.T) {
	env := newFakeEnv()
	res := mustBuiltins(t).Execute(context.Background(), env, NameUpdateObjective, "  write a haiku ")
	if res.IsError || env.objective != "write a haiku" {
		t.Fatalf("res=%+v objective=%q", res, env.objective)
	}
	if res := mustBuiltins(t).Execute(context.Background(), env, NameUpdateObjective, " "); !res.IsError {
		t.Fatalf("empty objective should fail")
	}
}

func TestCallProgram(t *testing.T) {
	env := newFakeEnv()
	r := mustBuiltins(t)
	res := r.Execute(context.Background(), env, NameCallProgram, `"helper"`)
	if res.IsError || len(env.called) != 1 || env.called[0] != "helper" {
		t.Fatalf("res=%+v called=%v", res, env.called)
	}
	env.callErr = errors.New(`program "ghost" does not exist`)
	res = r.Execute(context.Background(), env, NameCallProgram, "ghost")
	if !res.IsError || !strings.Contains(res.Output, "does not exist") {
		t.Fatalf("expected recoverable error observation: %+v", res)
	}
}

func TestProgramSearch_HidesProtectedPrograms(t *testing.T) {
	env := newFakeEnv()
	ctx := context.Background()
	_, err := env.programs.LoadBatch(ctx, [][]byte{
		[]byte("// @desc: search the web\ndigraph main { start; end; start -> end }"),
		[]byte("// @desc: search local files\ndigraph files { start; end; start -> end }"),
		[]byte("// @desc: search the archive\ndigraph archive { start; end; start -> end }"),
	}, store.LoadOptions{Trusted: true})
	if err != nil {
		t.Fatal(err)
	}
	r := mustBuiltins(t)
	res := r.Execute(ctx, env, NameProgramSearch, "search")
	if res.IsError || strings.Contains(res.Output, "main") {
		t.Fatalf("protected program leaked: %+v", res)
	}
	if !strings.Contains(res.Output, "files: search local files") || !strings.Contains(res.Output, "archive:") {
		t.Fatalf("search output: %q", res.Output)
	}
	res = r.Execute(ctx, env, NameProgramSearch, `{"input":"search","limit":1}`)
	if strings.Count(res.Output, "\n") != 0 {
		t.Fatalf("limit ignored: %q", res.Output)
	}
	if res := r.Execute(ctx, env, NameProgramSearch, "zebra"); res.Output != "No matching programs." {
		t.Fatalf("no match: %q", res.Output)
	}
}

func TestWriteProgram_StripsFenceAndLoadsUntrusted(t *testing.T) {
	env := newFakeEnv()
	src := "```dot\ndigraph scratch { start; end; start -> end }\n```"
	res := mustBuiltins(t).Execute(context.Background(), env, NameWriteProgram, src)
	if res.IsError || !env.programs.Exists("scratch") {
		t.Fatalf("res=%+v", res)
	}
	res = mustBuiltins(t).Execute(context.Background(), env, NameWriteProgram, "digraph main { start; end; start -> end }")
	if !res.IsError || !strings.Contains(res.Output, "program_protected") {
		t.Fatalf("overwriting the root should fail: %+v", res)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```\nls -la\n```":                 "ls -la",
		"```bash\necho hi\n```":            "echo hi",
		"```digraph x { start -> end }```": "digraph x { start -> end }",
		"no fence":                         "no fence",
	}
	for in, want := range cases {
		if got := StripCodeFence(in); got != want {
			t.Fatalf("StripCodeFence(%q) = %q want %q", in, got, want)
		}
	}
}

func TestAskUser_AutoApproveAndConsole(t *testing.T) {
	env := newFakeEnv()
	r := NewRegistry()
	_ = r.Register(AskUser(nil))
	res := r.Execute(context.Background(), env, NameAskUser, `{"input":"Proceed?","options":["later","now"]}`)
	if res.IsError || res.Output != "later" {
		t.Fatalf("auto approve: %+v", res)
	}

	var out strings.Builder
	console := &ConsoleInterviewer{In: strings.NewReader("2\n"), Out: &out}
	ans, err := console.Ask(context.Background(), Question{Text: "Pick one", Options: []string{"red", "blue"}})
	if err != nil || ans.Text != "blue" {
		t.Fatalf("console answer: %+v %v", ans, err)
	}
	if !strings.Contains(out.String(), "[2] blue") {
		t.Fatalf("console prompt: %q", out.String())
	}

	console = &ConsoleInterviewer{In: strings.NewReader(""), Out: &out}
	ans, err = console.Ask(context.Background(), Question{Text: "Anyone?"})
	if err != nil || !ans.Skipped {
		t.Fatalf("EOF should skip: %+v %v", ans, err)
	}
}

func TestShell(t *testing.T) {
	r := mustBuiltins(t, NameShell)
	env := newFakeEnv()
	ctx := context.Background()

	res := r.Execute(ctx, env, NameShell, "echo hello; echo oops 1>&2")
	if res.IsError || !strings.Contains(res.Output, "hello") || !strings.Contains(res.Output, "oops") {
		t.Fatalf("shell output: %+v", res)
	}
	res = r.Execute(ctx, env, NameShell, "echo partial; exit 3")
	if !res.IsError || !strings.Contains(res.Output, "partial") || !strings.Contains(res.Output, "exit code 3") {
		t.Fatalf("exit code: %+v", res)
	}
	res = r.Execute(ctx, env, NameShell, "read x; echo got:$x")
	if res.IsError && !strings.Contains(res.Output, "got:") {
		t.Fatalf("stdin should be empty, not blocking: %+v", res)
	}

	slow := NewRegistry()
	_ = slow.Register(Shell(ShellConfig{Timeout: 100 * time.Millisecond}))
	res = slow.Execute(ctx, env, NameShell, "sleep 5")
	if !res.IsError || !strings.Contains(res.Output, "timed out") {
		t.Fatalf("timeout: %+v", res)
	}
}
