package tools

import (
	"context"
	"fmt"
	"strings"
)

const (
	NameUpdateObjective = "update_objective"
	NameCallProgram     = "call_program"
	NameProgramSearch   = "program_search"
	NameWriteProgram    = "write_program"
	NameAskUser         = "ask_user"
	NameShell           = "shell"
)

type BuiltinOptions struct {
	Interviewer Interviewer
	Shell       ShellConfig
}

// DefaultBuiltins is enabled when no explicit list is configured. The shell
// tool must be enabled by name.
var DefaultBuiltins = []string{NameUpdateObjective, NameCallProgram, NameProgramSearch, NameWriteProgram, NameAskUser}

func Builtin(name string, opts BuiltinOptions) (Tool, bool) {
	switch name {
	case NameUpdateObjective:
		return UpdateObjective(), true
	case NameCallProgram:
		return CallProgram(), true
	case NameProgramSearch:
		return ProgramSearch(), true
	case NameWriteProgram:
		return WriteProgram(), true
	case NameAskUser:
		return AskUser(opts.Interviewer), true
	case NameShell:
		return Shell(opts.Shell), true
	}
	return Tool{}, false
}

// NewBuiltinRegistry registers the named builtins, or DefaultBuiltins when
// enabled is empty.
func NewBuiltinRegistry(enabled []string, opts BuiltinOptions) (*Registry, error) {
	if len(enabled) == 0 {
		enabled = DefaultBuiltins
	}
	r := NewRegistry()
	for _, name := range enabled {
		t, ok := Builtin(strings.TrimSpace(name), opts)
		if !ok {
			return nil, fmt.Errorf("unknown builtin tool %q", name)
		}
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func UpdateObjective() Tool {
	return Tool{
		Name:        NameUpdateObjective,
		Description: "Replace the current objective with a new one.",
		Parameters:  InputSchema("The new objective."),
		Exec: func(ctx context.Context, env Env, args map[string]any) (any, error) {
			obj := strings.TrimSpace(StringArg(args, "input"))
			if obj == "" {
				return nil, fmt.Errorf("objective must not be empty")
			}
			env.SetObjective(obj)
			return "Objective updated to: " + obj, nil
		},
	}
}

func CallProgram() Tool {
	return Tool{
		Name:        NameCallProgram,
		Description: "Run a stored program by name after this step. Protected programs cannot be called.",
		Parameters:  InputSchema("The program name."),
		Exec: func(ctx context.Context, env Env, args map[string]any) (any, error) {
			name := strings.Trim(strings.TrimSpace(StringArg(args, "input")), "\"'`")
			if err := env.CallProgram(ctx, name); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Calling program %q", name), nil
		},
	}
}

func ProgramSearch() Tool {
	return Tool{
		Name:        NameProgramSearch,
		Description: "Search stored programs by name and description.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"input": map[string]any{"type": "string", "description": "Search terms."},
				"limit": map[string]any{"type": "integer", "minimum": 1},
			},
			"required": []any{"input"},
		},
		Exec: func(ctx context.Context, env Env, args map[string]any) (any, error) {
			limit := 5
			if v, ok := args["limit"].(float64); ok && v >= 1 {
				limit = int(v)
			}
			progs := env.Programs()
			hits := progs.Search(StringArg(args, "input"), 0)
			var lines []string
			for _, h := range hits {
				if h.Protected {
					continue
				}
				lines = append(lines, fmt.Sprintf("%s: %s", h.Name, h.Description))
				if len(lines) == limit {
					break
				}
			}
			if len(lines) == 0 {
				return "No matching programs.", nil
			}
			return strings.Join(lines, "\n"), nil
		},
	}
}

func WriteProgram() Tool {
	return Tool{
		Name:        NameWriteProgram,
		Description: "Save a new program written as a DOT digraph. Protected programs cannot be replaced or called.",
		Parameters:  InputSchema("The full program source."),
		Exec: func(ctx context.Context, env Env, args map[string]any) (any, error) {
			src := StripCodeFence(StringArg(args, "input"))
			name, err := env.LoadProgram(ctx, src)
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("Program %q saved.", name), nil
		},
	}
}

// StripCodeFence removes one surrounding ``` fence, with or without a
// language tag.
func StripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 6 {
		return s
	}
	t = strings.TrimSuffix(strings.TrimPrefix(t, "```"), "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 && !strings.ContainsAny(t[:i], " {") {
		t = t[i+1:]
	}
	return strings.TrimSpace(t)
}
