package tools

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

type Question struct {
	Text    string
	Options []string
}

type Answer struct {
	Text     string
	Skipped  bool
	TimedOut bool
}

// Interviewer puts questions to a human.
type Interviewer interface {
	Ask(ctx context.Context, q Question) (Answer, error)
}

// AutoApproveInterviewer answers without a human: the first option when
// there are options, otherwise "YES".
type AutoApproveInterviewer struct{}

func (AutoApproveInterviewer) Ask(ctx context.Context, q Question) (Answer, error) {
	if len(q.Options) > 0 {
		return Answer{Text: q.Options[0]}, nil
	}
	return Answer{Text: "YES"}, nil
}

// ConsoleInterviewer prompts on Out and reads one line from In.
type ConsoleInterviewer struct {
	In  io.Reader
	Out io.Writer

	once sync.Once
	r    *bufio.Reader
}

func (c *ConsoleInterviewer) Ask(ctx context.Context, q Question) (Answer, error) {
	c.once.Do(func() { c.r = bufio.NewReader(c.In) })
	fmt.Fprintf(c.Out, "\n%s\n", q.Text)
	for i, o := range q.Options {
		fmt.Fprintf(c.Out, "  [%d] %s\n", i+1, o)
	}
	fmt.Fprint(c.Out, "> ")

	type line struct {
		s   string
		err error
	}
	ch := make(chan line, 1)
	go func() {
		s, err := c.r.ReadString('\n')
		ch <- line{s, err}
	}()
	select {
	case <-ctx.Done():
		return Answer{TimedOut: true}, ctx.Err()
	case l := <-ch:
		text := strings.TrimSpace(l.s)
		if l.err != nil && text == "" {
			if l.err == io.EOF {
				return Answer{Skipped: true}, nil
			}
			return Answer{}, l.err
		}
		// A bare number selects an option.
		var n int
		if _, err := fmt.Sscanf(text, "%d", &n); err == nil && n >= 1 && n <= len(q.Options) && fmt.Sprint(n) == text {
			text = q.Options[n-1]
		}
		return Answer{Text: text}, nil
	}
}

func AskUser(iv Interviewer) Tool {
	if iv == nil {
		iv = AutoApproveInterviewer{}
	}
	return Tool{
		Name:        NameAskUser,
		Description: "Ask the user a question and return their reply.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"input":   map[string]any{"type": "string", "description": "The question."},
				"options": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []any{"input"},
		},
		Exec: func(ctx context.Context, env Env, args map[string]any) (any, error) {
			q := Question{Text: strings.TrimSpace(StringArg(args, "input"))}
			if opts, ok := args["options"].([]any); ok {
				for _, o := range opts {
					if s, ok := o.(string); ok {
						q.Options = append(q.Options, s)
					}
				}
			}
			ans, err := iv.Ask(ctx, q)
			if err != nil {
				return nil, fmt.Errorf("ask user: %w", err)
			}
			if ans.Skipped || ans.Text == "" {
				return "The user gave no answer.", nil
			}
			return ans.Text, nil
		},
	}
}
