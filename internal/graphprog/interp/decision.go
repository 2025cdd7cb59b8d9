package interp

import (
	"context"
	"strings"
	"unicode"

	"github.com/danshapiro/agentgraph/internal/llm"
)

const DefaultMaxDecisionAttempts = 5

type DecisionRequest struct {
	Purpose  string
	Question string
	// Options are the normalized labels of the node's outgoing edges.
	Options []string
	// Context is the rendered trace window.
	Context string
}

// Resolver turns a Decision node into one of its option labels.
type Resolver struct {
	Model       llm.Model
	MaxAttempts int
}

// Resolve asks the model up to MaxAttempts times. Each attempt is a fresh
// completion. A non-OK Outcome means every answer was outside the options.
func (r Resolver) Resolve(ctx context.Context, req DecisionRequest) (Outcome[string], error) {
	prompt := DecisionPrompt(req)
	allowed := make(map[string]bool, len(req.Options))
	for _, o := range req.Options {
		allowed[o] = true
	}
	max := r.MaxAttempts
	if max <= 0 {
		max = DefaultMaxDecisionAttempts
	}
	return Bounded(ctx, max, func(ctx context.Context, n int) (string, bool, error) {
		resp, err := r.Model.Complete(ctx, prompt)
		if err != nil {
			return "", false, err
		}
		answer := ParseAnswer(resp)
		return answer, allowed[answer], nil
	})
}

func DecisionPrompt(req DecisionRequest) string {
	opts := strings.Join(req.Options, ", ")
	var b strings.Builder
	b.WriteString(req.Context)
	b.WriteString("\n\nDecision Purpose: ")
	b.WriteString(req.Purpose)
	b.WriteString("\nDecision Question: ")
	b.WriteString(questionOf(req.Purpose, req.Question))
	b.WriteString("\nOptions: ")
	b.WriteString(opts)
	b.WriteString("\n\nReason briefly if needed. Finish your response with exactly one of: ")
	b.WriteString(opts)
	return b.String()
}

// questionOf falls back to the purpose when a Decision node has no question.
func questionOf(purpose, question string) string {
	if strings.TrimSpace(question) == "" {
		return purpose
	}
	return question
}

// ParseAnswer returns the last word of resp with surrounding punctuation
// removed, upper-cased. Trailing tokens that are pure punctuation are
// skipped, so "Answer: <YES> ." yields "YES".
func ParseAnswer(resp string) string {
	fields := strings.Fields(resp)
	for i := len(fields) - 1; i >= 0; i-- {
		tok := strings.TrimFunc(fields[i], func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if tok != "" {
			return strings.ToUpper(tok)
		}
	}
	return ""
}
