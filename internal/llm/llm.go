// Package llm is the language-model port used by the interpreter: a prompt
// goes in, text comes out. Adapters live in subpackages.
package llm

import "context"

type Model interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Model.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Complete(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }
