package llm

import (
	"context"
	"fmt"
	"sync"
)

// Scripted replays canned responses in order and records every prompt. It is
// used for deterministic runs in tests and dry runs.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	// Fallback answers once the script is exhausted. When empty, an
	// exhausted script returns an error.
	Fallback string
	prompts  []string
}

func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: append([]string(nil), responses...)}
}

func (s *Scripted) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if len(s.responses) == 0 {
		if s.Fallback != "" {
			return s.Fallback, nil
		}
		return "", &ConfigurationError{Message: fmt.Sprintf("scripted model exhausted after %d calls", len(s.prompts)-1)}
	}
	out := s.responses[0]
	s.responses = s.responses[1:]
	return out, nil
}

func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}
