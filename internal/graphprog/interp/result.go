package interp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danshapiro/agentgraph/internal/graphprog/trace"
)

type FinishReason string

const (
	ReasonFinished FinishReason = "finished"
	ReasonMaxIters FinishReason = "max iters"
)

type Result struct {
	RunID        string        `json:"run_id"`
	Program      string        `json:"program"`
	Objective    string        `json:"objective"`
	FinishReason FinishReason  `json:"finish_reason"`
	Trace        string        `json:"trace"`
	Entries      []trace.Entry `json:"entries"`
	Iterations   int           `json:"iterations"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
}

func (r *Result) Save(path string) error {
	if r == nil {
		return fmt.Errorf("result is nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
