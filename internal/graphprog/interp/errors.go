package interp

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMaxIterations matches *MaxIterationsError with errors.Is.
var ErrMaxIterations = errors.New("max iterations reached")

// MaxIterationsError means the run was still going after max_iteration
// steps. It is not retryable; the run is most likely stuck in a loop.
type MaxIterationsError struct {
	Limit   int
	Program string
	Node    string
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("stuck: exceeded max_iteration=%d in program %q at node %q", e.Limit, e.Program, e.Node)
}

func (e *MaxIterationsError) Is(target error) bool { return target == ErrMaxIterations }

// StructuralError is a program shape problem found while traversing, such as
// a Start node mid-run or a missing NEXT edge.
type StructuralError struct {
	Program string
	Node    string
	Msg     string
	Err     error
}

func (e *StructuralError) Error() string {
	s := fmt.Sprintf("program %q node %q: %s", e.Program, e.Node, e.Msg)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *StructuralError) Unwrap() error { return e.Err }

// DecisionError means the model never produced one of the node's options.
type DecisionError struct {
	Program  string
	Node     string
	Options  []string
	Attempts int
	// Answers holds what was parsed from each rejected response.
	Answers []string
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("program %q decision %q: no valid answer after %d attempts (options %s, got %s)",
		e.Program, e.Node, e.Attempts, strings.Join(e.Options, "/"), quoteAll(e.Answers))
}

// StepError wraps a model failure with the program and node being executed.
type StepError struct {
	Program string
	Node    string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("program %q node %q: %v", e.Program, e.Node, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func quoteAll(ss []string) string {
	q := make([]string, len(ss))
	for i, s := range ss {
		q[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(q, " ") + "]"
}
