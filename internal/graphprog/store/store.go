// Package store holds loaded graph programs. The interpreter only reads from
// a Store; programs enter it through the load path on *Memory, which
// validates each program before it becomes visible.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danshapiro/agentgraph/internal/graphprog/model"
	"github.com/danshapiro/agentgraph/internal/graphprog/validate"
)

// ErrNotFound is returned (wrapped) when a program name is not in the store.
var ErrNotFound = errors.New("program not found")

// DefaultRoot is the program a run starts from unless configured otherwise.
const DefaultRoot = "main"

type ProgramInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Protected   bool   `json:"protected"`
}

// Store is the read side consumed by the interpreter. Implementations must be
// safe for concurrent readers.
type Store interface {
	Exists(name string) bool
	Graph(name string) (*model.Graph, error)
	// StartingNode returns the node linked from the program's Start node.
	StartingNode(name string) (*model.Node, error)
	// NextNode follows node's NEXT edge within g.
	NextNode(g *model.Graph, node *model.Node) (*model.Node, bool)
	// IsProtected reports whether name is reserved or required by the root
	// program.
	IsProtected(name string) bool
	List() []ProgramInfo
	Search(query string, limit int) []ProgramInfo
}

// Loader is the write side used by tools that author programs at runtime.
type Loader interface {
	Load(ctx context.Context, source []byte, opts LoadOptions) (string, error)
}

type LoadOptions struct {
	// Trusted loads come from configuration and may replace protected
	// programs. Untrusted loads (agent-authored programs) may neither replace
	// nor reference them.
	Trusted bool
}

// LoadError rejects a single program. Other programs in the same load are
// unaffected unless they reference it.
type LoadError struct {
	Program     string
	Diagnostics []validate.Diagnostic
	Err         error
}

func (e *LoadError) Error() string {
	name := e.Program
	if name == "" {
		name = "<unnamed>"
	}
	if e.Err != nil {
		return fmt.Sprintf("load program %q: %v", name, e.Err)
	}
	var parts []string
	for _, d := range e.Diagnostics {
		if d.Severity != validate.SeverityError {
			continue
		}
		parts = append(parts, d.String())
	}
	return fmt.Sprintf("load program %q: %s", name, strings.Join(parts, "; "))
}

func (e *LoadError) Unwrap() error { return e.Err }
