package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/zeebo/blake3"

	"github.com/danshapiro/agentgraph/internal/ctxlog"
	"github.com/danshapiro/agentgraph/internal/graphprog/dot"
	"github.com/danshapiro/agentgraph/internal/graphprog/model"
	"github.com/danshapiro/agentgraph/internal/graphprog/validate"
)

type stored struct {
	graph       *model.Graph
	source      []byte
	fingerprint string
}

// Memory is the in-process Store. Reads take a shared lock; loads validate
// outside the lock and commit under it.
type Memory struct {
	mu       sync.RWMutex
	programs map[string]*stored
	reserved map[string]bool
	root     string
}

func NewMemory() *Memory {
	return &Memory{
		programs: map[string]*stored{},
		reserved: map[string]bool{DefaultRoot: true},
		root:     DefaultRoot,
	}
}

// Fingerprint is the hex blake3 digest of a program source.
func Fingerprint(source []byte) string {
	sum := blake3.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// SetRoot changes the root program. The root is always treated as reserved.
func (m *Memory) SetRoot(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = strings.TrimSpace(name)
	if m.root != "" {
		m.reserved[m.root] = true
	}
}

func (m *Memory) Root() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root
}

// Reserve marks names as reserved. Reserved programs can never be referenced
// by a Program node or called dynamically.
func (m *Memory) Reserve(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			m.reserved[n] = true
		}
	}
}

func (m *Memory) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.programs[name]
	return ok
}

// Graph returns the stored graph. Stored graphs are shared; callers must not
// mutate them.
func (m *Memory) Graph(name string) (*model.Graph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.programs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return p.graph, nil
}

// Source returns the text a program was loaded from.
func (m *Memory) Source(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.programs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return append([]byte(nil), p.source...), nil
}

func (m *Memory) StartingNode(name string) (*model.Node, error) {
	g, err := m.Graph(name)
	if err != nil {
		return nil, err
	}
	start := g.Start()
	if start == nil {
		return nil, fmt.Errorf("program %q has no Start node", name)
	}
	next, ok := m.NextNode(g, start)
	if !ok {
		return nil, fmt.Errorf("program %q: Start node has no NEXT edge", name)
	}
	return next, nil
}

func (m *Memory) NextNode(g *model.Graph, node *model.Node) (*model.Node, bool) {
	if g == nil || node == nil {
		return nil, false
	}
	n := g.Next(node.ID)
	return n, n != nil
}

func (m *Memory) IsProtected(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.protectedLocked()[name]
}

// protectedLocked returns reserved names plus every program reachable from
// the root through Program nodes.
func (m *Memory) protectedLocked() map[string]bool {
	out := make(map[string]bool, len(m.reserved))
	for n := range m.reserved {
		out[n] = true
	}
	if m.root == "" {
		return out
	}
	seen := map[string]bool{m.root: true}
	queue := []string{m.root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out[cur] = true
		p, ok := m.programs[cur]
		if !ok {
			continue
		}
		for _, ref := range p.graph.ProgramRefs() {
			if !seen[ref] {
				seen[ref] = true
				queue = append(queue, ref)
			}
		}
	}
	return out
}

func (m *Memory) List() []ProgramInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prot := m.protectedLocked()
	out := make([]ProgramInfo, 0, len(m.programs))
	for name, p := range m.programs {
		out = append(out, ProgramInfo{
			Name:        name,
			Description: p.graph.Description,
			Fingerprint: p.fingerprint,
			Protected:   prot[name],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Search ranks programs by how many query terms appear in their name or
// description (case-insensitive). An empty query lists everything.
func (m *Memory) Search(query string, limit int) []ProgramInfo {
	all := m.List()
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		if limit > 0 && len(all) > limit {
			all = all[:limit]
		}
		return all
	}
	type scored struct {
		info  ProgramInfo
		score int
	}
	var hits []scored
	for _, info := range all {
		hay := strings.ToLower(info.Name + " " + strings.ReplaceAll(info.Name, "_", " ") + " " + info.Description)
		score := 0
		for _, t := range terms {
			if strings.Contains(hay, t) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{info: info, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]ProgramInfo, 0, len(hits))
	for _, h := range hits {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, h.info)
	}
	return out
}

// Load parses, validates and stores a single program, returning its name.
func (m *Memory) Load(ctx context.Context, source []byte, opts LoadOptions) (string, error) {
	names, err := m.LoadBatch(ctx, [][]byte{source}, opts)
	if err != nil {
		return "", err
	}
	return names[0], nil
}

type candidate struct {
	name   string
	graph  *model.Graph
	source []byte
	fp     string
	failed error
}

// LoadBatch loads several programs at once. Programs may reference each other
// (including cyclically) within the batch. A program that fails is skipped
// along with any program in the batch that depends on it; everything else is
// stored. The returned names are the programs that are now in the store, and
// the error joins one *LoadError per rejected program.
func (m *Memory) LoadBatch(ctx context.Context, sources [][]byte, opts LoadOptions) ([]string, error) {
	logger := ctxlog.FromContext(ctx)

	var errs []error
	var cands []*candidate
	byName := map[string]*candidate{}
	for i, src := range sources {
		g, err := dot.Parse(src)
		if err != nil {
			name, _ := dot.ParseName(src)
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			errs = append(errs, &LoadError{Program: name, Err: err})
			continue
		}
		if _, dup := byName[g.Name]; dup {
			errs = append(errs, &LoadError{Program: g.Name, Err: errors.New("defined more than once in the same load")})
			continue
		}
		if diags := validate.Validate(g); len(validate.Errors(diags)) > 0 {
			errs = append(errs, &LoadError{Program: g.Name, Diagnostics: diags})
			continue
		}
		c := &candidate{name: g.Name, graph: g, source: append([]byte(nil), src...), fp: Fingerprint(src)}
		cands = append(cands, c)
		byName[c.name] = c
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prot := m.protectedLocked()
	if !opts.Trusted {
		for _, c := range cands {
			if prot[c.name] {
				c.failed = &LoadError{Program: c.name, Diagnostics: []validate.Diagnostic{{
					Rule:     "program_protected",
					Severity: validate.SeverityError,
					Message:  fmt.Sprintf("program %q is protected and cannot be replaced", c.name),
				}}}
			}
		}
	}

	// Reference checks run to a fixpoint: rejecting one program can
	// invalidate another that depended on it.
	for changed := true; changed; {
		changed = false
		for _, c := range cands {
			if c.failed != nil {
				continue
			}
			var diags []validate.Diagnostic
			for _, id := range c.graph.SortedNodeIDs() {
				p, ok := c.graph.Nodes[id].Payload.(model.Program)
				if !ok {
					continue
				}
				ref := p.Program
				switch {
				case m.reserved[ref]:
					diags = append(diags, validate.Diagnostic{
						Rule:     "program_protected",
						Severity: validate.SeverityError,
						Message:  fmt.Sprintf("program %q is reserved and cannot be called", ref),
						NodeID:   id,
					})
				case !opts.Trusted && prot[ref]:
					diags = append(diags, validate.Diagnostic{
						Rule:     "program_protected",
						Severity: validate.SeverityError,
						Message:  fmt.Sprintf("program %q is protected and cannot be called", ref),
						NodeID:   id,
					})
				default:
					if bc, inBatch := byName[ref]; inBatch {
						if bc.failed == nil {
							continue
						}
						if _, exists := m.programs[ref]; exists {
							continue
						}
						diags = append(diags, validate.Diagnostic{
							Rule:     "program_reference",
							Severity: validate.SeverityError,
							Message:  fmt.Sprintf("referenced program %q failed to load", ref),
							NodeID:   id,
						})
						continue
					}
					if _, exists := m.programs[ref]; !exists {
						diags = append(diags, validate.Diagnostic{
							Rule:     "program_reference",
							Severity: validate.SeverityError,
							Message:  fmt.Sprintf("referenced program %q does not exist", ref),
							NodeID:   id,
						})
					}
				}
			}
			if len(diags) > 0 {
				c.failed = &LoadError{Program: c.name, Diagnostics: diags}
				changed = true
			}
		}
	}

	var names []string
	for _, c := range cands {
		if c.failed != nil {
			errs = append(errs, c.failed)
			continue
		}
		names = append(names, c.name)
		if prev, ok := m.programs[c.name]; ok && prev.fingerprint == c.fp {
			logger.Debug("program unchanged", "program", c.name)
			continue
		}
		m.programs[c.name] = &stored{graph: c.graph, source: c.source, fingerprint: c.fp}
		logger.Debug("program loaded", "program", c.name, "nodes", len(c.graph.Nodes), "trusted", opts.Trusted)
	}
	for _, err := range errs {
		logger.Warn("program rejected", "err", err)
	}
	return names, errors.Join(errs...)
}

// LoadDir loads every file in fsys matching any of the doublestar patterns
// (for example "programs/**/*.dot") as one trusted batch.
func (m *Memory) LoadDir(ctx context.Context, fsys fs.FS, patterns ...string) ([]string, error) {
	seen := map[string]bool{}
	var paths []string
	for _, pat := range patterns {
		matches, err := doublestar.Glob(fsys, pat)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pat, err)
		}
		for _, p := range matches {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	sort.Strings(paths)
	sources := make([][]byte, 0, len(paths))
	for _, p := range paths {
		b, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		sources = append(sources, b)
	}
	return m.LoadBatch(ctx, sources, LoadOptions{Trusted: true})
}

// Delete removes a program. Protected programs and programs still referenced
// by another stored program cannot be deleted.
func (m *Memory) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.programs[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if m.protectedLocked()[name] {
		return fmt.Errorf("program %q is protected", name)
	}
	var users []string
	for other, p := range m.programs {
		if other == name {
			continue
		}
		for _, ref := range p.graph.ProgramRefs() {
			if ref == name {
				users = append(users, other)
				break
			}
		}
	}
	if len(users) > 0 {
		sort.Strings(users)
		return fmt.Errorf("program %q is still referenced by %s", name, strings.Join(users, ", "))
	}
	delete(m.programs, name)
	return nil
}

var _ Store = (*Memory)(nil)
