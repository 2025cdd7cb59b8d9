// Package trace keeps the step history of one interpreter run and renders it,
// within a token budget, as context for model calls.
package trace

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Tokenizer estimates how many model tokens a string costs.
type Tokenizer interface {
	CountTokens(s string) int
}

type TokenizerFunc func(s string) int

func (f TokenizerFunc) CountTokens(s string) int { return f(s) }

// Heuristic approximates tokens as one per four runes plus one per line.
type Heuristic struct{}

func (Heuristic) CountTokens(s string) int {
	if s == "" {
		return 0
	}
	runes := utf8.RuneCountInString(s)
	return (runes+3)/4 + strings.Count(s, "\n") + 1
}

type Option func(*Buffer)

func WithTokenizer(t Tokenizer) Option {
	return func(b *Buffer) {
		if t != nil {
			b.tok = t
		}
	}
}

// WithPruneBelow lets Window discard stored entries that cannot fit in a
// budget of maxTokens any more. Zero disables pruning.
func WithPruneBelow(maxTokens int) Option {
	return func(b *Buffer) { b.pruneBelow = maxTokens }
}

// Buffer is owned by a single run and is not safe for concurrent use.
type Buffer struct {
	objective  string
	note       string
	entries    []Entry
	offset     int // entries pruned from the front; keeps step numbers absolute
	tok        Tokenizer
	pruneBelow int
}

func New(opts ...Option) *Buffer {
	b := &Buffer{tok: Heuristic{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Buffer) Tokenizer() Tokenizer { return b.tok }

func (b *Buffer) SetObjective(s string) { b.objective = s }
func (b *Buffer) Objective() string     { return b.objective }
func (b *Buffer) SetNote(s string)      { b.note = s }
func (b *Buffer) Note() string          { return b.note }

func (b *Buffer) Append(e Entry) { b.entries = append(b.entries, e) }

// Entries returns a copy of the retained entries, oldest first.
func (b *Buffer) Entries() []Entry {
	return append([]Entry(nil), b.entries...)
}

// Len counts every step appended since the last Clear, pruned or not.
func (b *Buffer) Len() int { return b.offset + len(b.entries) }

// Revert drops the last n retained entries.
func (b *Buffer) Revert(n int) {
	if n <= 0 {
		return
	}
	if n > len(b.entries) {
		n = len(b.entries)
	}
	b.entries = b.entries[:len(b.entries)-n]
}

// Clear empties the history and unsets the objective. The note is kept.
func (b *Buffer) Clear() {
	b.entries = nil
	b.offset = 0
	b.objective = ""
}

func (b *Buffer) header() string {
	h := "Objective: " + b.objective
	if b.note != "" {
		h += "\nNote: " + b.note
	}
	return h
}

func (b *Buffer) step(i int) string {
	return "Step " + strconv.Itoa(b.offset+i+1) + ":\n" + b.entries[i].String()
}

func (b *Buffer) render(from int) string {
	var sb strings.Builder
	sb.WriteString(b.header())
	for i := from; i < len(b.entries); i++ {
		sb.WriteString("\n\n")
		sb.WriteString(b.step(i))
	}
	return sb.String()
}

// Format renders the whole retained history.
func (b *Buffer) Format() string { return b.render(0) }

// firstFitting returns the index of the oldest entry that still fits in
// maxTokens together with the header and every newer entry. The newest entry
// is always included.
func (b *Buffer) firstFitting(maxTokens int) int {
	if len(b.entries) == 0 {
		return 0
	}
	used := b.tok.CountTokens(b.header())
	from := len(b.entries)
	for i := len(b.entries) - 1; i >= 0; i-- {
		cost := b.tok.CountTokens(b.step(i)) + 1
		if used+cost > maxTokens && i != len(b.entries)-1 {
			break
		}
		used += cost
		from = i
	}
	return from
}

// Window renders the header and as many of the most recent entries as fit in
// maxTokens, dropping whole entries oldest first. The most recent entry is
// always included even when it alone exceeds the budget. A non-positive
// budget renders everything.
func (b *Buffer) Window(maxTokens int) string {
	if b.pruneBelow > 0 {
		if cut := b.firstFitting(b.pruneBelow); cut > 0 {
			b.entries = append([]Entry(nil), b.entries[cut:]...)
			b.offset += cut
		}
	}
	if maxTokens <= 0 {
		return b.Format()
	}
	return b.render(b.firstFitting(maxTokens))
}
