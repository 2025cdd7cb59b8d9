package interp

import "github.com/danshapiro/agentgraph/internal/graphprog/model"

// Frame is one active program invocation.
type Frame struct {
	Program string
	Graph   *model.Graph
	// Cursor is the node the next step executes. While a child frame runs,
	// a parent entered through a Program node keeps its cursor on that node.
	Cursor *model.Node
	// Dynamic frames were pushed by a tool call. Their parent has already
	// advanced past the calling Action node.
	Dynamic bool
}

// Stack is the per-run call stack. The root frame is at index 0.
type Stack struct {
	frames []Frame
}

func (s *Stack) Push(f Frame) { s.frames = append(s.frames, f) }

func (s *Stack) Pop() (Frame, bool) {
	if len(s.frames) == 0 {
		return Frame{}, false
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f, true
}

// Top returns the innermost frame. The pointer is invalidated by Push.
func (s *Stack) Top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return &s.frames[len(s.frames)-1]
}

func (s *Stack) Len() int { return len(s.frames) }

func (s *Stack) Empty() bool { return len(s.frames) == 0 }

func (s *Stack) Reset() { s.frames = nil }

// Programs lists program names from the root outwards.
func (s *Stack) Programs() []string {
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Program
	}
	return out
}
