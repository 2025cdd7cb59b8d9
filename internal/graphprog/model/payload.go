package model

import (
	"fmt"
	"strings"
)

// DecodePayload derives a node's variant from its attributes. Nodes whose id
// is literally start/end (any case) default to the matching Control node.
func DecodePayload(id string, attrs map[string]string) (Payload, error) {
	get := func(k string) string { return strings.TrimSpace(attrs[k]) }

	rawKind := get("kind")
	kind, ok := ParseKind(rawKind)
	if !ok {
		if rawKind != "" {
			return nil, fmt.Errorf("node %s: unknown kind %q", id, rawKind)
		}
		switch strings.ToLower(id) {
		case "start":
			return Control{Name: ControlStart}, nil
		case "end":
			return Control{Name: ControlEnd}, nil
		}
		return nil, fmt.Errorf("node %s: missing kind", id)
	}

	purpose := get("name")
	if purpose == "" {
		purpose = get("label")
	}
	if purpose == "" {
		purpose = id
	}

	switch kind {
	case KindControl:
		name := purpose
		if get("name") == "" {
			name = id
		}
		switch strings.ToLower(name) {
		case "start":
			return Control{Name: ControlStart}, nil
		case "end":
			return Control{Name: ControlEnd}, nil
		}
		return nil, fmt.Errorf("node %s: control name must be Start or End, got %q", id, name)
	case KindAction:
		return Action{Purpose: purpose, Tool: get("tool"), Prompt: attrs["prompt"]}, nil
	case KindDecision:
		return Decision{Purpose: purpose, Question: attrs["question"]}, nil
	case KindProgram:
		return Program{Purpose: purpose, Program: get("program")}, nil
	}
	return nil, fmt.Errorf("node %s: unhandled kind %q", id, kind)
}
