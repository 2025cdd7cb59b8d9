package trace

import "strings"

type Kind string

const (
	KindCallProgram Kind = "call_program"
	KindEndProgram  Kind = "end_program"
	KindAction      Kind = "action"
	KindDecision    Kind = "decision"
)

// PredictTool is the tool name recorded for model-only actions.
const PredictTool = "Predict"

// Entry is one executed step. String renders the text the model sees.
type Entry struct {
	Kind     Kind   `json:"kind"`
	Program  string `json:"program,omitempty"`
	Purpose  string `json:"purpose,omitempty"`
	Tool     string `json:"tool,omitempty"`
	Input    string `json:"input,omitempty"`
	Output   string `json:"output,omitempty"`
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

func CallProgram(program, purpose string) Entry {
	return Entry{Kind: KindCallProgram, Program: program, Purpose: purpose}
}

func EndProgram(program string) Entry {
	return Entry{Kind: KindEndProgram, Program: program}
}

func Predict(purpose, answer string) Entry {
	return Entry{Kind: KindAction, Purpose: purpose, Tool: PredictTool, Output: answer}
}

func ToolCall(purpose, tool, input, observation string) Entry {
	return Entry{Kind: KindAction, Purpose: purpose, Tool: tool, Input: input, Output: observation}
}

func Decision(purpose, question, answer string) Entry {
	return Entry{Kind: KindDecision, Purpose: purpose, Question: question, Answer: answer}
}

func (e Entry) String() string {
	var b strings.Builder
	switch e.Kind {
	case KindCallProgram:
		b.WriteString("Call Program: " + e.Program)
		b.WriteString("\nProgram Purpose: " + e.Purpose)
	case KindEndProgram:
		b.WriteString("End Program: " + e.Program)
	case KindAction:
		b.WriteString("Action Purpose: " + e.Purpose)
		b.WriteString("\nAction: " + e.Tool)
		if e.Tool == PredictTool {
			b.WriteString("\nAnswer: " + e.Output)
			break
		}
		b.WriteString("\nAction Input: " + e.Input)
		b.WriteString("\nAction Observation: " + e.Output)
	case KindDecision:
		b.WriteString("Decision Purpose: " + e.Purpose)
		b.WriteString("\nDecision Question: " + e.Question)
		b.WriteString("\nDecision Answer: " + e.Answer)
	}
	return b.String()
}
