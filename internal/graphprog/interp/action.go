package interp

import (
	"context"
	"strings"

	"github.com/danshapiro/agentgraph/internal/graphprog/trace"
	"github.com/danshapiro/agentgraph/internal/llm"
	"github.com/danshapiro/agentgraph/internal/tools"
)

type ActionRequest struct {
	Purpose string
	Tool    string
	Prompt  string
	Context string
}

// Executor runs Action nodes. Tool failures end up in the returned entry;
// only model failures are returned as errors.
type Executor struct {
	Model llm.Model
	Tools *tools.Registry
}

// IsPredict reports whether tool names the model itself rather than a
// registered tool.
func IsPredict(tool string) bool {
	tool = strings.TrimSpace(tool)
	return tool == "" || strings.EqualFold(tool, trace.PredictTool)
}

func (x Executor) Execute(ctx context.Context, env tools.Env, req ActionRequest) (trace.Entry, tools.Result, error) {
	if IsPredict(req.Tool) {
		answer, err := x.Model.Complete(ctx, PredictPrompt(req))
		if err != nil {
			return trace.Entry{}, tools.Result{}, err
		}
		answer = strings.TrimSpace(answer)
		return trace.Predict(req.Purpose, answer), tools.Result{Tool: trace.PredictTool, Output: answer, FullOutput: answer}, nil
	}

	var t tools.Tool
	ok := false
	if x.Tools != nil {
		t, ok = x.Tools.Lookup(req.Tool)
	}
	if !ok {
		// Unknown tools never reach the model or the registry.
		obs := "unknown tool: " + req.Tool
		return trace.ToolCall(req.Purpose, req.Tool, "", obs), tools.Result{Tool: req.Tool, Output: obs, FullOutput: obs, IsError: true}, nil
	}

	raw, err := x.Model.Complete(ctx, ToolInputPrompt(req, t))
	if err != nil {
		return trace.Entry{}, tools.Result{}, err
	}
	input := tools.StripCodeFence(strings.TrimSpace(raw))
	res := x.Tools.Execute(ctx, env, t.Name, input)
	return trace.ToolCall(req.Purpose, t.Name, input, res.Output), res, nil
}

func PredictPrompt(req ActionRequest) string {
	var b strings.Builder
	b.WriteString(req.Context)
	b.WriteString("\n\nAction Purpose: ")
	b.WriteString(req.Purpose)
	if p := strings.TrimSpace(req.Prompt); p != "" {
		b.WriteString("\nInstruction: ")
		b.WriteString(p)
	}
	b.WriteString("\n\nRespond with the answer only.")
	return b.String()
}

func ToolInputPrompt(req ActionRequest, t tools.Tool) string {
	var b strings.Builder
	b.WriteString(req.Context)
	b.WriteString("\n\nAction Purpose: ")
	b.WriteString(req.Purpose)
	b.WriteString("\nTool: ")
	b.WriteString(t.Name)
	if d := strings.TrimSpace(t.Description); d != "" {
		b.WriteString("\nTool Description: ")
		b.WriteString(d)
	}
	if p := strings.TrimSpace(req.Prompt); p != "" {
		b.WriteString("\nInstruction: ")
		b.WriteString(p)
	}
	b.WriteString("\n\nRespond only with the input for the tool.")
	return b.String()
}
