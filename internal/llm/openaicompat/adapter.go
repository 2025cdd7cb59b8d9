// Package openaicompat talks to any server that implements the OpenAI
// chat.completions endpoint.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danshapiro/agentgraph/internal/llm"
)

type Config struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Path         string
	Model        string
	System       string
	Temperature  *float64
	MaxTokens    int
	ExtraHeaders map[string]string
}

type Adapter struct {
	cfg    Config
	client *http.Client
}

const defaultRequestTimeout = 10 * time.Minute

func NewAdapter(cfg Config) *Adapter {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "/v1/chat/completions"
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 0},
	}
}

func (a *Adapter) Name() string { return a.cfg.Provider }

func (a *Adapter) Complete(ctx context.Context, prompt string) (string, error) {
	if a.cfg.BaseURL == "" || a.cfg.Model == "" {
		return "", &llm.ConfigurationError{Message: fmt.Sprintf("%s: base_url and model are required", a.cfg.Provider)}
	}
	requestCtx, cancel := withDefaultRequestDeadline(ctx)
	defer cancel()

	body, err := a.requestBody(prompt)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, a.cfg.BaseURL+a.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return "", llm.WrapContextError(a.cfg.Provider, err)
	}
	if a.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range a.cfg.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", llm.WrapContextError(a.cfg.Provider, err)
	}
	defer resp.Body.Close()
	return parseChatCompletionsResponse(a.cfg.Provider, resp)
}

func (a *Adapter) requestBody(prompt string) ([]byte, error) {
	var messages []map[string]any
	if strings.TrimSpace(a.cfg.System) != "" {
		messages = append(messages, map[string]any{"role": "system", "content": a.cfg.System})
	}
	messages = append(messages, map[string]any{"role": "user", "content": prompt})
	body := map[string]any{
		"model":    a.cfg.Model,
		"messages": messages,
	}
	if a.cfg.Temperature != nil {
		body["temperature"] = *a.cfg.Temperature
	}
	if a.cfg.MaxTokens > 0 {
		body["max_tokens"] = a.cfg.MaxTokens
	}
	return json.Marshal(body)
}

func parseChatCompletionsResponse(provider string, resp *http.Response) (string, error) {
	rawBytes, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", llm.WrapContextError(provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ra := llm.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return "", llm.ErrorFromHTTPStatus(provider, resp.StatusCode, errorMessage(rawBytes), truncate(string(rawBytes), 2000), ra)
	}
	var raw struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawBytes, &raw); err != nil {
		return "", fmt.Errorf("%s: decode chat.completions response: %w", provider, err)
	}
	if len(raw.Choices) == 0 {
		return "", fmt.Errorf("%s: chat.completions response missing choices", provider)
	}
	return contentText(raw.Choices[0].Message.Content), nil
}

// contentText accepts both the plain string form and the array-of-parts form.
func contentText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []any:
		var parts []string
		for _, p := range x {
			m, _ := p.(map[string]any)
			if s, ok := m["text"].(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "")
	default:
		return ""
	}
}

func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && strings.TrimSpace(e.Error.Message) != "" {
		return e.Error.Message
	}
	return "chat.completions failed"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func withDefaultRequestDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), defaultRequestTimeout)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultRequestTimeout)
}

var _ llm.Model = (*Adapter)(nil)
