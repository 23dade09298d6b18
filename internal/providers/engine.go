package providers

import (
	"context"
	"fmt"
	"strings"
)

// Progress stages reported by Engine.
const (
	StageRequest  = "request"
	StageThinking = "thinking"
	StageDraft    = "draft"
	StageDone     = "done"
)

// EngineConfig tunes an Engine.
type EngineConfig struct {
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Engine answers one prompt with a streaming chat completion and reports
// intermediate output as progress stages.
type Engine struct {
	provider Provider
	cfg      EngineConfig
}

func NewEngine(provider Provider, cfg EngineConfig) *Engine {
	return &Engine{provider: provider, cfg: cfg}
}

// Run implements agent.Engine.
func (e *Engine) Run(ctx context.Context, text string, progress func(stage string, output any)) (string, error) {
	if progress == nil {
		progress = func(string, any) {}
	}

	var msgs []Message
	if e.cfg.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: e.cfg.SystemPrompt})
	}
	msgs = append(msgs, Message{Role: "user", Content: text})

	req := ChatRequest{Messages: msgs, Model: e.cfg.Model, Options: map[string]interface{}{}}
	if e.cfg.MaxTokens > 0 {
		req.Options[OptMaxTokens] = e.cfg.MaxTokens
	}
	if e.cfg.Temperature > 0 {
		req.Options[OptTemperature] = e.cfg.Temperature
	}

	model := e.cfg.Model
	if model == "" {
		model = e.provider.DefaultModel()
	}
	progress(StageRequest, fmt.Sprintf("%s/%s", e.provider.Name(), model))

	var thinking, draft strings.Builder
	resp, err := e.provider.ChatStream(ctx, req, func(c StreamChunk) {
		if c.Thinking != "" {
			thinking.WriteString(c.Thinking)
			progress(StageThinking, tail(thinking.String(), 300))
		}
		if c.Content != "" {
			draft.WriteString(c.Content)
			progress(StageDraft, tail(draft.String(), 300))
		}
	})
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	done := resp.FinishReason
	if resp.Usage != nil {
		done = fmt.Sprintf("%s, %d tokens", resp.FinishReason, resp.Usage.TotalTokens)
	}
	progress(StageDone, done)
	return resp.Content, nil
}

// tail keeps the last n runes of s.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "…" + string(r[len(r)-n:])
}
