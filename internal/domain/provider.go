package domain

import (
	"context"
	"time"
)

// Provider is the interface every completion backend implements.
type Provider interface {
	Name() string
	// Configured reports whether a credential is available. Callers check it
	// on every request instead of caching the answer.
	Configured() bool
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is built fresh for each inbound message.
type CompletionRequest struct {
	SystemPrompt string
	UserText     string
	Images       []InlineImage // non-empty only on the vision path
	Model        string        // optional: overrides the provider default
	Timeout      time.Duration // 0 = caller's context only
}

func (r CompletionRequest) HasImages() bool {
	return len(r.Images) > 0
}

type CompletionResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
	LatencyMs    int64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
