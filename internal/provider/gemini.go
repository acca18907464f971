package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"mirrorbot/internal/domain"
)

// Gemini implements domain.Provider on the Google Generative Language API.
// A client is opened per call and closed when the call returns.
type Gemini struct {
	apiKey string
	model  string
	opts   []option.ClientOption
	logger *slog.Logger
}

type GeminiConfig struct {
	APIKey string
	Model  string
	// ClientOptions are appended after the API key, e.g. option.WithEndpoint.
	ClientOptions []option.ClientOption
	Logger        *slog.Logger
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gemini{
		apiKey: strings.TrimSpace(cfg.APIKey),
		model:  strings.TrimSpace(cfg.Model),
		opts:   cfg.ClientOptions,
		logger: cfg.Logger,
	}
}

func (g *Gemini) Name() string     { return "gemini" }
func (g *Gemini) Configured() bool { return g.apiKey != "" }

func (g *Gemini) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if !g.Configured() {
		return nil, ErrNotConfigured
	}
	model := req.Model
	if model == "" {
		model = g.model
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	opts := append([]option.ClientOption{option.WithAPIKey(g.apiKey)}, g.opts...)
	cl, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemPrompt)}}

	start := time.Now()
	resp, err := m.GenerateContent(ctx, geminiParts(req)...)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	out := geminiResponse(resp, time.Since(start))
	g.logger.Debug("gemini completion", "model", model, "images", len(req.Images), "latency_ms", out.LatencyMs)
	return out, nil
}

func geminiResponse(resp *genai.GenerateContentResponse, latency time.Duration) *domain.CompletionResponse {
	out := &domain.CompletionResponse{
		Content:   firstText(resp),
		LatencyMs: latency.Milliseconds(),
	}
	if resp != nil && resp.UsageMetadata != nil {
		out.Usage = domain.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out
}

func geminiParts(req domain.CompletionRequest) []genai.Part {
	parts := make([]genai.Part, 0, 1+len(req.Images))
	parts = append(parts, genai.Text(req.UserText))
	for _, img := range req.Images {
		parts = append(parts, &genai.Blob{MIMEType: img.MIMEType, Data: img.Data})
	}
	return parts
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}
