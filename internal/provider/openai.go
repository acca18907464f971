package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"mirrorbot/internal/domain"
)

// OpenAI implements domain.Provider for OpenAI-compatible chat completion
// APIs. Image inputs are sent as data-URI image_url content parts.
type OpenAI struct {
	apiKey string
	model  string
	client openai.Client
	logger *slog.Logger
}

type OpenAIConfig struct {
	APIKey     string
	APIBase    string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
		// One bounded attempt per call; the gateway's own timeout leaves no room for retries.
		option.WithMaxRetries(0),
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.APIBase, "/")+"/"))
	}

	return &OpenAI{
		apiKey: strings.TrimSpace(cfg.APIKey),
		model:  cfg.Model,
		client: openai.NewClient(opts...),
		logger: cfg.Logger,
	}
}

func (o *OpenAI) Name() string     { return "openai" }
func (o *OpenAI) Configured() bool { return o.apiKey != "" }

func (o *OpenAI) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if !o.Configured() {
		return nil, ErrNotConfigured
	}
	model := req.Model
	if model == "" {
		model = o.model
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			buildUserMessage(req),
		},
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}

	out := &domain.CompletionResponse{LatencyMs: time.Since(start).Milliseconds()}
	out.Usage = domain.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	if len(resp.Choices) == 0 {
		return out, nil
	}
	out.Content = resp.Choices[0].Message.Content
	out.FinishReason = string(resp.Choices[0].FinishReason)

	o.logger.Debug("openai completion",
		"model", model,
		"images", len(req.Images),
		"latency_ms", out.LatencyMs,
		"tokens", out.Usage.TotalTokens,
	)
	return out, nil
}

// buildUserMessage sends plain text on the text path and a caption followed by
// one image part per inline image on the vision path.
func buildUserMessage(req domain.CompletionRequest) openai.ChatCompletionMessageParamUnion {
	if !req.HasImages() {
		return openai.UserMessage(req.UserText)
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, 1+len(req.Images))
	parts = append(parts, openai.ChatCompletionContentPartUnionParam{
		OfText: &openai.ChatCompletionContentPartTextParam{Text: req.UserText},
	})
	for _, img := range req.Images {
		parts = append(parts, openai.ChatCompletionContentPartUnionParam{
			OfImageURL: &openai.ChatCompletionContentPartImageParam{
				ImageURL: openai.ChatCompletionContentPartImageImageURLParam{
					URL:    img.DataURI(),
					Detail: "auto",
				},
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: parts,
			},
		},
	}
}
