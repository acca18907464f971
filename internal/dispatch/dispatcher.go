// Package dispatch picks the text or vision backend for a message and turns
// every backend outcome into reply text.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mirrorbot/internal/domain"
)

// Path identifies which backend answered.
type Path string

const (
	PathText   Path = "text"
	PathVision Path = "vision"
)

// ErrEmptyAnswer is reported when a backend answers with blank text.
var ErrEmptyAnswer = errors.New("backend returned an empty answer")

// ErrNoCredential is reported when the selected backend is not configured.
var ErrNoCredential = errors.New("backend has no credential")

// Result is the outcome of one Respond call. Text is always usable; Err
// records why a fallback was chosen.
type Result struct {
	Text     string
	Path     Path
	Fallback bool
	Err      error
	Latency  time.Duration
}

// Backend binds a provider to the model and timeout of one path.
type Backend struct {
	Provider domain.Provider
	Model    string
	Timeout  time.Duration
}

// Config configures a Dispatcher.
type Config struct {
	Text              Backend
	Vision            Backend
	SystemPromptExtra string
	Logger            *slog.Logger
}

type Dispatcher struct {
	text   Backend
	vision Backend
	extra  string
	logger *slog.Logger
}

func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Text.Timeout <= 0 {
		cfg.Text.Timeout = 12 * time.Second
	}
	if cfg.Vision.Timeout <= 0 {
		cfg.Vision.Timeout = 25 * time.Second
	}
	return &Dispatcher{
		text:   cfg.Text,
		vision: cfg.Vision,
		extra:  cfg.SystemPromptExtra,
		logger: cfg.Logger,
	}
}

// Respond answers userText, using the vision backend when images is non-empty.
// It never fails: backend faults become the path's fallback text.
func (d *Dispatcher) Respond(ctx context.Context, userText string, images []domain.InlineImage, catalog string) Result {
	if len(images) > 0 {
		return d.call(ctx, PathVision, d.vision, domain.CompletionRequest{
			SystemPrompt: VisionSystemPrompt(catalog, d.extra),
			UserText:     VisionCaption(userText),
			Images:       images,
		}, FallbackVision)
	}
	return d.call(ctx, PathText, d.text, domain.CompletionRequest{
		SystemPrompt: TextSystemPrompt(catalog, d.extra),
		UserText:     userText,
	}, FallbackText)
}

func (d *Dispatcher) call(ctx context.Context, path Path, b Backend, req domain.CompletionRequest, fallback string) (res Result) {
	res = Result{Path: path}
	start := time.Now()
	defer func() {
		res.Latency = time.Since(start)
	}()

	// Checked per call so a later credential change is picked up.
	if b.Provider == nil || !b.Provider.Configured() {
		res.Text, res.Fallback, res.Err = fallback, true, ErrNoCredential
		return res
	}

	req.Model = b.Model
	req.Timeout = b.Timeout

	resp, err := d.complete(ctx, b, req)
	if err != nil {
		d.logger.Error("completion failed, using fallback", "path", path, "provider", b.Provider.Name(), "err", err)
		res.Text, res.Fallback, res.Err = fallback, true, err
		return res
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		d.logger.Warn("completion was empty, using fallback", "path", path, "provider", b.Provider.Name())
		res.Text, res.Fallback, res.Err = fallback, true, ErrEmptyAnswer
		return res
	}

	res.Text = text
	return res
}

// complete runs the backend call under its own deadline and converts a
// panic inside the provider into an error.
func (d *Dispatcher) complete(ctx context.Context, b Backend, req domain.CompletionRequest) (resp *domain.CompletionResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("provider %s panicked: %v", b.Provider.Name(), r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	resp, err = b.Provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", b.Provider.Name(), err)
	}
	if resp == nil {
		return nil, ErrEmptyAnswer
	}
	return resp, nil
}
