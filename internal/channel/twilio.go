package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"mirrorbot/internal/dispatch"
	"mirrorbot/internal/domain"
	"mirrorbot/internal/metrics"
)

// FallbackTechnical is the reply for any fault not absorbed by a component.
const FallbackTechnical = "Estoy con un inconveniente técnico puntual. ¿Podés intentar de nuevo en 1 minuto?"

const (
	maxMediaPerMessage = 10 // Twilio's per-message attachment limit
	maxFormBytes       = 1 << 20
)

// MediaResolver turns attachment references into inline images, dropping
// the ones that cannot be fetched.
type MediaResolver interface {
	FetchAll(ctx context.Context, refs []domain.AttachmentRef) []domain.InlineImage
}

// Responder produces reply text for a message.
type Responder interface {
	Respond(ctx context.Context, userText string, images []domain.InlineImage, catalog string) dispatch.Result
}

// ExchangeRecorder persists a summary of each processed request.
type ExchangeRecorder interface {
	Record(ctx context.Context, ex domain.Exchange) error
}

type TwilioConfig struct {
	Addr         string
	WebhookPath  string // default: /webhook
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Catalog    string
	Media      MediaResolver
	Dispatcher Responder
	Journal    ExchangeRecorder // optional

	MetricsPath    string       // optional
	MetricsHandler http.Handler // served on MetricsPath when both are set

	Logger *slog.Logger
}

// Twilio serves the Twilio messaging webhook and answers each inbound
// message synchronously with TwiML.
type Twilio struct {
	cfg      TwilioConfig
	catalog  string
	media    MediaResolver
	dispatch Responder
	journal  ExchangeRecorder
	logger   *slog.Logger
	server   *http.Server
}

func NewTwilio(cfg TwilioConfig) *Twilio {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":5000"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Twilio{
		cfg:      cfg,
		catalog:  cfg.Catalog,
		media:    cfg.Media,
		dispatch: cfg.Dispatcher,
		journal:  cfg.Journal,
		logger:   cfg.Logger,
	}
}

func (t *Twilio) Name() string { return "twilio" }

// Handler returns the routes of the webhook server.
func (t *Twilio) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", t.handleHealth)
	mux.HandleFunc("POST /{$}", t.handleIncoming)
	mux.HandleFunc("POST "+t.cfg.WebhookPath, t.handleIncoming)
	if t.cfg.MetricsPath != "" && t.cfg.MetricsHandler != nil {
		mux.Handle("GET "+t.cfg.MetricsPath, t.cfg.MetricsHandler)
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (t *Twilio) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.cfg.Addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       t.cfg.ReadTimeout,
		WriteTimeout:      t.cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	t.logger.Info("twilio webhook server starting", "addr", t.cfg.Addr, "path", t.cfg.WebhookPath)

	errCh := make(chan error, 1)
	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("twilio webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("twilio webhook server: %w", err)
	}
}

func (t *Twilio) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	io.WriteString(rw, "ok")
}

// handleIncoming always answers 200 with a TwiML body.
func (t *Twilio) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	reply := FallbackTechnical
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				t.logger.Error("webhook handler panicked", "path", r.URL.Path, "panic", rec)
				metrics.TechnicalFailures.Inc()
			}
		}()

		r.Body = http.MaxBytesReader(rw, r.Body, maxFormBytes)
		msg, err := ParseInbound(r, t.logger)
		if err != nil {
			t.logger.Warn("cannot parse webhook form", "err", err)
			metrics.TechnicalFailures.Inc()
			return
		}
		reply = t.Handle(r.Context(), msg)
	}()

	writeTwiML(rw, reply)
}

// ParseInbound reads the Twilio form fields into a message. Attachment
// entries without a URL are dropped; a malformed NumMedia counts as zero.
func ParseInbound(r *http.Request, logger *slog.Logger) (domain.InboundMessage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := r.ParseForm(); err != nil {
		return domain.InboundMessage{}, fmt.Errorf("parse form: %w", err)
	}

	msg := domain.InboundMessage{
		MessageSID: r.FormValue("MessageSid"),
		From:       r.FormValue("From"),
		To:         r.FormValue("To"),
		Body:       strings.TrimSpace(r.FormValue("Body")),
		ReceivedAt: time.Now(),
	}

	n := 0
	if raw := strings.TrimSpace(r.FormValue("NumMedia")); raw != "" {
		v, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			logger.Warn("non-numeric NumMedia, treating as 0", "value", raw)
		case v < 0:
			logger.Warn("negative NumMedia, treating as 0", "value", raw)
		default:
			n = v
		}
	}
	if n > maxMediaPerMessage {
		logger.Warn("NumMedia above gateway limit, truncating", "value", n, "limit", maxMediaPerMessage)
		n = maxMediaPerMessage
	}

	for i := range n {
		url := strings.TrimSpace(r.FormValue("MediaUrl" + strconv.Itoa(i)))
		if url == "" {
			logger.Warn("attachment without URL skipped", "index", i)
			metrics.AttachmentsSkipped.Inc()
			continue
		}
		msg.Attachments = append(msg.Attachments, domain.AttachmentRef{
			Index:       i,
			URL:         url,
			ContentType: strings.TrimSpace(r.FormValue("MediaContentType" + strconv.Itoa(i))),
		})
	}
	return msg, nil
}

// Handle runs one message through media resolution and dispatch and returns
// the reply text. It never panics and never returns an empty string.
func (t *Twilio) Handle(ctx context.Context, msg domain.InboundMessage) (reply string) {
	start := time.Now()
	ex := domain.Exchange{
		RequestID:  uuid.NewString(),
		MessageSID: msg.MessageSID,
		From:       msg.From,
		Body:       msg.Body,
		Step:       domain.StepReceived,
	}
	logger := t.logger.With("request_id", ex.RequestID)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("message pipeline panicked", "step", ex.Step, "from", msg.From, "panic", rec)
			metrics.TechnicalFailures.Inc()
			ex.Error = fmt.Sprint(rec)
			reply = FallbackTechnical
		}
		ex.Reply = reply
		ex.LatencyMs = time.Since(start).Milliseconds()
		t.record(ctx, logger, ex)
	}()

	metrics.MessagesTotal.Inc()
	logger.Info("inbound message", "step", ex.Step, "from", msg.From, "body", msg.Body, "attachments", len(msg.Attachments))

	images := t.resolveImages(ctx, logger, msg, &ex)
	ex.Step = domain.StepAttachmentsResolved

	res := t.dispatch.Respond(ctx, msg.Body, images, t.catalog)
	ex.Step = domain.StepBackendDispatched
	ex.Path = string(res.Path)
	ex.Fallback = res.Fallback
	if res.Err != nil {
		ex.Error = res.Err.Error()
	}
	metrics.Dispatches(ex.Path).Inc()
	metrics.CompletionLatency(ex.Path).Observe(res.Latency.Seconds())
	if res.Fallback {
		metrics.Fallbacks(ex.Path).Inc()
	}

	reply = strings.TrimSpace(res.Text)
	if reply == "" {
		logger.Error("dispatcher produced no text", "step", ex.Step, "path", ex.Path)
		metrics.TechnicalFailures.Inc()
		reply = FallbackTechnical
	}

	ex.Step = domain.StepReplied
	logger.Info("reply ready", "step", ex.Step, "path", ex.Path, "fallback", ex.Fallback,
		"images", ex.Images, "latency_ms", time.Since(start).Milliseconds())
	return reply
}

func (t *Twilio) resolveImages(ctx context.Context, logger *slog.Logger, msg domain.InboundMessage, ex *domain.Exchange) []domain.InlineImage {
	for _, a := range msg.Attachments {
		if !a.IsImage() {
			logger.Info("non-image attachment skipped", "index", a.Index, "content_type", a.ContentType, "url", a.URL)
			metrics.AttachmentsSkipped.Inc()
		}
	}

	refs := msg.ImageAttachments()
	if len(refs) == 0 || t.media == nil {
		return nil
	}

	start := time.Now()
	images := t.media.FetchAll(ctx, refs)
	metrics.MediaFetchLatency.Observe(time.Since(start).Seconds())

	ex.Images = len(images)
	ex.Dropped = len(refs) - len(images)
	if len(images) == 0 {
		logger.Warn("no image attachment could be fetched, answering as text", "from", msg.From, "attachments", len(refs))
	}
	return images
}

func (t *Twilio) record(ctx context.Context, logger *slog.Logger, ex domain.Exchange) {
	if t.journal == nil {
		return
	}
	// The request context may already be cancelled once the reply is ready.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := t.journal.Record(recCtx, ex); err != nil {
		logger.Warn("journal write failed", "err", err)
	}
}
