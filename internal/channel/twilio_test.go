package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"mirrorbot/internal/dispatch"
	"mirrorbot/internal/domain"
	"mirrorbot/internal/media"
	"mirrorbot/internal/metrics"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubProvider answers every completion with a fixed text and records requests.
type stubProvider struct {
	name       string
	configured bool
	answer     string
	block      bool

	mu       sync.Mutex
	requests []domain.CompletionRequest
}

func (s *stubProvider) Name() string     { return s.name }
func (s *stubProvider) Configured() bool { return s.configured }

func (s *stubProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &domain.CompletionResponse{Content: s.answer}, nil
}

func (s *stubProvider) calls() []domain.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CompletionRequest(nil), s.requests...)
}

type memJournal struct {
	mu        sync.Mutex
	exchanges []domain.Exchange
}

func (j *memJournal) Record(_ context.Context, ex domain.Exchange) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.exchanges = append(j.exchanges, ex)
	return nil
}

func (j *memJournal) last() domain.Exchange {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exchanges[len(j.exchanges)-1]
}

type panicResponder struct{}

func (panicResponder) Respond(context.Context, string, []domain.InlineImage, string) dispatch.Result {
	panic("boom")
}

const testCatalog = "Redondo 60cm: $45000"

type fixture struct {
	twilio  *Twilio
	text    *stubProvider
	vision  *stubProvider
	journal *memJournal
	media   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mediaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/broken") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0})
	}))
	t.Cleanup(mediaSrv.Close)

	f := &fixture{
		text:    &stubProvider{name: "text", configured: true, answer: "¡Hola! Sí, tenemos el Redondo 60cm a $45000."},
		vision:  &stubProvider{name: "vision", configured: true, answer: "Para esa pared te recomiendo el Redondo 60cm."},
		journal: &memJournal{},
		media:   mediaSrv,
	}
	f.twilio = NewTwilio(TwilioConfig{
		Catalog: testCatalog,
		Media:   media.NewFetcher(media.Config{Timeout: time.Second, Logger: quietLogger()}),
		Dispatcher: dispatch.New(dispatch.Config{
			Text:   dispatch.Backend{Provider: f.text, Timeout: 200 * time.Millisecond},
			Vision: dispatch.Backend{Provider: f.vision, Timeout: 200 * time.Millisecond},
			Logger: quietLogger(),
		}),
		Journal:        f.journal,
		MetricsPath:    "/metrics",
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "metrics") }),
		Logger:         quietLogger(),
	})
	return f
}

func (f *fixture) post(t *testing.T, path string, form url.Values) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.twilio.Handler().ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func replyText(t *testing.T, body string) string {
	t.Helper()
	resp := parseTwiML(t, body)
	if len(resp.Messages) != 1 {
		t.Fatalf("expected one Message, got %d:\n%s", len(resp.Messages), body)
	}
	if resp.Messages[0] == "" {
		t.Fatal("reply must never be empty")
	}
	return resp.Messages[0]
}

func TestWebhook_TextMessage(t *testing.T) {
	f := newFixture(t)
	code, body := f.post(t, "/webhook", url.Values{
		"From":     {"whatsapp:+5491100000000"},
		"Body":     {"Hola, ¿tienen espejos redondos?"},
		"NumMedia": {"0"},
	})

	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got := replyText(t, body); got != f.text.answer {
		t.Fatalf("unexpected reply %q", got)
	}
	calls := f.text.calls()
	if len(calls) != 1 || calls[0].UserText != "Hola, ¿tienen espejos redondos?" {
		t.Fatalf("text backend not invoked with the body: %+v", calls)
	}
	if len(f.vision.calls()) != 0 {
		t.Fatal("vision backend must not be called")
	}

	ex := f.journal.last()
	if ex.Step != domain.StepReplied || ex.Path != "text" || ex.RequestID == "" {
		t.Fatalf("unexpected journal entry %+v", ex)
	}
}

func TestWebhook_RootAlias(t *testing.T) {
	f := newFixture(t)
	code, body := f.post(t, "/", url.Values{"Body": {"hola"}})
	if code != http.StatusOK || replyText(t, body) != f.text.answer {
		t.Fatalf("POST / should behave like the webhook route, got %d %s", code, body)
	}
}

func TestWebhook_ImageWithoutBody(t *testing.T) {
	f := newFixture(t)
	_, body := f.post(t, "/webhook", url.Values{
		"Body":              {""},
		"NumMedia":          {"1"},
		"MediaUrl0":         {f.media.URL + "/img/0"},
		"MediaContentType0": {"image/jpeg"},
	})

	if got := replyText(t, body); got != f.vision.answer {
		t.Fatalf("unexpected reply %q", got)
	}
	calls := f.vision.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one vision call, got %d", len(calls))
	}
	if calls[0].UserText != dispatch.DefaultVisionCaption {
		t.Fatalf("expected default caption, got %q", calls[0].UserText)
	}
	if len(calls[0].Images) != 1 || calls[0].Images[0].MIMEType != "image/jpeg" {
		t.Fatalf("expected one jpeg image, got %+v", calls[0].Images)
	}
	if len(f.text.calls()) != 0 {
		t.Fatal("text backend must not be called")
	}
}

func TestWebhook_NonImageAttachmentIsSkipped(t *testing.T) {
	f := newFixture(t)
	_, body := f.post(t, "/webhook", url.Values{
		"Body":              {"foto"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {f.media.URL + "/doc.pdf"},
		"MediaContentType0": {"application/pdf"},
	})

	if got := replyText(t, body); got != f.text.answer {
		t.Fatalf("expected text reply, got %q", got)
	}
	calls := f.text.calls()
	if len(calls) != 1 || calls[0].UserText != "foto" {
		t.Fatalf("text backend not invoked with body: %+v", calls)
	}
	if len(f.vision.calls()) != 0 {
		t.Fatal("vision backend must not be called for a pdf")
	}
}

func TestWebhook_MixedAttachmentsUseVision(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/webhook", url.Values{
		"Body":              {"¿cuál me conviene?"},
		"NumMedia":          {"3"},
		"MediaUrl0":         {f.media.URL + "/broken"},
		"MediaContentType0": {"image/png"},
		"MediaUrl1":         {f.media.URL + "/doc.pdf"},
		"MediaContentType1": {"application/pdf"},
		"MediaUrl2":         {f.media.URL + "/img/2"},
		"MediaContentType2": {"image/jpeg"},
	})

	calls := f.vision.calls()
	if len(calls) != 1 || len(calls[0].Images) != 1 {
		t.Fatalf("expected vision call with the one fetchable image, got %+v", calls)
	}
	ex := f.journal.last()
	if ex.Images != 1 || ex.Dropped != 1 || ex.Path != "vision" {
		t.Fatalf("unexpected journal entry %+v", ex)
	}
}

func TestWebhook_AllFetchesFailFallsBackToText(t *testing.T) {
	f := newFixture(t)
	_, body := f.post(t, "/webhook", url.Values{
		"Body":              {"mirá esto"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {f.media.URL + "/broken"},
		"MediaContentType0": {"image/jpeg"},
	})

	if got := replyText(t, body); got != f.text.answer {
		t.Fatalf("expected text reply, got %q", got)
	}
	if len(f.vision.calls()) != 0 {
		t.Fatal("vision backend must not be called when no image was fetched")
	}
}

func TestWebhook_MalformedNumMedia(t *testing.T) {
	for _, n := range []string{"", "abc", "-2", "1.5"} {
		t.Run(n, func(t *testing.T) {
			f := newFixture(t)
			_, body := f.post(t, "/webhook", url.Values{
				"Body":              {""},
				"NumMedia":          {n},
				"MediaUrl0":         {f.media.URL + "/img/0"},
				"MediaContentType0": {"image/jpeg"},
			})
			if got := replyText(t, body); got != f.text.answer {
				t.Fatalf("expected text path, got %q", got)
			}
			if len(f.vision.calls()) != 0 {
				t.Fatal("vision backend must not be called")
			}
		})
	}
}

func TestWebhook_BackendTimeout(t *testing.T) {
	f := newFixture(t)
	f.text.block = true

	code, body := f.post(t, "/webhook", url.Values{"Body": {"hola"}})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got := replyText(t, body); got != dispatch.FallbackText {
		t.Fatalf("expected text fallback, got %q", got)
	}
	ex := f.journal.last()
	if !ex.Fallback || ex.Error == "" {
		t.Fatalf("fallback not recorded: %+v", ex)
	}
}

func TestWebhook_NoCredential(t *testing.T) {
	f := newFixture(t)
	f.text.configured = false
	f.vision.configured = false

	_, body := f.post(t, "/webhook", url.Values{"Body": {"hola"}})
	if got := replyText(t, body); got != dispatch.FallbackText {
		t.Fatalf("expected text fallback, got %q", got)
	}
	_, body = f.post(t, "/webhook", url.Values{
		"NumMedia":          {"1"},
		"MediaUrl0":         {f.media.URL + "/img/0"},
		"MediaContentType0": {"image/png"},
	})
	if got := replyText(t, body); got != dispatch.FallbackVision {
		t.Fatalf("expected vision fallback, got %q", got)
	}
	if len(f.text.calls())+len(f.vision.calls()) != 0 {
		t.Fatal("no completion call may be attempted without a credential")
	}
}

func TestWebhook_PanicBecomesTechnicalReply(t *testing.T) {
	f := newFixture(t)
	f.twilio.dispatch = panicResponder{}

	code, body := f.post(t, "/webhook", url.Values{"Body": {"hola"}})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got := replyText(t, body); got != FallbackTechnical {
		t.Fatalf("expected technical fallback, got %q", got)
	}
	if ex := f.journal.last(); ex.Error == "" || ex.Reply != FallbackTechnical {
		t.Fatalf("panic not recorded: %+v", ex)
	}
}

func TestWebhook_OversizedFormGetsTechnicalReply(t *testing.T) {
	f := newFixture(t)
	code, body := f.post(t, "/webhook", url.Values{"Body": {strings.Repeat("a", maxFormBytes+1)}})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got := replyText(t, body); got != FallbackTechnical {
		t.Fatalf("expected technical fallback, got %q", got)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	f := newFixture(t)
	h := f.twilio.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "metrics" {
		t.Fatalf("metrics: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /webhook: expected 405, got %d", rec.Code)
	}
}

func TestParseInbound(t *testing.T) {
	form := url.Values{
		"MessageSid":        {"SM123"},
		"From":              {"whatsapp:+5491100000000"},
		"To":                {"whatsapp:+14155238886"},
		"Body":              {"  hola  "},
		"NumMedia":          {"3"},
		"MediaUrl0":         {"https://api.twilio.com/m/0"},
		"MediaContentType0": {"image/jpeg"},
		"MediaContentType1": {"image/png"},
		"MediaUrl2":         {"https://api.twilio.com/m/2"},
		"MediaContentType2": {"video/mp4"},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	skippedBefore := metrics.AttachmentsSkipped.Value()
	msg, err := ParseInbound(req, quietLogger())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := metrics.AttachmentsSkipped.Value() - skippedBefore; got != 1 {
		t.Fatalf("entry without URL should count as skipped, got %d", got)
	}
	if msg.Body != "hola" || msg.MessageSID != "SM123" || msg.To != "whatsapp:+14155238886" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if len(msg.Attachments) != 2 {
		t.Fatalf("entry without URL should be dropped, got %+v", msg.Attachments)
	}
	if msg.Attachments[1].Index != 2 || msg.Attachments[1].ContentType != "video/mp4" {
		t.Fatalf("unexpected second attachment %+v", msg.Attachments[1])
	}
	if imgs := msg.ImageAttachments(); len(imgs) != 1 || imgs[0].Index != 0 {
		t.Fatalf("expected only the jpeg as image, got %+v", imgs)
	}
}

func TestParseInbound_CapsNumMedia(t *testing.T) {
	form := url.Values{"NumMedia": {"50"}}
	for i := range 50 {
		form.Set("MediaUrl"+itoa(i), "https://example.test/"+itoa(i))
		form.Set("MediaContentType"+itoa(i), "image/png")
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	msg, err := ParseInbound(req, quietLogger())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(msg.Attachments) != maxMediaPerMessage {
		t.Fatalf("expected %d attachments, got %d", maxMediaPerMessage, len(msg.Attachments))
	}
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	f := newFixture(t)
	f.twilio.cfg.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.twilio.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func itoa(i int) string { return strconv.Itoa(i) }
