// Package media downloads gateway-hosted attachments and turns them into
// inline images for the vision backend.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"mirrorbot/internal/domain"
)

const (
	defaultTimeout       = 8 * time.Second
	defaultMaxBytes      = 5 << 20
	defaultMaxConcurrent = 4
)

// ErrTooLarge is wrapped by a FetchError when the body exceeds the size cap.
var ErrTooLarge = errors.New("attachment exceeds size limit")

// FetchError describes one attachment that could not be retrieved. Status is
// set for non-2xx answers; Err is set for transport failures and timeouts.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config configures a Fetcher.
type Config struct {
	HTTPClient        *http.Client
	Timeout           time.Duration
	MaxBytes          int64
	MaxConcurrent     int
	BasicAuthUser     string
	BasicAuthPassword string
	Logger            *slog.Logger

	// OnFailure, when set, is called once per dropped attachment.
	OnFailure func(ref domain.AttachmentRef, err error)
}

// Fetcher retrieves attachment bytes over HTTP.
type Fetcher struct {
	client        *http.Client
	timeout       time.Duration
	maxBytes      int64
	maxConcurrent int
	user          string
	password      string
	logger        *slog.Logger
	onFailure     func(domain.AttachmentRef, error)
}

func NewFetcher(cfg Config) *Fetcher {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fetcher{
		client:        cfg.HTTPClient,
		timeout:       cfg.Timeout,
		maxBytes:      cfg.MaxBytes,
		maxConcurrent: cfg.MaxConcurrent,
		user:          cfg.BasicAuthUser,
		password:      cfg.BasicAuthPassword,
		logger:        cfg.Logger,
		onFailure:     cfg.OnFailure,
	}
}

// FetchInline downloads one attachment. The MIME type comes from the
// gateway-declared content type; the payload is never sniffed.
func (f *Fetcher) FetchInline(ctx context.Context, ref domain.AttachmentRef) (domain.InlineImage, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return domain.InlineImage{}, &FetchError{URL: ref.URL, Err: err}
	}
	if f.user != "" {
		req.SetBasicAuth(f.user, f.password)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.InlineImage{}, &FetchError{URL: ref.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.InlineImage{}, &FetchError{URL: ref.URL, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return domain.InlineImage{}, &FetchError{URL: ref.URL, Status: resp.StatusCode, Err: err}
	}
	if int64(len(data)) > f.maxBytes {
		return domain.InlineImage{}, &FetchError{URL: ref.URL, Status: resp.StatusCode, Err: ErrTooLarge}
	}

	return domain.InlineImage{MIMEType: ref.MIMEType(), Data: data}, nil
}

// fetchRecovered turns a panic in the transport into a dropped attachment.
func (f *Fetcher) fetchRecovered(ctx context.Context, ref domain.AttachmentRef) (img domain.InlineImage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FetchError{URL: ref.URL, Err: fmt.Errorf("fetch panicked: %v", r)}
		}
	}()
	return f.FetchInline(ctx, ref)
}

// FetchAll downloads refs with bounded concurrency. Failed attachments are
// logged and dropped; the rest keep their original order.
func (f *Fetcher) FetchAll(ctx context.Context, refs []domain.AttachmentRef) []domain.InlineImage {
	if len(refs) == 0 {
		return nil
	}

	results := make([]*domain.InlineImage, len(refs))
	var g errgroup.Group
	g.SetLimit(f.maxConcurrent)

	for i, ref := range refs {
		g.Go(func() error {
			img, err := f.fetchRecovered(ctx, ref)
			if err != nil {
				f.logger.Warn("attachment dropped", "index", ref.Index, "url", ref.URL, "err", err)
				if f.onFailure != nil {
					f.onFailure(ref, err)
				}
				return nil
			}
			results[i] = &img
			return nil
		})
	}
	g.Wait()

	images := make([]domain.InlineImage, 0, len(refs))
	for _, r := range results {
		if r != nil {
			images = append(images, *r)
		}
	}
	return images
}
