// Package metrics renders process counters in the Prometheus text exposition
// format without pulling in the full client library.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = NewRegistry()

// Registry aggregates counters, gauges, and histograms keyed by name and labels.
type Registry struct {
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

func NewRegistry() *Registry {
	return &Registry{startTime: time.Now()}
}

func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram keeps cumulative bucket counts; the +Inf bucket is implicit.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func seriesKey(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns the counter for name+labels, creating it on first use.
func (r *Registry) Counter(name, help, labels string) *Counter {
	key := seriesKey(name, labels)
	if v, ok := r.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := r.counters.LoadOrStore(key, &Counter{name: name, help: help, labels: labels})
	return actual.(*Counter)
}

func (r *Registry) Gauge(name, help, labels string) *Gauge {
	key := seriesKey(name, labels)
	if v, ok := r.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := r.gauges.LoadOrStore(key, &Gauge{name: name, help: help, labels: labels})
	return actual.(*Gauge)
}

func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := seriesKey(name, labels)
	if v, ok := r.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	hb := make([]histBucket, len(sorted))
	for i, b := range sorted {
		hb[i] = histBucket{le: b}
	}
	actual, _ := r.histograms.LoadOrStore(key, &Histogram{name: name, help: help, labels: labels, buckets: hb})
	return actual.(*Histogram)
}

// sortedKeys returns the keys of m in lexical order so output is stable.
func sortedKeys(m *sync.Map) []string {
	var keys []string
	m.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

// Render writes every series in Prometheus text format.
func (r *Registry) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP mirrorbot_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE mirrorbot_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "mirrorbot_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	written := make(map[string]bool)
	header := func(name, help, kind string) {
		if written[name] {
			return
		}
		written[name] = true
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
	}

	for _, key := range sortedKeys(&r.counters) {
		v, _ := r.counters.Load(key)
		c := v.(*Counter)
		header(c.name, c.help, "counter")
		fmt.Fprintf(&sb, "%s %d\n", series(c.name, c.labels), c.Value())
	}

	for _, key := range sortedKeys(&r.gauges) {
		v, _ := r.gauges.Load(key)
		g := v.(*Gauge)
		header(g.name, g.help, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}

	for _, key := range sortedKeys(&r.histograms) {
		v, _ := r.histograms.Load(key)
		h := v.(*Histogram)
		header(h.name, h.help, "histogram")

		h.mu.Lock()
		sep := ""
		if h.labels != "" {
			sep = h.labels + ","
		}
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				continue
			}
			fmt.Fprintf(&sb, "%s_bucket{%sle=\"%s\"} %d\n", h.name, sep, le, b.count)
		}
		fmt.Fprintf(&sb, "%s_bucket{%sle=\"+Inf\"} %d\n", h.name, sep, h.count)
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	return sb.String()
}

// Handler serves Render over HTTP.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, r.Render())
	}
}

var latencyBuckets = []float64{0.25, 0.5, 1, 2, 5, 10, 15, 25, 60}

// Series used by the webhook pipeline.
var (
	MessagesTotal      = Collector.Counter("mirrorbot_messages_total", "Inbound webhook messages", "")
	AttachmentsSkipped = Collector.Counter("mirrorbot_attachments_skipped_total", "Attachments ignored because they are not images or have no URL", "")
	MediaFetchFailures = Collector.Counter("mirrorbot_media_fetch_failures_total", "Image attachments that could not be downloaded", "")
	TechnicalFailures  = Collector.Counter("mirrorbot_technical_failures_total", "Requests answered with the technical-issue reply", "")
	InFlight           = Collector.Gauge("mirrorbot_requests_in_flight", "Webhook requests currently being processed", "")

	MediaFetchLatency = Collector.Histogram("mirrorbot_media_fetch_seconds", "Time spent resolving the attachments of one message", "", latencyBuckets)
)

// Dispatches counts completions by path ("text" or "vision").
func Dispatches(path string) *Counter {
	return Collector.Counter("mirrorbot_dispatch_total", "Completion dispatches by path", `path="`+path+`"`)
}

// Fallbacks counts fixed-text replies by path.
func Fallbacks(path string) *Counter {
	return Collector.Counter("mirrorbot_fallback_total", "Replies that used the fixed fallback text", `path="`+path+`"`)
}

// CompletionLatency tracks backend latency by path.
func CompletionLatency(path string) *Histogram {
	return Collector.Histogram("mirrorbot_completion_latency_seconds", "Completion latency in seconds", `path="`+path+`"`, latencyBuckets)
}
