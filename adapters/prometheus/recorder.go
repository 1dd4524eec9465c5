package prometheus

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/goliatone/go-authflow/core"
)

// DefaultLabels are the tag keys exported as Prometheus labels. Tags outside
// the set are dropped; missing ones are exported as "".
var DefaultLabels = []string{"operation", "status", "provider_id", "event_type", "tenant_id", "disposition"}

// Recorder is a core.MetricsRecorder backed by Prometheus collectors created
// on first use. Metric names are sanitized ("authflow.on_event.total" becomes
// "authflow_on_event_total").
type Recorder struct {
	factory   promauto.Factory
	namespace string
	labels    []string
	buckets   []float64

	mu         sync.Mutex
	counters   map[string]*prom.CounterVec
	histograms map[string]*prom.HistogramVec
}

type Option func(*Recorder)

func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		r.namespace = SanitizeName(namespace)
	}
}

func WithLabels(labels ...string) Option {
	return func(r *Recorder) {
		if len(labels) > 0 {
			r.labels = normalizeLabels(labels)
		}
	}
}

// WithBuckets sets histogram buckets; durations are observed in milliseconds.
func WithBuckets(buckets ...float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// NewRecorder registers collectors with reg. A nil reg uses a fresh registry.
func NewRecorder(reg prom.Registerer, opts ...Option) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		factory:    promauto.With(reg),
		labels:     normalizeLabels(DefaultLabels),
		buckets:    []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		counters:   map[string]*prom.CounterVec{},
		histograms: map[string]*prom.HistogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	counter, err := r.counter(name)
	if err != nil {
		return
	}
	counter.With(r.labelValues(tags)).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	histogram, err := r.histogram(name)
	if err != nil {
		return
	}
	histogram.With(r.labelValues(tags)).Observe(value)
}

// Counter returns the collector for name, or nil if none was recorded yet.
func (r *Recorder) Counter(name string) *prom.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[r.fullName(name)]
}

func (r *Recorder) Histogram(name string) *prom.HistogramVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.histograms[r.fullName(name)]
}

func (r *Recorder) counter(name string) (*prom.CounterVec, error) {
	full := r.fullName(name)
	if full == "" {
		return nil, fmt.Errorf("prometheus: metric name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if counter, ok := r.counters[full]; ok {
		return counter, nil
	}
	counter := r.factory.NewCounterVec(prom.CounterOpts{
		Name: full,
		Help: "authflow counter " + strings.TrimSpace(name),
	}, r.labels)
	r.counters[full] = counter
	return counter, nil
}

func (r *Recorder) histogram(name string) (*prom.HistogramVec, error) {
	full := r.fullName(name)
	if full == "" {
		return nil, fmt.Errorf("prometheus: metric name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if histogram, ok := r.histograms[full]; ok {
		return histogram, nil
	}
	histogram := r.factory.NewHistogramVec(prom.HistogramOpts{
		Name:    full,
		Help:    "authflow histogram " + strings.TrimSpace(name),
		Buckets: r.buckets,
	}, r.labels)
	r.histograms[full] = histogram
	return histogram, nil
}

func (r *Recorder) fullName(name string) string {
	sanitized := SanitizeName(name)
	if sanitized == "" {
		return ""
	}
	if r.namespace != "" && !strings.HasPrefix(sanitized, r.namespace+"_") {
		return r.namespace + "_" + sanitized
	}
	return sanitized
}

func (r *Recorder) labelValues(tags map[string]string) prom.Labels {
	values := make(prom.Labels, len(r.labels))
	for _, label := range r.labels {
		values[label] = strings.TrimSpace(tags[label])
	}
	return values
}

// SanitizeName maps a dotted metric name onto the Prometheus name charset.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for i, r := range name {
		valid := r == '_' || r == ':' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(i > 0 && r >= '0' && r <= '9')
		if !valid {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore || b.Len() == 0 {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), "_")
}

func normalizeLabels(labels []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		label = SanitizeName(label)
		if label == "" || strings.HasPrefix(label, "__") {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)
