package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	m "github.com/orderout/nightglow/metrics"
)

// promState is shared between a Prometheus client and all its WithTags
// derivatives, so per-name vectors register exactly once.
type promState struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// prometheusClient adapts the engine's metrics.Client interface onto a
// Prometheus registry. Counters and histograms are created lazily per
// metric name; tag keys become label names. Every metric name must be
// used with a consistent tag-key set.
type prometheusClient struct {
	state    *promState
	baseTags m.Tags
}

var _ m.Client = (*prometheusClient)(nil)

func NewPrometheusClient(registry *prometheus.Registry) *prometheusClient {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	return &prometheusClient{
		state: &promState{
			registry:   registry,
			counters:   map[string]*prometheus.CounterVec{},
			histograms: map[string]*prometheus.HistogramVec{},
		},
	}
}

func (pc *prometheusClient) Counter(name string, tags m.Tags, value float64) {
	tags = pc.merged(tags)

	s := pc.state
	s.mu.Lock()
	vec, ok := s.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: sanitize(name),
		}, labelNames(tags))
		s.registry.MustRegister(vec)
		s.counters[name] = vec
	}
	s.mu.Unlock()

	vec.With(prometheus.Labels(tags)).Add(value)
}

func (pc *prometheusClient) Distribution(name string, tags m.Tags, value float64) {
	pc.observe(name, tags, value)
}

func (pc *prometheusClient) Timing(name string, tags m.Tags, duration time.Duration) {
	pc.observe(name, tags, float64(duration)/float64(time.Millisecond))
}

func (pc *prometheusClient) observe(name string, tags m.Tags, value float64) {
	tags = pc.merged(tags)

	s := pc.state
	s.mu.Lock()
	vec, ok := s.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    sanitize(name),
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		}, labelNames(tags))
		s.registry.MustRegister(vec)
		s.histograms[name] = vec
	}
	s.mu.Unlock()

	vec.With(prometheus.Labels(tags)).Observe(value)
}

func (pc *prometheusClient) WithTags(tags m.Tags) m.Client {
	return &prometheusClient{
		state:    pc.state,
		baseTags: pc.merged(tags),
	}
}

func (pc *prometheusClient) merged(tags m.Tags) m.Tags {
	merged := make(m.Tags, len(pc.baseTags)+len(tags))
	for k, v := range pc.baseTags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}

	return merged
}

// Serve exposes the registry on addr at /metrics until ctx is done.
func (pc *prometheusClient) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(pc.state.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func sanitize(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func labelNames(tags m.Tags) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}

	return names
}
