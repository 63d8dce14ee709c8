// Package metrics exposes posting counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RanL703/Blog-2-Tweet-Agent/internal/retry"
)

const namespace = "poster"

// Metrics holds the poster's collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	posts     *prometheus.CounterVec
	retries   *prometheus.CounterVec
	gateWait  prometheus.Histogram
	threads   *prometheus.CounterVec
	abortedAt prometheus.Histogram
	length    prometheus.Histogram
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		posts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tweets_posted_total",
			Help:      "Tweets posted, by position in the thread.",
		}, []string{"position"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried post attempts, by failure kind.",
		}, []string{"kind"}),
		gateWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for the rate limit window to reset.",
			Buckets:   []float64{5, 15, 60, 300, 900},
		}),
		threads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_total",
			Help:      "Publish calls, by outcome.",
		}, []string{"outcome"}),
		abortedAt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "thread_aborted_index",
			Help:      "Index of the first unposted draft of aborted threads.",
			Buckets:   prometheus.LinearBuckets(0, 1, 10),
		}),
		length: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "thread_length_tweets",
			Help:      "Tweets posted by completed threads.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
	}
	m.registry.MustRegister(m.posts, m.retries, m.gateWait, m.threads, m.abortedAt, m.length)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Posted counts a posted tweet.
func (m *Metrics) Posted(reply bool) {
	if m == nil {
		return
	}
	pos := "head"
	if reply {
		pos = "reply"
	}
	m.posts.WithLabelValues(pos).Inc()
}

// Aborted counts an aborted thread.
func (m *Metrics) Aborted(index int) {
	if m == nil {
		return
	}
	m.threads.WithLabelValues("aborted").Inc()
	m.abortedAt.Observe(float64(index))
}

// Completed counts a fully published thread of posted tweets.
func (m *Metrics) Completed(posted int) {
	if m == nil {
		return
	}
	m.threads.WithLabelValues("completed").Inc()
	m.length.Observe(float64(posted))
}

// Retried counts a retry attempt.
func (m *Metrics) Retried(a retry.Attempt) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(a.Kind.String()).Inc()
}

// GateWaited observes a rate limit wait.
func (m *Metrics) GateWaited(d time.Duration) {
	if m == nil {
		return
	}
	m.gateWait.Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
