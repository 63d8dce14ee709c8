package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RanL703/Blog-2-Tweet-Agent/internal/retry"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Posted(false)
	m.Posted(true)
	m.Posted(true)
	m.Retried(retry.Attempt{Kind: retry.KindRateLimited})
	m.Retried(retry.Attempt{Kind: retry.KindOther})
	m.Completed(3)
	m.Aborted(2)
	m.GateWaited(17 * time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.posts.WithLabelValues("head")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.posts.WithLabelValues("reply")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("other")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.threads.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.threads.WithLabelValues("aborted")))

	n, err := testutil.GatherAndCount(m.Registry(), "poster_rate_limit_wait_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_CompletedObservesLength(t *testing.T) {
	m := New()
	m.Completed(3)
	m.Completed(5)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "poster_thread_length_tweets" {
			continue
		}
		h := mf.GetMetric()[0].GetHistogram()
		assert.Equal(t, uint64(2), h.GetSampleCount())
		assert.Equal(t, 8.0, h.GetSampleSum())
		return
	}
	t.Fatal("thread length histogram not registered")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Posted(true)
		m.Aborted(1)
		m.Completed(1)
		m.Retried(retry.Attempt{})
		m.GateWaited(time.Second)
	})
}
