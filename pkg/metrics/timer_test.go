package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTimerDuration tests elapsed time measurement
func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	require.NotNil(t, timer)
	assert.False(t, timer.start.IsZero())

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)

	// Duration is repeatable and monotonically increasing.
	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first)
}

// TestTimerObserve tests histogram and vec observations
func TestTimerObserve(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration histogram",
		Buckets: prometheus.DefBuckets,
	})
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_duration_vec_seconds",
		Help:    "Test duration histogram vec",
		Buckets: prometheus.DefBuckets,
	}, []string{"sweep"})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)

	timer.ObserveDuration(histogram)
	timer.ObserveDurationVec(vec, "log-retention")

	assert.NotZero(t, timer.Duration())
}
