package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRecorder struct {
	mu   sync.Mutex
	rows []struct {
		sourceID  int64
		kind      string
		bytes     int64
		fromCache bool
	}
}

func (r *recordingRecorder) RecordStat(ctx context.Context, sourceID int64, kind string, bytes int64, seconds float64, fromCache bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, struct {
		sourceID  int64
		kind      string
		bytes     int64
		fromCache bool
	}{sourceID, kind, bytes, fromCache})
	return nil
}

func (r *recordingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func TestLogViewIncrementsCountersAndPersists(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := &recordingRecorder{}
	s := New(reg, rec, nil)

	s.LogView(1, 2048, true, 10*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(s.views.WithLabelValues("true")))
	assert.Equal(t, float64(2048), testutil.ToFloat64(s.bytesOut))

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "view", rec.rows[0].kind)
	assert.True(t, rec.rows[0].fromCache)
}

func TestLogDownloadIncrementsDownloadCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := &recordingRecorder{}
	s := New(reg, rec, nil)

	s.LogDownload(5, 4096, 5*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(s.downloads))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "download", rec.rows[0].kind)
}

func TestLogRequestTracksLatencyRegardlessOfOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := &recordingRecorder{}
	s := New(reg, rec, nil)

	s.LogRequest(1, 20*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(s.requests))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "request", rec.rows[0].kind)
}

func TestDropsRowsWhenQueueIsFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(reg, nil, nil)

	for i := 0; i < 2000; i++ {
		s.LogView(int64(i), 1, false, time.Millisecond)
	}
	assert.Equal(t, float64(2000), testutil.ToFloat64(s.views.WithLabelValues("false")))
}
