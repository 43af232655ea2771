// Package stats implements C8: fire-and-forget counter increments,
// exposed as Prometheus metrics (github.com/prometheus/client_golang,
// grounded on its use elsewhere in the retrieval pack) and durably
// persisted in the background via the relational store's stats table so
// the admin surface can query historical per-image totals.
package stats

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Recorder is the narrow write contract into the relational store (§6).
type Recorder interface {
	RecordStat(ctx context.Context, sourceID int64, kind string, bytes int64, seconds float64, fromCache bool) error
}

type Sink struct {
	requests  prometheus.Counter
	views     *prometheus.CounterVec
	downloads prometheus.Counter
	bytesOut  prometheus.Counter
	latency   prometheus.Histogram

	recorder Recorder
	log      *logrus.Entry
	queue    chan statRow
}

type statRow struct {
	sourceID  int64
	kind      string
	bytes     int64
	seconds   float64
	fromCache bool
}

func New(reg prometheus.Registerer, recorder Recorder, log *logrus.Entry) *Sink {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Sink{
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imageserver_requests_total", Help: "Total image requests handled.",
		}),
		views: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imageserver_views_total", Help: "Views, labelled by cache hit/miss.",
		}, []string{"from_cache"}),
		downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imageserver_downloads_total", Help: "Attachment downloads served.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imageserver_bytes_out_total", Help: "Derivative bytes served.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "imageserver_request_duration_seconds", Help: "Request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		recorder: recorder,
		log:      log,
		queue:    make(chan statRow, 1024),
	}
	if reg != nil {
		reg.MustRegister(s.requests, s.views, s.downloads, s.bytesOut, s.latency)
	}
	go s.drain()
	return s
}

// LogRequest records one handled request regardless of outcome.
func (s *Sink) LogRequest(sourceID int64, seconds time.Duration) {
	s.requests.Inc()
	s.latency.Observe(seconds.Seconds())
	s.enqueue(statRow{sourceID: sourceID, kind: "request", seconds: seconds.Seconds()})
}

// LogView records a served (non-attachment) derivative.
func (s *Sink) LogView(sourceID int64, bytes int64, fromCache bool, seconds time.Duration) {
	label := "false"
	if fromCache {
		label = "true"
	}
	s.views.WithLabelValues(label).Inc()
	s.bytesOut.Add(float64(bytes))
	s.enqueue(statRow{sourceID: sourceID, kind: "view", bytes: bytes, seconds: seconds.Seconds(), fromCache: fromCache})
}

// LogDownload records a served attachment download.
func (s *Sink) LogDownload(sourceID int64, bytes int64, seconds time.Duration) {
	s.downloads.Inc()
	s.bytesOut.Add(float64(bytes))
	s.enqueue(statRow{sourceID: sourceID, kind: "download", bytes: bytes, seconds: seconds.Seconds()})
}

func (s *Sink) enqueue(r statRow) {
	select {
	case s.queue <- r:
	default:
		// Losses are acceptable per §6: a full queue means the recorder
		// is falling behind; drop rather than block the hot path.
		s.log.Warn("stats: queue full, dropping row")
	}
}

func (s *Sink) drain() {
	for r := range s.queue {
		if s.recorder == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.recorder.RecordStat(ctx, r.sourceID, r.kind, r.bytes, r.seconds, r.fromCache); err != nil {
			s.log.WithError(err).Debug("stats: record failed, reconnecting lazily next row")
		}
		cancel()
	}
}
