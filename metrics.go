package connectsdk

import (
	"sync/atomic"
	"time"

	"github.com/prusa3d/connect-sdk-go/internal/interfaces"
)

// LatencyBuckets defines the request-latency histogram buckets in
// nanoseconds, same log-spaced shape as the teacher's I/O latency
// histogram but scoped to HTTP request round trips.
var LatencyBuckets = []uint64{
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	50_000_000,     // 50ms
	100_000_000,    // 100ms
	500_000_000,    // 500ms
	1_000_000_000,  // 1s
	5_000_000_000,  // 5s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks operational statistics for a Printer: request traffic,
// command dispatch outcomes, transfer byte counts and event queue
// health. Same atomic-counter shape as the teacher's device Metrics,
// recast from I/O ops onto SDK-level events.
type Metrics struct {
	// Event queue
	EventsEnqueued atomic.Uint64
	EventsDropped  atomic.Uint64

	// Commands
	CommandsDispatched atomic.Uint64
	CommandsFailed     atomic.Uint64
	CommandsRejected   atomic.Uint64

	// Transfers
	BytesUploaded   atomic.Uint64
	BytesDownloaded atomic.Uint64

	// Requests
	RequestCount  atomic.Uint64
	RequestErrors atomic.Uint64

	TotalLatencyNs atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordEventEnqueued records one event being pushed onto the outbound
// queue.
func (m *Metrics) RecordEventEnqueued() { m.EventsEnqueued.Add(1) }

// RecordEventDropped records one event dropped by queue overflow.
func (m *Metrics) RecordEventDropped() { m.EventsDropped.Add(1) }

// RecordCommandDispatched records a command handler having run to
// completion, success or failure.
func (m *Metrics) RecordCommandDispatched(success bool) {
	m.CommandsDispatched.Add(1)
	if !success {
		m.CommandsFailed.Add(1)
	}
}

// RecordCommandRejected records a command rejected by the admission
// check in internal/command.
func (m *Metrics) RecordCommandRejected() { m.CommandsRejected.Add(1) }

// RecordTransferBytes records bytes moved by a transfer in the given
// direction ("upload" or "download").
func (m *Metrics) RecordTransferBytes(direction string, n uint64) {
	if direction == "upload" {
		m.BytesUploaded.Add(n)
	} else {
		m.BytesDownloaded.Add(n)
	}
}

// RecordRequest records one HTTP request/response round trip.
func (m *Metrics) RecordRequest(latencyNs uint64, success bool) {
	m.RequestCount.Add(1)
	if !success {
		m.RequestErrors.Add(1)
	}
	m.TotalLatencyNs.Add(latencyNs)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the printer as stopped.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time copy of Metrics with derived
// statistics computed.
type MetricsSnapshot struct {
	EventsEnqueued     uint64
	EventsDropped      uint64
	CommandsDispatched uint64
	CommandsFailed     uint64
	CommandsRejected   uint64
	BytesUploaded      uint64
	BytesDownloaded    uint64
	RequestCount       uint64
	RequestErrors      uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	RequestErrorRate float64
}

// Snapshot returns a point-in-time snapshot with percentiles
// interpolated from the latency histogram, same technique as the
// teacher's Metrics.Snapshot/calculatePercentile.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		EventsEnqueued:     m.EventsEnqueued.Load(),
		EventsDropped:      m.EventsDropped.Load(),
		CommandsDispatched: m.CommandsDispatched.Load(),
		CommandsFailed:     m.CommandsFailed.Load(),
		CommandsRejected:   m.CommandsRejected.Load(),
		BytesUploaded:      m.BytesUploaded.Load(),
		BytesDownloaded:    m.BytesDownloaded.Load(),
		RequestCount:       m.RequestCount.Load(),
		RequestErrors:      m.RequestErrors.Load(),
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	reqCount := m.RequestCount.Load()
	if reqCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / reqCount
		snap.RequestErrorRate = float64(snap.RequestErrors) / float64(reqCount) * 100.0
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	return snap
}

// calculatePercentile estimates the request latency at the given
// percentile (0.0-1.0) using linear interpolation between histogram
// buckets, identical approach to the teacher's calculatePercentile.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.RequestCount.Load()
	if total == 0 {
		return 0
	}
	targetCount := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all counters, useful for testing.
func (m *Metrics) Reset() {
	m.EventsEnqueued.Store(0)
	m.EventsDropped.Store(0)
	m.CommandsDispatched.Store(0)
	m.CommandsFailed.Store(0)
	m.CommandsRejected.Store(0)
	m.BytesUploaded.Store(0)
	m.BytesDownloaded.Store(0)
	m.RequestCount.Store(0)
	m.RequestErrors.Store(0)
	m.TotalLatencyNs.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// MetricsObserver implements interfaces.Observer by recording into a
// Metrics instance, same delegation shape as the teacher's
// MetricsObserver wrapping Metrics behind the Observer interface.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an Observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveEventEnqueued(string) { o.metrics.RecordEventEnqueued() }
func (o *MetricsObserver) ObserveEventDropped(string)  { o.metrics.RecordEventDropped() }

func (o *MetricsObserver) ObserveCommandDispatched(kind string) {
	o.metrics.RecordCommandDispatched(true)
}

func (o *MetricsObserver) ObserveCommandRejected(kind string, reason string) {
	o.metrics.RecordCommandRejected()
}

func (o *MetricsObserver) ObserveTransferProgress(direction string, bytes uint64) {
	o.metrics.RecordTransferBytes(direction, bytes)
}

func (o *MetricsObserver) ObserveRequestLatency(endpoint string, latencyNs uint64, success bool) {
	o.metrics.RecordRequest(latencyNs, success)
}

// NoOpObserver is a no-op Observer for callers that don't want metrics.
type NoOpObserver struct{}

func (NoOpObserver) ObserveEventEnqueued(string)               {}
func (NoOpObserver) ObserveEventDropped(string)                {}
func (NoOpObserver) ObserveCommandDispatched(string)           {}
func (NoOpObserver) ObserveCommandRejected(string, string)     {}
func (NoOpObserver) ObserveTransferProgress(string, uint64)    {}
func (NoOpObserver) ObserveRequestLatency(string, uint64, bool) {}

var _ interfaces.Observer = (*MetricsObserver)(nil)
var _ interfaces.Observer = (*NoOpObserver)(nil)
