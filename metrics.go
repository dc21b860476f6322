package nbdclient

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for an nbdclient
// Handle/Connection: command counters, byte counters, error counters,
// in-flight depth, and a latency histogram.
type Metrics struct {
	// I/O operation counters
	ReadOps        atomic.Uint64
	WriteOps       atomic.Uint64
	TrimOps        atomic.Uint64
	FlushOps       atomic.Uint64
	BlockStatusOps atomic.Uint64

	// Byte counters
	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64
	TrimBytes  atomic.Uint64

	// Error counters
	ReadErrors        atomic.Uint64
	WriteErrors       atomic.Uint64
	TrimErrors        atomic.Uint64
	FlushErrors       atomic.Uint64
	BlockStatusErrors atomic.Uint64

	// In-flight depth statistics (cmds_in_flight size over time)
	InFlightDepthTotal atomic.Uint64
	InFlightDepthCount atomic.Uint64
	MaxInFlightDepth   atomic.Uint32

	// Performance tracking
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts): bucket[i] holds
	// the count of operations with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Connection lifecycle
	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRead records a READ command completion.
func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordWrite records a WRITE command completion.
func (m *Metrics) RecordWrite(bytes uint64, latencyNs uint64, success bool) {
	m.WriteOps.Add(1)
	if success {
		m.WriteBytes.Add(bytes)
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordTrim records a TRIM or WRITE_ZEROES command completion.
func (m *Metrics) RecordTrim(bytes uint64, latencyNs uint64, success bool) {
	m.TrimOps.Add(1)
	if success {
		m.TrimBytes.Add(bytes)
	} else {
		m.TrimErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordFlush records a FLUSH command completion.
func (m *Metrics) RecordFlush(latencyNs uint64, success bool) {
	m.FlushOps.Add(1)
	if !success {
		m.FlushErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordBlockStatus records a BLOCK_STATUS command completion.
func (m *Metrics) RecordBlockStatus(latencyNs uint64, success bool) {
	m.BlockStatusOps.Add(1)
	if !success {
		m.BlockStatusErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordInFlightDepth records the current cmds_in_flight size.
func (m *Metrics) RecordInFlightDepth(depth uint32) {
	m.InFlightDepthTotal.Add(uint64(depth))
	m.InFlightDepthCount.Add(1)

	for {
		current := m.MaxInFlightDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxInFlightDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the connection/handle as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	ReadOps        uint64
	WriteOps       uint64
	TrimOps        uint64
	FlushOps       uint64
	BlockStatusOps uint64

	ReadBytes  uint64
	WriteBytes uint64
	TrimBytes  uint64

	ReadErrors        uint64
	WriteErrors       uint64
	TrimErrors        uint64
	FlushErrors       uint64
	BlockStatusErrors uint64

	AvgInFlightDepth float64
	MaxInFlightDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ReadIOPS       float64
	WriteIOPS      float64
	ReadBandwidth  float64
	WriteBandwidth float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps:           m.ReadOps.Load(),
		WriteOps:          m.WriteOps.Load(),
		TrimOps:           m.TrimOps.Load(),
		FlushOps:          m.FlushOps.Load(),
		BlockStatusOps:    m.BlockStatusOps.Load(),
		ReadBytes:         m.ReadBytes.Load(),
		WriteBytes:        m.WriteBytes.Load(),
		TrimBytes:         m.TrimBytes.Load(),
		ReadErrors:        m.ReadErrors.Load(),
		WriteErrors:       m.WriteErrors.Load(),
		TrimErrors:        m.TrimErrors.Load(),
		FlushErrors:       m.FlushErrors.Load(),
		BlockStatusErrors: m.BlockStatusErrors.Load(),
		MaxInFlightDepth:  m.MaxInFlightDepth.Load(),
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.TrimOps + snap.FlushOps + snap.BlockStatusOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes + snap.TrimBytes

	depthTotal := m.InFlightDepthTotal.Load()
	depthCount := m.InFlightDepthCount.Load()
	if depthCount > 0 {
		snap.AvgInFlightDepth = float64(depthTotal) / float64(depthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.WriteIOPS = float64(snap.WriteOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.WriteBytes) / uptimeSeconds
	}

	totalErrors := snap.ReadErrors + snap.WriteErrors + snap.TrimErrors + snap.FlushErrors + snap.BlockStatusErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

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

// Reset resets all metrics counters.
func (m *Metrics) Reset() {
	m.ReadOps.Store(0)
	m.WriteOps.Store(0)
	m.TrimOps.Store(0)
	m.FlushOps.Store(0)
	m.BlockStatusOps.Store(0)
	m.ReadBytes.Store(0)
	m.WriteBytes.Store(0)
	m.TrimBytes.Store(0)
	m.ReadErrors.Store(0)
	m.WriteErrors.Store(0)
	m.TrimErrors.Store(0)
	m.FlushErrors.Store(0)
	m.BlockStatusErrors.Store(0)
	m.InFlightDepthTotal.Store(0)
	m.InFlightDepthCount.Store(0)
	m.MaxInFlightDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Logger receives structured debug/info/error lines from a Connection.
// Satisfied by *internal/logging.Logger among others.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer receives per-command metrics callbacks from a Connection's
// readiness loop. Implementations must be safe for concurrent use, since
// a Handle may drive several Connections at once.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveTrim(bytes uint64, latencyNs uint64, success bool)
	ObserveFlush(latencyNs uint64, success bool)
	ObserveBlockStatus(latencyNs uint64, success bool)
	ObserveInFlightDepth(depth uint32)
}

// NoOpObserver discards every observation; the zero value is ready to use.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool) {}
func (NoOpObserver) ObserveTrim(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveFlush(uint64, bool)         {}
func (NoOpObserver) ObserveBlockStatus(uint64, bool)   {}
func (NoOpObserver) ObserveInFlightDepth(uint32)       {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRead(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordWrite(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveTrim(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordTrim(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveFlush(latencyNs uint64, success bool) {
	o.metrics.RecordFlush(latencyNs, success)
}

func (o *MetricsObserver) ObserveBlockStatus(latencyNs uint64, success bool) {
	o.metrics.RecordBlockStatus(latencyNs, success)
}

func (o *MetricsObserver) ObserveInFlightDepth(depth uint32) {
	o.metrics.RecordInFlightDepth(depth)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = NoOpObserver{}
