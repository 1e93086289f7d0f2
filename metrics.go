package distgraph

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    pullCounter   prometheus.Counter
//	    pullHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordPull(rows int, duration time.Duration, err error) {
//	    p.pullCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordPull is called after each feature pull.
	// rows is the number of rows requested, err is nil if successful.
	RecordPull(rows int, duration time.Duration, err error)

	// RecordPush is called after each feature push.
	RecordPush(rows int, duration time.Duration, err error)

	// RecordInit is called after each tensor initialization.
	RecordInit(duration time.Duration, err error)

	// RecordQuery is called after each structural query (neighbor sampling,
	// in/out edge fetches).
	RecordQuery(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordPull(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordPush(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordInit(time.Duration, error)      {}
func (NoopMetricsCollector) RecordQuery(time.Duration, error)     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	PullCount       atomic.Int64
	PullRows        atomic.Int64
	PullErrors      atomic.Int64
	PullTotalNanos  atomic.Int64
	PushCount       atomic.Int64
	PushRows        atomic.Int64
	PushErrors      atomic.Int64
	PushTotalNanos  atomic.Int64
	InitCount       atomic.Int64
	InitErrors      atomic.Int64
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryTotalNanos atomic.Int64
}

// RecordPull implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPull(rows int, duration time.Duration, err error) {
	b.PullCount.Add(1)
	b.PullRows.Add(int64(rows))
	b.PullTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PullErrors.Add(1)
	}
}

// RecordPush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPush(rows int, duration time.Duration, err error) {
	b.PushCount.Add(1)
	b.PushRows.Add(int64(rows))
	b.PushTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PushErrors.Add(1)
	}
}

// RecordInit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInit(duration time.Duration, err error) {
	b.InitCount.Add(1)
	if err != nil {
		b.InitErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		PullCount:     b.PullCount.Load(),
		PullRows:      b.PullRows.Load(),
		PullErrors:    b.PullErrors.Load(),
		PullAvgNanos:  avgNanos(b.PullTotalNanos.Load(), b.PullCount.Load()),
		PushCount:     b.PushCount.Load(),
		PushRows:      b.PushRows.Load(),
		PushErrors:    b.PushErrors.Load(),
		PushAvgNanos:  avgNanos(b.PushTotalNanos.Load(), b.PushCount.Load()),
		InitCount:     b.InitCount.Load(),
		InitErrors:    b.InitErrors.Load(),
		QueryCount:    b.QueryCount.Load(),
		QueryErrors:   b.QueryErrors.Load(),
		QueryAvgNanos: avgNanos(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
	}
}

func avgNanos(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	PullCount     int64
	PullRows      int64
	PullErrors    int64
	PullAvgNanos  int64
	PushCount     int64
	PushRows      int64
	PushErrors    int64
	PushAvgNanos  int64
	InitCount     int64
	InitErrors    int64
	QueryCount    int64
	QueryErrors   int64
	QueryAvgNanos int64
}
