package mortree

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement it to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordBuild is called after each bulk build with the entity count.
	RecordBuild(entityCount int, duration time.Duration)

	// RecordInsert is called after each insert; ok mirrors the return value.
	RecordInsert(duration time.Duration, ok bool)

	// RecordSearch is called after each query with the result count.
	RecordSearch(kind string, resultCount int, duration time.Duration)

	// RecordErase is called after each erase; ok mirrors the return value.
	RecordErase(duration time.Duration, ok bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(int, time.Duration)          {}
func (NoopMetricsCollector) RecordInsert(time.Duration, bool)        {}
func (NoopMetricsCollector) RecordSearch(string, int, time.Duration) {}
func (NoopMetricsCollector) RecordErase(time.Duration, bool)         {}

// BasicMetricsCollector provides simple in-memory metrics collection, useful
// for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	BuildCount       atomic.Int64
	BuildEntities    atomic.Int64
	InsertCount      atomic.Int64
	InsertRejected   atomic.Int64
	SearchCount      atomic.Int64
	SearchResults    atomic.Int64
	SearchTotalNanos atomic.Int64
	EraseCount       atomic.Int64
	EraseMissed      atomic.Int64
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(entityCount int, _ time.Duration) {
	b.BuildCount.Add(1)
	b.BuildEntities.Add(int64(entityCount))
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(_ time.Duration, ok bool) {
	b.InsertCount.Add(1)
	if !ok {
		b.InsertRejected.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ string, resultCount int, duration time.Duration) {
	b.SearchCount.Add(1)
	b.SearchResults.Add(int64(resultCount))
	b.SearchTotalNanos.Add(duration.Nanoseconds())
}

// RecordErase implements MetricsCollector.
func (b *BasicMetricsCollector) RecordErase(_ time.Duration, ok bool) {
	b.EraseCount.Add(1)
	if !ok {
		b.EraseMissed.Add(1)
	}
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	BuildCount      int64
	BuildEntities   int64
	InsertCount     int64
	InsertRejected  int64
	SearchCount     int64
	SearchResults   int64
	SearchAvgNanos  int64
	EraseCount      int64
	EraseMissed     int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	stats := BasicMetricsStats{
		BuildCount:     b.BuildCount.Load(),
		BuildEntities:  b.BuildEntities.Load(),
		InsertCount:    b.InsertCount.Load(),
		InsertRejected: b.InsertRejected.Load(),
		SearchCount:    b.SearchCount.Load(),
		SearchResults:  b.SearchResults.Load(),
		EraseCount:     b.EraseCount.Load(),
		EraseMissed:    b.EraseMissed.Load(),
	}
	if stats.SearchCount > 0 {
		stats.SearchAvgNanos = b.SearchTotalNanos.Load() / stats.SearchCount
	}
	return stats
}
