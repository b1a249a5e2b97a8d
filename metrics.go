package smartlsm

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordPut is called after each put operation.
	RecordPut(duration time.Duration, err error)

	// RecordGet is called after each get operation; found reports whether
	// the key resolved to a live value.
	RecordGet(duration time.Duration, found bool)

	// RecordDelete is called after each delete operation.
	RecordDelete(duration time.Duration, deleted bool)

	// RecordScan is called after each range scan with the result count.
	RecordScan(duration time.Duration, results int)

	// RecordSearch is called after each KNN search. approximate is true
	// for graph-backed searches and false for the exact baseline.
	RecordSearch(k int, approximate bool, duration time.Duration, err error)

	// RecordSave is called after each explicit index save.
	RecordSave(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordPut(time.Duration, error)               {}
func (NoopMetricsCollector) RecordGet(time.Duration, bool)                {}
func (NoopMetricsCollector) RecordDelete(time.Duration, bool)             {}
func (NoopMetricsCollector) RecordScan(time.Duration, int)                {}
func (NoopMetricsCollector) RecordSearch(int, bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordSave(time.Duration, error)              {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	PutCount       atomic.Int64
	PutErrors      atomic.Int64
	PutTotalNanos  atomic.Int64
	GetCount       atomic.Int64
	GetMisses      atomic.Int64
	DeleteCount    atomic.Int64
	DeleteMisses   atomic.Int64
	ScanCount      atomic.Int64
	ScanResults    atomic.Int64
	SearchCount    atomic.Int64
	SearchErrors   atomic.Int64
	SearchApprox   atomic.Int64
	SearchTotalNs  atomic.Int64
	SaveCount      atomic.Int64
	SaveErrors     atomic.Int64
	SaveTotalNanos atomic.Int64
}

// RecordPut implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPut(duration time.Duration, err error) {
	b.PutCount.Add(1)
	b.PutTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PutErrors.Add(1)
	}
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(_ time.Duration, found bool) {
	b.GetCount.Add(1)
	if !found {
		b.GetMisses.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(_ time.Duration, deleted bool) {
	b.DeleteCount.Add(1)
	if !deleted {
		b.DeleteMisses.Add(1)
	}
}

// RecordScan implements MetricsCollector.
func (b *BasicMetricsCollector) RecordScan(_ time.Duration, results int) {
	b.ScanCount.Add(1)
	b.ScanResults.Add(int64(results))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ int, approximate bool, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNs.Add(duration.Nanoseconds())
	if approximate {
		b.SearchApprox.Add(1)
	}
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordSave implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSave(duration time.Duration, err error) {
	b.SaveCount.Add(1)
	b.SaveTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SaveErrors.Add(1)
	}
}
