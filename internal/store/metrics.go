package store

import "time"

// Metrics receives operational measurements from a store. Implementations
// must be safe for concurrent use.
type Metrics interface {
	// ObserveQuery records a query; path is "exact", "accelerated" or "fallback".
	ObserveQuery(path string, d time.Duration)
	// ObserveRebuild records an index rebuild; outcome is "installed", "stale" or "failed".
	ObserveRebuild(backend, outcome string, d time.Duration)
	// ObserveWrite records committed write operations.
	ObserveWrite(op string, n int)
	// ObserveEviction records documents removed by garbage collection.
	ObserveEviction(n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveQuery(string, time.Duration)           {}
func (noopMetrics) ObserveRebuild(string, string, time.Duration) {}
func (noopMetrics) ObserveWrite(string, int)                     {}
func (noopMetrics) ObserveEviction(int)                          {}
