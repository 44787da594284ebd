package memory

import (
	"sync/atomic"
	"time"
)

// GCMetrics is the diagnostics sink for collection cycles. Counters are
// cumulative for the life of the manager.
type GCMetrics struct {
	YoungCollections atomic.Uint64
	LargeCollections atomic.Uint64

	ObjectsCopied   atomic.Uint64
	ObjectsPromoted atomic.Uint64
	ObjectsFreed    atomic.Uint64
	BytesFreed      atomic.Uint64
	CodeFreed       atomic.Uint64
	WeakCleared     atomic.Uint64
	Finalized       atomic.Uint64
	Anomalies       atomic.Uint64

	PauseNanos atomic.Int64
}

// MetricsSnapshot is a plain copy of GCMetrics suitable for encoding.
type MetricsSnapshot struct {
	YoungCollections uint64        `cbor:"young_collections"`
	LargeCollections uint64        `cbor:"large_collections"`
	ObjectsCopied    uint64        `cbor:"objects_copied"`
	ObjectsPromoted  uint64        `cbor:"objects_promoted"`
	ObjectsFreed     uint64        `cbor:"objects_freed"`
	BytesFreed       uint64        `cbor:"bytes_freed"`
	CodeFreed        uint64        `cbor:"code_freed"`
	WeakCleared      uint64        `cbor:"weak_cleared"`
	Finalized        uint64        `cbor:"finalized"`
	Anomalies        uint64        `cbor:"anomalies"`
	TotalPause       time.Duration `cbor:"total_pause"`
}

// Snapshot copies the current counters.
func (m *GCMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		YoungCollections: m.YoungCollections.Load(),
		LargeCollections: m.LargeCollections.Load(),
		ObjectsCopied:    m.ObjectsCopied.Load(),
		ObjectsPromoted:  m.ObjectsPromoted.Load(),
		ObjectsFreed:     m.ObjectsFreed.Load(),
		BytesFreed:       m.BytesFreed.Load(),
		CodeFreed:        m.CodeFreed.Load(),
		WeakCleared:      m.WeakCleared.Load(),
		Finalized:        m.Finalized.Load(),
		Anomalies:        m.Anomalies.Load(),
		TotalPause:       time.Duration(m.PauseNanos.Load()),
	}
}

func (m *GCMetrics) record(s *CycleStats) {
	m.YoungCollections.Add(1)
	m.LargeCollections.Add(1)
	m.ObjectsCopied.Add(uint64(s.Copied))
	m.ObjectsPromoted.Add(uint64(s.Promoted))
	m.ObjectsFreed.Add(uint64(s.YoungFreed + s.MatureFreed))
	m.BytesFreed.Add(uint64(s.BytesFreed))
	m.CodeFreed.Add(uint64(s.CodeFreed))
	m.WeakCleared.Add(uint64(s.WeakCleared))
	m.Finalized.Add(uint64(s.Finalized))
	m.Anomalies.Add(uint64(s.Anomalies))
}

// CycleStats describes one finished collection cycle.
type CycleStats struct {
	ID       uint64        `cbor:"id"`
	Mark     Mark          `cbor:"mark"`
	Started  time.Time     `cbor:"started"`
	Duration time.Duration `cbor:"duration"`

	RootsVisited   int `cbor:"roots_visited"`
	RootsMoved     int `cbor:"roots_moved"`
	HandlesOffered int `cbor:"handles_offered"`
	ObjectsTraced  int `cbor:"objects_traced"`

	Copied      int `cbor:"copied"`
	Promoted    int `cbor:"promoted"`
	YoungFreed  int `cbor:"young_freed"`
	MatureFreed int `cbor:"mature_freed"`
	LargeFreed  int `cbor:"large_freed"`
	CodeFreed   int `cbor:"code_freed"`
	BytesFreed  int `cbor:"bytes_freed"`

	WeakCleared  int `cbor:"weak_cleared"`
	Finalized    int `cbor:"finalized"`
	SymbolsSwept int `cbor:"symbols_swept"`

	Anomalies       int `cbor:"anomalies"`
	StaleReferences int `cbor:"stale_references"`
}
