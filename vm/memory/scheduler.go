package memory

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

// DefaultCollectInterval is the default pressure check interval.
const DefaultCollectInterval = 250 * time.Millisecond

// Scheduler periodically checks allocation pressure and runs a collection
// when the young region is full. Explicit requests go through CollectNow.
type Scheduler struct {
	mm       *MemoryManager
	interval time.Duration
	enabled  atomic.Bool
	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex // protects start/stop lifecycle

	cycles    atomic.Uint64
	failures  atomic.Uint64
	lastStats atomic.Pointer[CycleStats]

	log commonlog.Logger
}

// NewScheduler creates a scheduler for mm. A non-positive interval selects
// DefaultCollectInterval.
func NewScheduler(mm *MemoryManager, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	s := &Scheduler{
		mm:       mm,
		interval: interval,
		log:      commonlog.GetLogger("memory.scheduler"),
	}
	s.enabled.Store(true)
	return s
}

// Start begins the periodic check goroutine. Calling Start on a running
// scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	stopCh := s.stop
	stoppedCh := s.stopped
	go s.loop(stopCh, stoppedCh)
}

// Stop halts the goroutine and waits for it to exit. Stopping a scheduler
// that was never started is allowed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh := s.stop
	stoppedCh := s.stopped
	s.stop = nil
	s.stopped = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// SetEnabled pauses or resumes pressure-triggered collection.
func (s *Scheduler) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

// IsEnabled reports whether pressure-triggered collection is on.
func (s *Scheduler) IsEnabled() bool { return s.enabled.Load() }

// Interval returns the pressure check interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// CycleCount returns the number of cycles this scheduler has run.
func (s *Scheduler) CycleCount() uint64 { return s.cycles.Load() }

// Failures returns the number of cycles that reported an error.
func (s *Scheduler) Failures() uint64 { return s.failures.Load() }

// LastStats returns the statistics of the last cycle run by the scheduler.
func (s *Scheduler) LastStats() *CycleStats { return s.lastStats.Load() }

// CollectNow runs a cycle immediately, regardless of pressure.
func (s *Scheduler) CollectNow() (*CycleStats, error) {
	return s.collect(s.mm.Collect)
}

func (s *Scheduler) loop(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if s.enabled.Load() && s.mm.ShouldCollect() {
				s.collect(s.mm.CollectIfNeeded)
			}
		}
	}
}

func (s *Scheduler) collect(run func() (*CycleStats, error)) (*CycleStats, error) {
	stats, err := run()
	if stats != nil {
		s.cycles.Add(1)
		s.lastStats.Store(stats)
	}
	if err != nil {
		s.failures.Add(1)
		s.log.Errorf("collection failed: %s", err)
	}
	return stats, err
}
