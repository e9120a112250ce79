// Package scheduler holds the priority queue of scheduled probes and
// the single-fire timer that dispatches due entries to a worker pool.
// Generalized from the teacher's fixed-tick monitoringLoop
// (pkg/probe/probe.go) into a per-service next-due heap so interval
// and retry policy can vary per configured service, per spec.md §4.4.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsecheck/pulsecheck/internal/model"
)

// State is the Scheduler's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	default:
		return "UNKNOWN"
	}
}

// Dispatcher is the subset of the worker pool the Scheduler depends
// on. Implemented by *pool.Pool.
type Dispatcher interface {
	Execute(ctx context.Context, cfg *model.ServiceConfig, correlationID string) (*model.ProbeResult, error)
}

// ResultSink is the subset of the Result Store the Scheduler writes
// into and reads back for introspection. Implemented by *store.Store.
type ResultSink interface {
	Put(result *model.ProbeResult)
	Snapshot() map[string]*model.ProbeResult
}

// pqItem is one entry in the heap. NextDue/Interval live on the
// embedded ScheduledEntry; seq breaks ties between equal NextDue
// instants so the queue is FIFO-stable, and heapIndex is -1 whenever
// the item is not currently present in the heap slice (either because
// it is mid-dispatch, or because it has not been inserted yet).
type pqItem struct {
	entry     *model.ScheduledEntry
	seq       int64
	heapIndex int
}

type itemHeap struct{ s *Scheduler }

func (h itemHeap) Len() int { return len(h.s.items) }
func (h itemHeap) Less(i, j int) bool {
	a, b := h.s.items[i], h.s.items[j]
	if !a.entry.NextDue.Equal(b.entry.NextDue) {
		return a.entry.NextDue.Before(b.entry.NextDue)
	}
	return a.seq < b.seq
}
func (h itemHeap) Swap(i, j int) {
	h.s.items[i], h.s.items[j] = h.s.items[j], h.s.items[i]
	h.s.items[i].heapIndex = i
	h.s.items[j].heapIndex = j
}
func (h itemHeap) Push(x any) {
	item := x.(*pqItem)
	item.heapIndex = len(h.s.items)
	h.s.items = append(h.s.items, item)
}
func (h itemHeap) Pop() any {
	old := h.s.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIndex = -1
	h.s.items = old[:n-1]
	return item
}

// Scheduler holds the priority queue of ScheduledEntry, ordered by
// NextDue ascending with insertion order breaking ties.
type Scheduler struct {
	mu       sync.Mutex
	items    []*pqItem
	byName   map[string]*pqItem
	inFlight map[string]struct{}
	seq      int64

	state   State
	stopCh  chan struct{}
	wakeCh  chan struct{}
	loopWG  sync.WaitGroup
	stopMu  sync.Mutex

	inFlightWG sync.WaitGroup

	dispatcher              Dispatcher
	sink                    ResultSink
	newCorrelationID        func() string
	gracefulShutdownTimeout time.Duration
	logger                  *zap.Logger
}

// New constructs a Scheduler in the STOPPED state.
func New(dispatcher Dispatcher, sink ResultSink, gracefulShutdownTimeout time.Duration, logger *zap.Logger) *Scheduler {
	if gracefulShutdownTimeout <= 0 {
		gracefulShutdownTimeout = 25 * time.Second
	}
	return &Scheduler{
		byName:                  make(map[string]*pqItem),
		inFlight:                make(map[string]struct{}),
		dispatcher:              dispatcher,
		sink:                    sink,
		newCorrelationID:        func() string { return uuid.NewString() },
		gracefulShutdownTimeout: gracefulShutdownTimeout,
		logger:                  logger,
	}
}

// Schedule upserts a ScheduledEntry by ServiceConfig.Name: NextDue is
// set to now+interval, the heap is re-sorted, and if the Scheduler is
// RUNNING the fire timer is recomputed. Fails while SHUTTING_DOWN.
func (s *Scheduler) Schedule(cfg *model.ServiceConfig, interval time.Duration) error {
	s.mu.Lock()
	if s.state == StateShuttingDown {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: cannot schedule %q while shutting down", cfg.Name)
	}

	now := time.Now()
	item, exists := s.byName[cfg.Name]
	if !exists {
		item = &pqItem{
			entry:     &model.ScheduledEntry{},
			seq:       s.nextSeq(),
			heapIndex: -1,
		}
		s.byName[cfg.Name] = item
	}

	wasInHeap := item.heapIndex >= 0
	if wasInHeap {
		heap.Remove(itemHeap{s}, item.heapIndex)
	}

	item.entry.Config = cfg
	item.entry.Interval = interval
	item.entry.NextDue = now.Add(interval)
	heap.Push(itemHeap{s}, item)

	s.mu.Unlock()
	s.wake()
	return nil
}

// Unschedule removes the entry for name. A no-op if absent. During
// SHUTTING_DOWN it is accepted but has no effect on in-flight work.
func (s *Scheduler) Unschedule(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.byName[name]
	if !ok {
		return
	}
	if item.heapIndex >= 0 {
		heap.Remove(itemHeap{s}, item.heapIndex)
	}
	delete(s.byName, name)
	delete(s.inFlight, name)
}

// ScheduledNames lists every service currently considered scheduled,
// including one popped off the heap for dispatch but not yet
// re-inserted: it reads byName, which keeps an entry from Schedule
// until Unschedule, so introspection never shows a gap during that
// window.
func (s *Scheduler) ScheduledNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	return names
}

// State returns the Scheduler's current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start arms the fire timer and begins dispatching due entries. Errors
// if already RUNNING or SHUTTING_DOWN.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.state != StateStopped {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("scheduler: cannot start from state %s", st)
	}
	s.state = StateRunning
	s.stopCh = make(chan struct{})
	s.wakeCh = make(chan struct{}, 1)
	s.mu.Unlock()

	s.loopWG.Add(1)
	go s.loop()
	return nil
}

// Stop transitions to SHUTTING_DOWN, cancels the timer, awaits
// in-flight probe completions up to the Scheduler's own graceful
// timeout, then transitions to STOPPED. Safe to call when STOPPED.
func (s *Scheduler) Stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateShuttingDown
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		s.inFlightWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.gracefulShutdownTimeout):
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
}

// RunOnce dispatches every currently scheduled entry exactly once,
// concurrently, and waits for all of them to complete. Used by
// once-mode (CI smoke tests). Errors if RUNNING or SHUTTING_DOWN.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("scheduler: runOnce requires STOPPED, got %s", st)
	}
	items := make([]*pqItem, len(s.items))
	copy(items, s.items)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func(it *pqItem) {
			defer wg.Done()
			corrID := s.newCorrelationID()
			result, err := s.dispatcher.Execute(ctx, it.entry.Config, corrID)
			if err != nil {
				s.logger.Warn("runOnce dispatch failed", zap.String("service", it.entry.Config.Name), zap.Error(err))
				return
			}
			s.sink.Put(result)
		}(item)
	}
	wg.Wait()
	return nil
}

func (s *Scheduler) nextSeq() int64 {
	s.seq++
	return s.seq
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// loop is the Scheduler's single control goroutine: it owns the fire
// timer and is the sole mutator of dispatch decisions.
func (s *Scheduler) loop() {
	defer s.loopWG.Done()

	timer := time.NewTimer(s.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wakeCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.nextDelay())
		case <-timer.C:
			s.fire()
			timer.Reset(s.nextDelay())
		}
	}
}

// nextDelay returns how long to sleep before the next fire check. An
// empty heap sleeps for a long, interruptible placeholder duration;
// any heap mutation wakes the loop immediately via wake().
func (s *Scheduler) nextDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return 24 * time.Hour
	}
	d := time.Until(s.items[0].entry.NextDue)
	if d < 0 {
		d = 0
	}
	return d
}

// fire pops every entry whose NextDue has elapsed and dispatches each
// concurrently without waiting for completion; each popped entry is
// recorded in the in-flight set until its dispatch completes, and stays
// in byName, so ScheduledNames still lists it.
func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	var batch []*pqItem
	for len(s.items) > 0 && !s.items[0].entry.NextDue.After(now) {
		item := heap.Pop(itemHeap{s}).(*pqItem)
		s.inFlight[item.entry.Config.Name] = struct{}{}
		batch = append(batch, item)
	}
	s.mu.Unlock()

	for _, item := range batch {
		s.inFlightWG.Add(1)
		go s.dispatchOne(item, now)
	}
}

// dispatchOne executes one probe and, if the Scheduler is still
// RUNNING and this entry has not been unscheduled meanwhile,
// re-inserts it with NextDue measured from dispatchTime rather than
// completion time, per the spec's no-drift timing contract.
func (s *Scheduler) dispatchOne(item *pqItem, dispatchTime time.Time) {
	defer s.inFlightWG.Done()

	corrID := s.newCorrelationID()
	result, err := s.dispatcher.Execute(context.Background(), item.entry.Config, corrID)
	if err != nil {
		s.logger.Warn("pool dispatch failed", zap.String("service", item.entry.Config.Name), zap.Error(err))
	} else {
		s.sink.Put(result)
	}

	s.mu.Lock()
	delete(s.inFlight, item.entry.Config.Name)
	if s.state == StateRunning {
		if current, ok := s.byName[item.entry.Config.Name]; ok && current == item && item.heapIndex < 0 {
			item.entry.NextDue = dispatchTime.Add(item.entry.Interval)
			heap.Push(itemHeap{s}, item)
		}
	}
	s.mu.Unlock()
	s.wake()
}
