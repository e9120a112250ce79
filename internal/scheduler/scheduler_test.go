package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsecheck/pulsecheck/internal/model"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []string
	fn    func(cfg *model.ServiceConfig) *model.ProbeResult
}

func (f *fakeDispatcher) Execute(ctx context.Context, cfg *model.ServiceConfig, correlationID string) (*model.ProbeResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cfg.Name)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(cfg), nil
	}
	return &model.ProbeResult{ServiceName: cfg.Name, Status: model.StatusPass}, nil
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSink struct {
	mu      sync.Mutex
	results map[string]*model.ProbeResult
}

func newFakeSink() *fakeSink { return &fakeSink{results: make(map[string]*model.ProbeResult)} }

func (s *fakeSink) Put(result *model.ProbeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.ServiceName] = result
}

func (s *fakeSink) Snapshot() map[string]*model.ProbeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*model.ProbeResult, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

func TestScheduleUpsertsByName(t *testing.T) {
	s := New(&fakeDispatcher{}, newFakeSink(), 0, testLogger())
	cfg := &model.ServiceConfig{Name: "svc-a"}

	require.NoError(t, s.Schedule(cfg, time.Hour))
	require.NoError(t, s.Schedule(cfg, 2*time.Hour))

	names := s.ScheduledNames()
	assert.Equal(t, []string{"svc-a"}, names)
}

func TestUnscheduleRemovesEntry(t *testing.T) {
	s := New(&fakeDispatcher{}, newFakeSink(), 0, testLogger())
	cfg := &model.ServiceConfig{Name: "svc-a"}
	require.NoError(t, s.Schedule(cfg, time.Hour))

	s.Unschedule("svc-a")
	assert.Empty(t, s.ScheduledNames())

	s.Unschedule("does-not-exist") // no-op, must not panic
}

func TestScheduleFailsWhileShuttingDown(t *testing.T) {
	block := make(chan struct{})
	disp := &fakeDispatcher{fn: func(cfg *model.ServiceConfig) *model.ProbeResult {
		<-block
		return &model.ProbeResult{ServiceName: cfg.Name, Status: model.StatusPass}
	}}
	s := New(disp, newFakeSink(), time.Second, testLogger())
	require.NoError(t, s.Start())
	require.NoError(t, s.Schedule(&model.ServiceConfig{Name: "in-flight"}, time.Millisecond))

	require.Eventually(t, func() bool { return disp.callCount() >= 1 }, time.Second, 5*time.Millisecond)

	stopDone := make(chan struct{})
	go func() {
		s.Stop()
		close(stopDone)
	}()
	require.Eventually(t, func() bool { return s.State() == StateShuttingDown }, time.Second, time.Millisecond)

	err := s.Schedule(&model.ServiceConfig{Name: "svc-a"}, time.Minute)
	assert.Error(t, err)

	close(block)
	<-stopDone
	assert.NoError(t, s.Schedule(&model.ServiceConfig{Name: "svc-a"}, time.Minute))
}

func TestStartErrorsWhenAlreadyRunning(t *testing.T) {
	s := New(&fakeDispatcher{}, newFakeSink(), 0, testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Error(t, s.Start())
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(&fakeDispatcher{}, newFakeSink(), 0, testLogger())
	require.NoError(t, s.Start())
	s.Stop()
	s.Stop() // must not block or panic
	assert.Equal(t, StateStopped, s.State())
}

func TestRunOnceDispatchesEveryScheduledEntry(t *testing.T) {
	disp := &fakeDispatcher{}
	sink := newFakeSink()
	s := New(disp, sink, 0, testLogger())

	require.NoError(t, s.Schedule(&model.ServiceConfig{Name: "svc-a"}, time.Hour))
	require.NoError(t, s.Schedule(&model.ServiceConfig{Name: "svc-b"}, time.Hour))

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 2, disp.callCount())
	assert.Len(t, sink.Snapshot(), 2)
}

func TestRunOnceRejectedWhileRunning(t *testing.T) {
	s := New(&fakeDispatcher{}, newFakeSink(), 0, testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Error(t, s.RunOnce(context.Background()))
}

func TestFireDispatchesDueEntriesAndReschedules(t *testing.T) {
	var calls int32
	disp := &fakeDispatcher{fn: func(cfg *model.ServiceConfig) *model.ProbeResult {
		atomic.AddInt32(&calls, 1)
		return &model.ProbeResult{ServiceName: cfg.Name, Status: model.StatusPass}
	}}
	sink := newFakeSink()
	s := New(disp, sink, 2*time.Second, testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	require.NoError(t, s.Schedule(&model.ServiceConfig{Name: "svc-a"}, 30*time.Millisecond))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestHeapOrdersByNextDueThenInsertionOrder(t *testing.T) {
	s := New(&fakeDispatcher{}, newFakeSink(), 0, testLogger())
	now := time.Now()

	a := &pqItem{entry: &model.ScheduledEntry{Config: &model.ServiceConfig{Name: "a"}, NextDue: now}, seq: 1, heapIndex: -1}
	b := &pqItem{entry: &model.ScheduledEntry{Config: &model.ServiceConfig{Name: "b"}, NextDue: now}, seq: 2, heapIndex: -1}

	h := itemHeap{s}
	h.Push(a)
	h.Push(b)

	assert.True(t, h.Less(0, 1))
}
