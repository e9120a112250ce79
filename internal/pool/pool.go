// Package pool implements the bounded worker pool that executes probes
// off the Scheduler's control goroutine. Generalized from the
// goroutine-per-probe dispatch in the teacher's pkg/probe/probe.go
// (executeProbes spawning one goroutine per due probe) into a
// fixed-size pool with FIFO queueing, worker-crash recovery, and a
// graceful/forced shutdown sequence, per spec.md §4.3 and the
// worker-construction hook called for in spec.md §9.
package pool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/pulsecheck/pulsecheck/internal/metrics"
	"github.com/pulsecheck/pulsecheck/internal/model"
)

// ErrShuttingDown is returned by Execute once the pool has begun
// shutting down; no new submissions are accepted after that point.
var ErrShuttingDown = errors.New("pool shutting down")

// Prober is the retry-wrapped operation each worker runs. Tests supply
// a Prober that panics on selected calls to exercise worker-crash
// recovery deterministically — this function is the "worker
// construction hook" spec.md §9 calls for: every worker in the pool
// is, at bottom, a loop that calls this same function repeatedly.
type Prober func(ctx context.Context, cfg *model.ServiceConfig, correlationID string) *model.ProbeResult

// Metrics is a point-in-time snapshot of pool state for observation.
type Metrics struct {
	TotalWorkers  int
	ActiveWorkers int
	IdleWorkers   int
	QueueDepth    int
	CompletedJobs int64
	FailedJobs    int64
	WorkerCrashes int64
}

type task struct {
	ctx           context.Context
	cfg           *model.ServiceConfig
	correlationID string
	resultCh      chan *model.ProbeResult
	resolveOnce   sync.Once
}

func (t *task) resolve(result *model.ProbeResult, wg *sync.WaitGroup) {
	t.resolveOnce.Do(func() {
		t.resultCh <- result
		wg.Done()
	})
}

// Pool is a bounded set of execution contexts, each capable of running
// one retry-wrapped probe at a time.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*task
	inFlight map[int]*task

	run         Prober
	metricsSink *metrics.Metrics

	size         int
	nextWorkerID int
	shuttingDown bool

	totalWorkers  int
	activeWorkers int
	completedJobs int64
	failedJobs    int64
	workerCrashes int64

	pendingWG sync.WaitGroup
}

// New creates and starts a Pool of the given size. size <= 0 means
// "use default" (2 x CPU count, minimum 1). metricsSink may be nil.
func New(size int, run Prober, metricsSink *metrics.Metrics) *Pool {
	if size <= 0 {
		size = 2 * runtime.NumCPU()
	}
	if size < 1 {
		size = 1
	}

	p := &Pool{
		run:         run,
		metricsSink: metricsSink,
		size:        size,
		inFlight:    make(map[int]*task),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < size; i++ {
		p.spawnWorker()
	}
	return p
}

// Execute submits cfg for probing and blocks until a worker produces a
// result, the pool rejects the submission (shutting down), or ctx is
// cancelled.
func (p *Pool) Execute(ctx context.Context, cfg *model.ServiceConfig, correlationID string) (*model.ProbeResult, error) {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return nil, ErrShuttingDown
	}

	t := &task{ctx: ctx, cfg: cfg, correlationID: correlationID, resultCh: make(chan *model.ProbeResult, 1)}
	p.queue = append(p.queue, t)
	p.pendingWG.Add(1)
	p.mu.Unlock()
	p.cond.Signal()

	select {
	case result := <-t.resultCh:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Metrics returns a snapshot of the pool's current counters.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Metrics{
		TotalWorkers:  p.totalWorkers,
		ActiveWorkers: p.activeWorkers,
		IdleWorkers:   p.totalWorkers - p.activeWorkers,
		QueueDepth:    len(p.queue),
		CompletedJobs: p.completedJobs,
		FailedJobs:    p.failedJobs,
		WorkerCrashes: p.workerCrashes,
	}
}

// Shutdown stops accepting new submissions, fails everything still
// waiting in the queue, waits up to gracefulDeadline for active jobs
// to finish on their own, and force-resolves any survivors as FAIL.
func (p *Pool) Shutdown(gracefulDeadline time.Duration) {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return
	}
	p.shuttingDown = true
	pending := p.queue
	p.queue = nil
	p.mu.Unlock()
	p.cond.Broadcast()

	for _, t := range pending {
		t.resolve(failResult(t, "pool shutting down"), &p.pendingWG)
	}

	done := make(chan struct{})
	go func() {
		p.pendingWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(gracefulDeadline):
	}

	p.mu.Lock()
	survivors := make([]*task, 0, len(p.inFlight))
	for _, t := range p.inFlight {
		survivors = append(survivors, t)
	}
	p.mu.Unlock()

	for _, t := range survivors {
		t.resolve(failResult(t, "pool shutdown: task timeout"), &p.pendingWG)
	}
}

func failResult(t *task, reason string) *model.ProbeResult {
	return &model.ProbeResult{
		ServiceName:    t.cfg.Name,
		CorrelationID:  t.correlationID,
		Timestamp:      time.Now(),
		Status:         model.StatusFail,
		HTTPStatusCode: 0,
		ExpectedStatus: t.cfg.ExpectedStatus,
		FailureReason:  reason,
	}
}

func (p *Pool) spawnWorker() {
	p.mu.Lock()
	id := p.nextWorkerID
	p.nextWorkerID++
	p.totalWorkers++
	p.mu.Unlock()
	go p.superviseWorker(id)
}

// superviseWorker runs the worker loop and recovers from a panic
// inside it, treating that as worker death: the crash counter
// increments, the in-flight job (if any) is re-queued at the head, and
// a replacement worker is spawned unless the pool is shutting down.
func (p *Pool) superviseWorker(id int) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		p.mu.Lock()
		p.workerCrashes++
		p.totalWorkers--
		t := p.inFlight[id]
		delete(p.inFlight, id)
		if t != nil {
			p.activeWorkers--
			p.queue = append([]*task{t}, p.queue...)
		}
		shuttingDown := p.shuttingDown
		p.mu.Unlock()

		if p.metricsSink != nil {
			p.metricsSink.PoolWorkerCrashes.Inc()
		}

		if !shuttingDown {
			p.spawnWorker()
			p.cond.Signal()
		} else {
			p.cond.Broadcast()
		}
	}()

	p.workerLoop(id)
}

func (p *Pool) workerLoop(id int) {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.shuttingDown {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.shuttingDown {
			p.totalWorkers--
			p.mu.Unlock()
			return
		}

		t := p.queue[0]
		p.queue = p.queue[1:]
		p.inFlight[id] = t
		p.activeWorkers++
		p.reportGaugesLocked()
		p.mu.Unlock()

		result := p.run(t.ctx, t.cfg, t.correlationID)

		p.mu.Lock()
		delete(p.inFlight, id)
		p.activeWorkers--
		p.completedJobs++
		if result.Status == model.StatusFail {
			p.failedJobs++
		}
		p.reportGaugesLocked()
		p.mu.Unlock()

		t.resolve(result, &p.pendingWG)
	}
}

// reportGaugesLocked pushes pool-shape gauges into the metrics sink.
// Callers must hold p.mu.
func (p *Pool) reportGaugesLocked() {
	if p.metricsSink == nil {
		return
	}
	p.metricsSink.PoolActiveWorkers.Set(float64(p.activeWorkers))
	p.metricsSink.PoolQueueDepth.Set(float64(len(p.queue)))
}
