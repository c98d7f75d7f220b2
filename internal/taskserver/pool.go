package taskserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrPoolStopped is returned by Enqueue once Shutdown has been called.
var ErrPoolStopped = errors.New("taskserver: pool stopped")

type task struct {
	handle      Handle
	executionID int64
	input       json.RawMessage
}

// PoolConfig mirrors the teacher's worker.Config concurrency/grace
// knobs, scoped down to what a BackgroundTaskServer needs.
type PoolConfig struct {
	Concurrency   int
	ShutdownGrace time.Duration
}

// Pool is the production BackgroundTaskServer: a fixed-size pool of
// goroutines draining a shared channel, grounded directly on the
// teacher's internal/queue/worker/worker.go (`jobsCh` + `sync.WaitGroup`
// of `runWorker` goroutines, graceful-drain-then-timeout shutdown).
type Pool struct {
	cfg     PoolConfig
	handler Handler
	log     *slog.Logger

	tasksCh chan task
	wg      sync.WaitGroup

	mu        sync.Mutex
	nextID    int64
	pending   map[Handle]*time.Timer
	cancelled map[Handle]bool

	closeOnce sync.Once
	stopCh    chan struct{}
}

func NewPool(cfg PoolConfig, handler Handler, log *slog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Pool{
		cfg:       cfg,
		handler:   handler,
		log:       log,
		tasksCh:   make(chan task),
		pending:   make(map[Handle]*time.Timer),
		cancelled: make(map[Handle]bool),
		stopCh:    make(chan struct{}),
	}

	for i := 0; i < cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.runWorker(i + 1)
	}
	return p
}

func (p *Pool) runWorker(workerNum int) {
	defer p.wg.Done()
	for t := range p.tasksCh {
		p.mu.Lock()
		skip := p.cancelled[t.handle]
		delete(p.cancelled, t.handle)
		p.mu.Unlock()
		if skip {
			continue
		}

		start := time.Now()
		p.log.Info("taskserver.task_start", "worker_num", workerNum, "execution_id", t.executionID)
		p.handler(context.Background(), t.executionID, t.input)
		p.log.Info("taskserver.task_done", "worker_num", workerNum, "execution_id", t.executionID, "duration_ms", time.Since(start).Milliseconds())
	}
}

func (p *Pool) newHandle() Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	return Handle(p.nextID)
}

func (p *Pool) Enqueue(ctx context.Context, executionID int64, input json.RawMessage) (Handle, error) {
	h := p.newHandle()
	select {
	case p.tasksCh <- task{handle: h, executionID: executionID, input: input}:
	case <-ctx.Done():
		return h, ctx.Err()
	case <-p.stopCh:
		return h, ErrPoolStopped
	}
	return h, nil
}

func (p *Pool) ScheduleAt(ctx context.Context, executionID int64, input json.RawMessage, instant time.Time) (Handle, error) {
	h := p.newHandle()
	delay := time.Until(instant)
	if delay < 0 {
		delay = 0
	}

	timer := time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.pending, h)
		p.mu.Unlock()

		select {
		case p.tasksCh <- task{handle: h, executionID: executionID, input: input}:
		case <-p.stopCh:
		}
	})

	p.mu.Lock()
	p.pending[h] = timer
	p.mu.Unlock()
	return h, nil
}

func (p *Pool) TryCancel(handle Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if timer, ok := p.pending[handle]; ok {
		delete(p.pending, handle)
		return timer.Stop()
	}
	p.cancelled[handle] = true
	return true
}

// Shutdown stops accepting new work, waits up to ShutdownGrace for
// in-flight tasks to finish, and returns whether every worker drained
// in time — mirroring the teacher's Run() shutdown sequence.
func (p *Pool) Shutdown() (drained bool) {
	p.closeOnce.Do(func() {
		close(p.stopCh)
		close(p.tasksCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(p.cfg.ShutdownGrace):
		p.log.Warn("taskserver.shutdown_grace_exceeded", "grace", p.cfg.ShutdownGrace)
		return false
	}
}
