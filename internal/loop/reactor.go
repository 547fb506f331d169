package loop

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/workerpool"
	"go.uber.org/zap"
)

const taskQueueSize = 256

// Reactor is the production Loop. The owner drains Tasks() from its event loop
// and runs every task through Exec.
type Reactor struct {
	ctx   context.Context
	log   *zap.Logger
	clock clock.Clock
	tasks chan func()

	mu      sync.RWMutex
	pool    *workerpool.WorkerPool
	stopped bool
}

// NewReactor creates a reactor whose off-loop work runs on the given number of workers.
func NewReactor(ctx context.Context, log *zap.Logger, clk clock.Clock, workers int) *Reactor {
	if workers <= 0 {
		workers = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Reactor{
		ctx:   ctx,
		log:   log.With(zap.String("component", "reactor")),
		clock: clk,
		tasks: make(chan func(), taskQueueSize),
		pool:  workerpool.New(workers),
	}
}

// Tasks returns the channel of functions waiting to be executed on the loop.
func (r *Reactor) Tasks() <-chan func() {
	return r.tasks
}

func (r *Reactor) Post(fn func()) {
	select {
	case r.tasks <- fn:
	case <-r.ctx.Done():
		r.log.Debug("Dropping task posted after shutdown")
	}
}

func (r *Reactor) Go(task func(ctx context.Context)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		r.log.Warn("Dropping background task submitted after stop")
		return
	}

	r.pool.Submit(func() {
		defer r.recoverTask("background task")
		task(r.ctx)
	})
}

func (r *Reactor) AfterFunc(d time.Duration, fn func()) Timer {
	return r.clock.AfterFunc(d, func() {
		r.Post(fn)
	})
}

func (r *Reactor) Now() time.Time {
	return r.clock.Now()
}

// Exec runs a loop task, recovering from panics so a single failing handler
// cannot take down the hub.
func (r *Reactor) Exec(name string, fn func()) {
	defer r.recoverTask(name)
	fn()
}

// WaitingTasks returns the number of background tasks queued on the worker pool.
func (r *Reactor) WaitingTasks() int {
	return r.pool.WaitingQueueSize()
}

// Stop waits for queued background work to finish. Tasks they post afterwards
// are dropped once the reactor context is cancelled.
func (r *Reactor) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.pool.StopWait()
}

func (r *Reactor) recoverTask(name string) {
	if err := recover(); err != nil {
		r.log.Error("Recovered from panic",
			zap.String("task", name),
			zap.Any("error", err),
			zap.Stack("stack"),
		)
	}
}
