// Package bridge lets a synchronous caller hand work to a background
// scheduler that outlives any single caller action.
//
// A Bridge is started once, before any discovery or command work, and runs
// until Stop. It stays alive while idle. Callers either block on a task with
// RunBlocking or hand it off with Submit and never observe the result; a
// submitted task must handle its own failures.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/lanerr"
	"github.com/muurk/lumen/internal/logging"
)

const (
	DefaultMaxConcurrent = 16
	DefaultQueueDepth    = 256
)

// Task is a unit of work. ctx is cancelled when the bridge stops or, for
// RunBlocking, when the caller gives up.
type Task func(ctx context.Context) error

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

type job struct {
	name string
	ctx  context.Context
	task Task
	done chan error // nil for fire-and-forget
}

// Bridge runs tasks on its own goroutines.
type Bridge struct {
	log           *zap.Logger
	maxConcurrent int
	queueDepth    int

	mu     sync.Mutex
	state  state
	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc

	sem            chan struct{}
	wg             sync.WaitGroup
	dispatcherDone chan struct{}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// WithMaxConcurrent bounds how many tasks run at once.
func WithMaxConcurrent(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.maxConcurrent = n
		}
	}
}

// WithQueueDepth bounds how many tasks may wait for a free slot.
func WithQueueDepth(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.queueDepth = n
		}
	}
}

// New creates a stopped bridge. Call Start before submitting work.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		maxConcurrent: DefaultMaxConcurrent,
		queueDepth:    DefaultQueueDepth,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = logging.Named(b.log, "bridge")
	return b
}

// Start launches the dispatcher. A bridge can be started once.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateRunning:
		return errors.New("bridge already running")
	case stateStopped:
		return lanerr.New(lanerr.KindStopped, "start", errors.New("bridge was stopped"))
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.queue = make(chan job, b.queueDepth)
	b.sem = make(chan struct{}, b.maxConcurrent)
	b.dispatcherDone = make(chan struct{})
	b.state = stateRunning

	go b.dispatch()
	b.log.Debug("bridge started",
		zap.Int("max_concurrent", b.maxConcurrent),
		zap.Int("queue_depth", b.queueDepth),
	)
	return nil
}

// Running reports whether the bridge accepts work.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateRunning
}

func (b *Bridge) dispatch() {
	defer close(b.dispatcherDone)
	for {
		select {
		case <-b.ctx.Done():
			b.drain()
			return
		case j := <-b.queue:
			select {
			case b.sem <- struct{}{}:
			case <-b.ctx.Done():
			}
			// a slot can free up in the same instant Stop cancels
			if b.ctx.Err() != nil {
				b.reject(j)
				b.drain()
				return
			}
			b.wg.Add(1)
			go b.run(j)
		}
	}
}

// drain rejects everything still queued. No enqueue can happen once the
// state has left stateRunning.
func (b *Bridge) drain() {
	for {
		select {
		case j := <-b.queue:
			b.reject(j)
		default:
			return
		}
	}
}

func (b *Bridge) reject(j job) {
	err := lanerr.New(lanerr.KindStopped, j.name, errors.New("bridge stopped before task ran"))
	if j.done != nil {
		j.done <- err
		return
	}
	b.log.Debug("dropping queued task", zap.String("task", j.name))
}

func (b *Bridge) run(j job) {
	defer b.wg.Done()
	defer func() { <-b.sem }()

	err := b.safeCall(j.ctx, j.task)
	if j.done != nil {
		j.done <- err
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		b.log.Warn("task failed", zap.String("task", j.name), zap.Error(err))
	}
}

func (b *Bridge) safeCall(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("task panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (b *Bridge) enqueue(j job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateRunning {
		return lanerr.New(lanerr.KindStopped, j.name, errors.New("bridge not running"))
	}
	select {
	case b.queue <- j:
		return nil
	default:
		e := lanerr.New(lanerr.KindBusy, j.name, nil)
		e.Message = fmt.Sprintf("task queue full (%d)", b.queueDepth)
		return e
	}
}

// RunBlocking runs task on the bridge and waits for it to finish, returning
// its error. If ctx ends first the task is cancelled and ctx's error
// returned without waiting for the task to unwind.
func (b *Bridge) RunBlocking(ctx context.Context, task Task) error {
	b.mu.Lock()
	root := b.ctx
	b.mu.Unlock()
	if root == nil {
		return lanerr.New(lanerr.KindStopped, "run-blocking", errors.New("bridge not running"))
	}

	tctx, cancel := context.WithCancel(root)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	done := make(chan error, 1)
	if err := b.enqueue(job{name: "run-blocking", ctx: tctx, task: task, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit hands fn to the bridge and returns at once. fn's outcome is never
// reported to the caller; the returned error only says whether the bridge
// accepted it.
func (b *Bridge) Submit(name string, fn func(ctx context.Context)) error {
	b.mu.Lock()
	root := b.ctx
	b.mu.Unlock()
	if root == nil {
		return lanerr.New(lanerr.KindStopped, name, errors.New("bridge not running"))
	}
	return b.enqueue(job{
		name: name,
		ctx:  root,
		task: func(ctx context.Context) error {
			fn(ctx)
			return nil
		},
	})
}

// Stop cancels every task's context, rejects queued work and waits for
// running tasks to return or ctx to end. Stop is idempotent.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.state != stateRunning {
		b.state = stateStopped
		b.mu.Unlock()
		return nil
	}
	b.state = stateStopped
	b.cancel()
	b.mu.Unlock()

	<-b.dispatcherDone

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.log.Debug("bridge stopped")
		return nil
	case <-ctx.Done():
		b.log.Warn("bridge stop timed out with tasks still running")
		return ctx.Err()
	}
}
