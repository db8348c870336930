// Package queue schedules workflow stage tasks. Two runners implement
// workflow.Runner: an in-process dispatcher used when no broker is
// configured, and a NATS JetStream runner for durable delivery across
// restarts. Both serialize execution per document and retry
// infrastructure failures with exponential backoff before reporting the
// task exhausted.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/c360studio/draftloop/workflow"
)

// Executor runs one stage task. A returned error means the task failed
// for infrastructure reasons and may be retried; quality-gate outcomes
// are handled inside the executor and do not surface here.
type Executor interface {
	ExecuteTask(ctx context.Context, task workflow.Task) error
}

// ExhaustedFunc is called when a task has used up its infrastructure
// retries. The last error is passed along.
type ExhaustedFunc func(task workflow.Task, err error)

// Options configure a runner's retry behavior.
type Options struct {
	// RetryLimit is the number of redeliveries after the first attempt.
	RetryLimit int
	// BackoffBase is the delay before the first redelivery.
	BackoffBase time.Duration
	// BackoffCap bounds the delay between redeliveries.
	BackoffCap time.Duration
	// OnExhausted is invoked when retries run out. Optional.
	OnExhausted ExhaustedFunc
}

func (o *Options) normalize() {
	if o.RetryLimit < 0 {
		o.RetryLimit = 0
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 30 * time.Second
	}
}

// backoffDelay returns the delay before redelivery number attempt
// (1-based), doubling from the base up to the cap with 25% jitter.
func (o *Options) backoffDelay(attempt int) time.Duration {
	delay := o.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= o.BackoffCap {
			delay = o.BackoffCap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Dispatcher is the in-process runner. Tasks queue per document and a
// single goroutine per document drains its queue, so at most one task per
// document executes at any instant.
type Dispatcher struct {
	executor Executor
	opts     Options
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string][]workflow.Task
	active  map[string]bool
	closed  bool
}

// NewDispatcher creates an in-process runner over the executor.
func NewDispatcher(executor Executor, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	opts.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		executor: executor,
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string][]workflow.Task),
		active:   make(map[string]bool),
	}
}

// Submit queues a task behind any earlier tasks for the same document.
func (d *Dispatcher) Submit(task workflow.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("dispatcher closed")
	}

	d.pending[task.DocumentID] = append(d.pending[task.DocumentID], task)
	if !d.active[task.DocumentID] {
		d.active[task.DocumentID] = true
		d.wg.Add(1)
		go d.drain(task.DocumentID)
	}
	return nil
}

// Close stops accepting tasks, cancels running ones, and waits for the
// workers to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

// drain runs the document's queue until it is empty.
func (d *Dispatcher) drain(documentID string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		queue := d.pending[documentID]
		if len(queue) == 0 || d.closed {
			delete(d.pending, documentID)
			d.active[documentID] = false
			d.mu.Unlock()
			return
		}
		task := queue[0]
		d.pending[documentID] = queue[1:]
		d.mu.Unlock()

		d.run(task)
	}
}

// run executes one task with infrastructure retries.
func (d *Dispatcher) run(task workflow.Task) {
	var lastErr error
	for attempt := 0; attempt <= d.opts.RetryLimit; attempt++ {
		if attempt > 0 {
			delay := d.opts.backoffDelay(attempt)
			d.logger.Warn("retrying stage task",
				"task", task.Key(),
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr)
			select {
			case <-d.ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		task.Attempt = attempt + 1
		lastErr = d.executor.ExecuteTask(d.ctx, task)
		if lastErr == nil {
			return
		}
		if errors.Is(lastErr, context.Canceled) {
			return
		}
	}

	d.logger.Error("stage task exhausted retries",
		"task", task.Key(),
		"error", lastErr)
	if d.opts.OnExhausted != nil {
		d.opts.OnExhausted(task, lastErr)
	}
}
