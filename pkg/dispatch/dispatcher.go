// Package dispatch runs a batch of image tasks through a fixed-size worker pool.
package dispatch

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/site-analyzer/pkg/types"
)

// DefaultConcurrency is the worker count used when none is configured
const DefaultConcurrency = 10

// Result is what an analyze call produces for one task
type Result struct {
	Detections []types.Detection
	Insights   []types.Insight
	RawText    string
}

// AnalyzeFunc performs the external call plus parsing for a single task.
// Retry and backoff belong here, not in the dispatcher.
type AnalyzeFunc func(ctx context.Context, task *types.ImageTask) (Result, error)

// Observer is notified after every status transition. It receives a copy of
// the task and is called from worker goroutines, so implementations must be
// safe for concurrent use.
type Observer interface {
	OnStatus(task types.ImageTask, status types.Status)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(task types.ImageTask, status types.Status)

// OnStatus calls f
func (f ObserverFunc) OnStatus(task types.ImageTask, status types.Status) {
	f(task, status)
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithObserver adds an observer; several may be registered
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observers = append(d.observers, o)
		}
	}
}

// WithLogger logs per-task failures to l
func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// Dispatcher processes tasks with at most Concurrency of them in flight
type Dispatcher struct {
	concurrency int
	observers   []Observer
	logger      *log.Logger
}

// New creates a Dispatcher. A concurrency below one falls back to DefaultConcurrency.
func New(concurrency int, opts ...Option) *Dispatcher {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	d := &Dispatcher{concurrency: concurrency}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run is a convenience wrapper around New(concurrency, opts...).Run
func Run(ctx context.Context, tasks []*types.ImageTask, concurrency int, analyze AnalyzeFunc, opts ...Option) []*types.ImageTask {
	return New(concurrency, opts...).Run(ctx, tasks, analyze)
}

// Run drives every task to a terminal state and returns tasks in input order.
//
// Workers pull from a FIFO queue and pick up the next task as soon as their
// current one settles. When ctx is cancelled no further analyze calls are
// started; tasks still queued are marked as errors carrying ctx.Err().
func (d *Dispatcher) Run(ctx context.Context, tasks []*types.ImageTask, analyze AnalyzeFunc) []*types.ImageTask {
	if len(tasks) == 0 {
		return tasks
	}

	workers := d.concurrency
	if workers > len(tasks) {
		workers = len(tasks)
	}

	queue := make(chan *types.ImageTask, len(tasks))
	for _, task := range tasks {
		queue <- task
	}
	close(queue)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for task := range queue {
				if err := ctx.Err(); err != nil {
					d.fail(task, fmt.Errorf("not dispatched: %w", err))
					continue
				}
				d.process(ctx, task, analyze)
			}
			return nil
		})
	}
	_ = g.Wait()

	return tasks
}

func (d *Dispatcher) process(ctx context.Context, task *types.ImageTask, analyze AnalyzeFunc) {
	task.Err = nil
	task.Result = nil
	task.Insights = nil
	d.transition(task, types.StatusAnalyzing)

	res, err := call(ctx, task, analyze)
	task.RawText = res.RawText
	if err != nil {
		d.fail(task, err)
		return
	}

	task.Result = res.Detections
	task.Insights = res.Insights
	d.transition(task, types.StatusCompleted)
}

func (d *Dispatcher) fail(task *types.ImageTask, err error) {
	task.Err = err
	task.Result = nil
	task.Insights = nil
	if d.logger != nil {
		d.logger.Printf("image %s (%s) failed: %v", task.ID, task.FileName, err)
	}
	d.transition(task, types.StatusError)
}

func (d *Dispatcher) transition(task *types.ImageTask, status types.Status) {
	task.Status = status
	for _, o := range d.observers {
		o.OnStatus(*task, status)
	}
}

// call keeps a panicking analyze from taking down sibling workers
func call(ctx context.Context, task *types.ImageTask, analyze AnalyzeFunc) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analyze panicked: %v", r)
		}
	}()
	return analyze(ctx, task)
}
