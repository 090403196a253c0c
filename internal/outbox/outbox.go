// Package outbox runs outbound side effects (accept presses, answers, journal
// writes) on one background worker in FIFO order. Callers enqueue and return
// immediately; a failed task is logged and never retried.
package outbox

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Task is one outbound action. Attrs are appended to its log lines.
type Task struct {
	Name  string
	Attrs []any
	Run   func(ctx context.Context) error
}

// Stats counts finished tasks.
type Stats struct {
	Delivered int64
	Failed    int64
	Dropped   int64
}

type Outbox struct {
	ctx    context.Context
	logger *slog.Logger

	mu     sync.Mutex
	queue  []Task
	closed bool
	notify chan struct{}
	done   chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Start launches the worker. Tasks run with ctx; once ctx is done the worker
// exits and pending tasks are dropped.
func Start(ctx context.Context, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Outbox{
		ctx:    ctx,
		logger: logger,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go o.run()
	return o
}

// Enqueue schedules t and reports whether it was accepted.
func (o *Outbox) Enqueue(t Task) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.dropped.Add(1)
		o.logger.Warn("outbox closed, dropping action", append([]any{"action", t.Name}, t.Attrs...)...)
		return false
	}
	o.queue = append(o.queue, t)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting tasks, lets the worker drain what is queued and waits
// for it to exit.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	select {
	case o.notify <- struct{}{}:
	default:
	}
	<-o.done
}

func (o *Outbox) Stats() Stats {
	return Stats{
		Delivered: o.delivered.Load(),
		Failed:    o.failed.Load(),
		Dropped:   o.dropped.Load(),
	}
}

func (o *Outbox) run() {
	defer close(o.done)
	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			closed := o.closed
			o.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-o.notify:
				continue
			case <-o.ctx.Done():
				o.abandon()
				return
			}
		}
		t := o.queue[0]
		o.queue[0] = Task{}
		o.queue = o.queue[1:]
		o.mu.Unlock()

		if o.ctx.Err() != nil {
			o.requeueFront(t)
			o.abandon()
			return
		}
		o.exec(t)
	}
}

func (o *Outbox) exec(t Task) {
	if err := t.Run(o.ctx); err != nil {
		o.failed.Add(1)
		o.logger.Error("outbound action failed", append([]any{"action", t.Name, "err", err}, t.Attrs...)...)
		return
	}
	o.delivered.Add(1)
	o.logger.Debug("outbound action delivered", append([]any{"action", t.Name}, t.Attrs...)...)
}

func (o *Outbox) requeueFront(t Task) {
	o.mu.Lock()
	o.queue = append([]Task{t}, o.queue...)
	o.mu.Unlock()
}

func (o *Outbox) abandon() {
	o.mu.Lock()
	o.closed = true
	n := len(o.queue)
	o.queue = nil
	o.mu.Unlock()
	if n > 0 {
		o.dropped.Add(int64(n))
		o.logger.Warn("outbox stopped with pending actions", "dropped", n)
	}
}
