package notify

import (
	"context"
	"sync"

	"negotiatex/pkg/logger"
)

// Sink receives notifications. Implementations may be slow or fail; callers
// go through a Dispatcher so neither reaches the workflow.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogSink writes each notification to the structured log.
type LogSink struct{}

func (LogSink) Notify(ctx context.Context, n Notification) error {
	logger.Info(ctx, "notification", "recipient_role", n.Role, "session_id", n.SessionID, "message", n.Message)
	return nil
}

// Fanout delivers to every sink and returns the first error.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var first error
	for _, s := range f {
		if err := s.Notify(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Dispatcher queues notifications for a background worker. Dispatch never
// blocks; when the queue is full the notification is dropped and logged.
type Dispatcher struct {
	sink  Sink
	queue chan Notification
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sink Sink, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		sink:  sink,
		queue: make(chan Notification, queueSize),
		done:  make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled or Close is called.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case n, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, n)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "notification sink panicked", "component", "notify", "recipient_role", n.Role, "panic", r)
		}
	}()
	if err := d.sink.Notify(context.WithoutCancel(ctx), n); err != nil {
		logger.Warn(ctx, "notification delivery failed", "component", "notify", "recipient_role", n.Role, "error", err)
	}
}

// Dispatch enqueues n and reports whether it was accepted.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) Ack {
	ack := Ack{Role: n.Role, Message: n.Message}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		logger.Warn(ctx, "notification dispatcher closed, dropping", "component", "notify", "recipient_role", n.Role)
		return ack
	}
	select {
	case d.queue <- n:
		ack.Accepted = true
	default:
		logger.Warn(ctx, "notification queue full, dropping", "component", "notify", "recipient_role", n.Role, "session_id", n.SessionID)
	}
	return ack
}

// Close stops accepting work and waits for the worker to drain the queue.
// Run must have been started.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}
