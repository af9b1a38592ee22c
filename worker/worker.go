// Package worker bridges a synchronous caller to concurrent command handlers.
//
// A caller that must never block, such as a frame loop, hands commands to Send and collects
// outcomes with TryReceive. Each command runs in its own goroutine so a slow command does not
// hold up the ones behind it.
package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrChannelClosed is returned by Send once the worker has been closed.
var ErrChannelClosed = errors.New("worker channel closed")

// Emit delivers an outcome to the synchronous side. It never blocks and stays usable until the worker is closed.
type Emit[O any] func(O)

// Handler processes one command. It may emit any number of outcomes, and may hand emit to goroutines it starts.
// ctx is cancelled when the worker is closed.
type Handler[C, O any] func(ctx context.Context, cmd C, emit Emit[O])

type options struct {
	log         *zap.SugaredLogger
	maxInFlight int
}

type Option func(o *options)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) {
		o.log = l.Named("worker")
	}
}

// WithMaxInFlight bounds how many handlers run at once. Zero means unbounded.
func WithMaxInFlight(n int) Option {
	return func(o *options) {
		o.maxInFlight = n
	}
}

type Worker[C, O any] struct {
	handler Handler[C, O]
	log     *zap.SugaredLogger

	inbound  *queue[C]
	outbound *queue[O]

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	dispatchDone chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
}

// New starts a worker running handler for every command sent to it.
func New[C, O any](handler Handler[C, O], opts ...Option) *Worker[C, O] {
	o := options{log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker[C, O]{
		handler:      handler,
		log:          o.log,
		inbound:      newQueue[C](),
		outbound:     newQueue[O](),
		ctx:          ctx,
		cancel:       cancel,
		dispatchDone: make(chan struct{}),
		done:         make(chan struct{}),
	}
	if o.maxInFlight > 0 {
		w.group.SetLimit(o.maxInFlight)
	}
	go w.dispatch()
	return w
}

func (w *Worker[C, O]) dispatch() {
	defer close(w.dispatchDone)
	for {
		cmd, ok := w.inbound.pop()
		if !ok {
			select {
			case <-w.inbound.ready:
				continue
			case <-w.ctx.Done():
				return
			}
		}
		if w.ctx.Err() != nil {
			return
		}
		// blocks while the in-flight limit is reached
		w.group.Go(func() error {
			w.handler(w.ctx, cmd, w.emit)
			return nil
		})
	}
}

func (w *Worker[C, O]) emit(o O) {
	w.outbound.push(o)
}

// Send queues cmd without blocking.
func (w *Worker[C, O]) Send(cmd C) error {
	if !w.inbound.push(cmd) {
		return ErrChannelClosed
	}
	return nil
}

// TryReceive returns the oldest undelivered outcome, if any. It never blocks.
func (w *Worker[C, O]) TryReceive() (O, bool) {
	return w.outbound.pop()
}

// Pending reports how many outcomes are waiting for TryReceive.
func (w *Worker[C, O]) Pending() int {
	return w.outbound.len()
}

// Done is closed once Close has finished.
func (w *Worker[C, O]) Done() <-chan struct{} { return w.done }

// Close stops accepting commands, cancels running handlers and waits for them to return.
// Commands still queued are dropped. Outcomes already emitted remain available to TryReceive.
func (w *Worker[C, O]) Close() {
	w.closeOnce.Do(func() {
		w.inbound.close()
		w.cancel()
		<-w.dispatchDone
		_ = w.group.Wait()
		if n := w.inbound.len(); n > 0 {
			w.log.Debugw("dropped queued commands on close", "Count", n)
		}
		close(w.done)
	})
	<-w.done
}
