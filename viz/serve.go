// Package viz is the visualization side of the protocol: wait for the controller, then act on its instructions until told to stop.
package viz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guseggert/hana/protocol"
	"github.com/guseggert/hana/transport"
	"go.uber.org/zap"
)

// ErrNoController is returned by Serve when nobody connected within the accept timeout.
var ErrNoController = errors.New("no controller connected")

// Handler is called for each instruction received, including Shutdown. A non-nil error ends Serve.
type Handler func(instr protocol.Instruction) error

type options struct {
	log            *zap.SugaredLogger
	acceptTimeout  time.Duration
	ignoreShutdown bool
}

type Option func(o *options)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) {
		o.log = l.Named("viz")
	}
}

// WithAcceptTimeout makes Serve give up with ErrNoController if no controller connects in time,
// so a visualization launched by hand can run standalone.
func WithAcceptTimeout(d time.Duration) Option {
	return func(o *options) {
		o.acceptTimeout = d
	}
}

// WithIgnoreShutdown keeps serving after a Shutdown instruction.
func WithIgnoreShutdown() Option {
	return func(o *options) {
		o.ignoreShutdown = true
	}
}

// Serve accepts one controller connection on l and dispatches its instructions to handler.
// It returns nil after a Shutdown instruction or when the controller closes the connection.
func Serve(ctx context.Context, l transport.Listener, handler Handler, opts ...Option) error {
	o := options{log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&o)
	}

	acceptCtx := ctx
	if o.acceptTimeout > 0 {
		var cancel context.CancelFunc
		acceptCtx, cancel = context.WithTimeout(ctx, o.acceptTimeout)
		defer cancel()
	}
	o.log.Debugw("waiting for controller", "Addr", l.Addr())
	t, err := l.Accept(acceptCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w within %s on %s", ErrNoController, o.acceptTimeout, l.Addr())
		}
		return fmt.Errorf("accepting controller: %w", err)
	}

	ep := protocol.NewVisualizationEndpoint(t, protocol.WithLogger(o.log))
	defer ep.Close()
	o.log.Infow("controller connected", "Endpoint", ep.String())

	// unblock Receive when ctx ends
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ep.Close()
		case <-done:
		}
	}()

	for {
		m, err := ep.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receiving instruction: %w", err)
		}
		if m == nil {
			o.log.Infow("controller closed the connection")
			return nil
		}
		instr, ok := m.(protocol.Instruction)
		if !ok {
			o.log.Debugw("ignoring non-instruction message", "Kind", m.Kind())
			continue
		}
		if err := handler(instr); err != nil {
			return fmt.Errorf("handling %s: %w", instr.Kind(), err)
		}
		if _, ok := instr.(protocol.Shutdown); ok {
			if o.ignoreShutdown {
				o.log.Warnw("ignoring shutdown instruction")
				continue
			}
			o.log.Infow("shutting down on request")
			return nil
		}
	}
}
