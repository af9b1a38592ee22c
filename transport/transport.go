package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 15
	DefaultRetryDelay  = 200 * time.Millisecond
)

var (
	// ErrIo is wrapped by every dial, bind and accept failure.
	ErrIo = errors.New("io error")
	// ErrConnectionTimeout is matched by a *ConnectError once all connect attempts are used up.
	ErrConnectionTimeout = errors.New("connection timeout")
	// ErrUnsupported is returned when a transport kind is not available on this platform.
	ErrUnsupported = errors.New("transport not supported on this platform")
	// ErrListenerClosed is returned by Accept after the listener is closed.
	ErrListenerClosed = errors.New("listener closed")
)

// Transport is an exclusively owned, duplex byte stream.
type Transport interface {
	io.ReadWriteCloser
	// String describes the transport for diagnostics, e.g. "tcp(127.0.0.1:51234->127.0.0.1:3001)".
	String() string
}

// Connector establishes a Transport to a listening peer.
type Connector interface {
	Connect(ctx context.Context) (Transport, error)
}

// Listener accepts Transports from connecting peers.
type Listener interface {
	Accept(ctx context.Context) (Transport, error)
	Addr() string
	Close() error
}

// ConnectError is returned by a Connector after every attempt has failed.
// A connect stopped by its context returns the context error instead.
type ConnectError struct {
	Target   string
	Attempts int
	// Err is the error from the last attempt.
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s: gave up after %d attempts: %s", e.Target, e.Attempts, e.Err)
}

func (e *ConnectError) Is(target error) bool { return target == ErrConnectionTimeout }

func (e *ConnectError) Unwrap() error { return e.Err }

func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIo, op, err)
}

type options struct {
	log         *zap.SugaredLogger
	maxAttempts int
	retryDelay  time.Duration
	dialTimeout time.Duration
}

func newOptions(opts []Option) options {
	o := options{
		log:         zap.NewNop().Sugar(),
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		dialTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures connectors and listeners.
type Option func(o *options)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) {
		o.log = l.Named("transport")
	}
}

// WithMaxAttempts sets the number of dials a Connector makes before giving up. Values below 1 mean 1.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.maxAttempts = n
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		o.retryDelay = d
	}
}

// WithDialTimeout bounds a single dial attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}

// connTransport adapts a net.Conn to Transport.
type connTransport struct {
	net.Conn
	desc string
}

func newConnTransport(kind string, c net.Conn) *connTransport {
	return &connTransport{
		Conn: c,
		desc: fmt.Sprintf("%s(%s->%s)", kind, addrString(c.LocalAddr()), addrString(c.RemoteAddr())),
	}
}

func (c *connTransport) String() string { return c.desc }

func addrString(a net.Addr) string {
	if a == nil || a.String() == "" {
		return "?"
	}
	return a.String()
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// acceptContext runs l.Accept until it returns or ctx is done.
// Listeners with deadlines are interrupted in place; others leave a goroutine behind that closes whatever it eventually accepts.
func acceptContext(ctx context.Context, l net.Listener) (net.Conn, error) {
	if ctx.Done() == nil {
		return l.Accept()
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.Accept()
		ch <- result{conn: c, err: err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
	}

	if d, ok := l.(deadliner); ok {
		_ = d.SetDeadline(time.Now())
		r := <-ch
		_ = d.SetDeadline(time.Time{})
		if r.err == nil {
			// a peer raced the deadline, don't drop it
			return r.conn, nil
		}
		return nil, ctx.Err()
	}

	go func() {
		r := <-ch
		if r.conn != nil {
			r.conn.Close()
		}
	}()
	return nil, ctx.Err()
}
