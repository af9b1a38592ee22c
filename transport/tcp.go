package transport

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
)

const DefaultTCPAddress = "127.0.0.1:3001"

type TCPConnector struct {
	addr string
	opts options
}

func NewTCPConnector(addr string, opts ...Option) *TCPConnector {
	if addr == "" {
		addr = DefaultTCPAddress
	}
	return &TCPConnector{addr: addr, opts: newOptions(opts)}
}

func (c *TCPConnector) Connect(ctx context.Context) (Transport, error) {
	return connectWithRetry(ctx, c.opts.log, "tcp://"+c.addr, c.opts.maxAttempts, c.opts.retryDelay, func(ctx context.Context) (Transport, error) {
		d := net.Dialer{Timeout: c.opts.dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			return nil, ioError("dialing tcp", err)
		}
		return newConnTransport("tcp", conn), nil
	})
}

type TCPListener struct {
	l   net.Listener
	log *zap.SugaredLogger
}

// ListenTCP binds addr. Use port 0 for an ephemeral port and read it back with Addr.
func ListenTCP(addr string, opts ...Option) (*TCPListener, error) {
	if addr == "" {
		addr = DefaultTCPAddress
	}
	o := newOptions(opts)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, ioError(fmt.Sprintf("listening on tcp %s", addr), err)
	}
	o.log.Debugw("listening", "Kind", "tcp", "Addr", l.Addr().String())
	return &TCPListener{l: l, log: o.log}, nil
}

func (l *TCPListener) Accept(ctx context.Context) (Transport, error) {
	conn, err := acceptContext(ctx, l.l)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, ioError("accepting tcp", err)
	}
	t := newConnTransport("tcp", conn)
	l.log.Debugw("accepted", "Transport", t.String())
	return t, nil
}

func (l *TCPListener) Addr() string { return l.l.Addr().String() }

func (l *TCPListener) Close() error { return l.l.Close() }
