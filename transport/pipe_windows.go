//go:build windows

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
	"go.uber.org/zap"
)

const DefaultPipeName = `\\.\pipe\hana-ipc`

type PipeConnector struct {
	name string
	opts options
}

func NewPipeConnector(name string, opts ...Option) *PipeConnector {
	if name == "" {
		name = DefaultPipeName
	}
	return &PipeConnector{name: name, opts: newOptions(opts)}
}

func (c *PipeConnector) Connect(ctx context.Context) (Transport, error) {
	return connectWithRetry(ctx, c.opts.log, "pipe://"+c.name, c.opts.maxAttempts, c.opts.retryDelay, func(ctx context.Context) (Transport, error) {
		dialCtx, cancel := context.WithTimeout(ctx, c.opts.dialTimeout)
		defer cancel()
		conn, err := winio.DialPipeContext(dialCtx, c.name)
		if err != nil {
			return nil, ioError("dialing named pipe", err)
		}
		return newConnTransport("pipe", conn), nil
	})
}

type PipeListener struct {
	l    net.Listener
	name string
	log  *zap.SugaredLogger
}

func ListenPipe(name string, opts ...Option) (*PipeListener, error) {
	if name == "" {
		name = DefaultPipeName
	}
	o := newOptions(opts)
	l, err := winio.ListenPipe(name, &winio.PipeConfig{})
	if err != nil {
		return nil, ioError(fmt.Sprintf("listening on named pipe %s", name), err)
	}
	o.log.Debugw("listening", "Kind", "pipe", "Addr", name)
	return &PipeListener{l: l, name: name, log: o.log}, nil
}

func (l *PipeListener) Accept(ctx context.Context) (Transport, error) {
	conn, err := acceptContext(ctx, l.l)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, ioError("accepting named pipe", err)
	}
	t := newConnTransport("pipe", conn)
	l.log.Debugw("accepted", "Transport", t.String())
	return t, nil
}

func (l *PipeListener) Addr() string { return l.name }

func (l *PipeListener) Close() error { return l.l.Close() }
