//go:build !windows

package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DefaultUnixPath = "/tmp/hana-ipc.sock"

type UnixConnector struct {
	path string
	opts options
}

func NewUnixConnector(path string, opts ...Option) *UnixConnector {
	if path == "" {
		path = DefaultUnixPath
	}
	return &UnixConnector{path: path, opts: newOptions(opts)}
}

func (c *UnixConnector) Connect(ctx context.Context) (Transport, error) {
	return connectWithRetry(ctx, c.opts.log, "unix://"+c.path, c.opts.maxAttempts, c.opts.retryDelay, func(ctx context.Context) (Transport, error) {
		d := net.Dialer{Timeout: c.opts.dialTimeout}
		conn, err := d.DialContext(ctx, "unix", c.path)
		if err != nil {
			return nil, ioError("dialing unix socket", err)
		}
		return newConnTransport("unix", conn), nil
	})
}

type UnixListener struct {
	l    *net.UnixListener
	path string
	log  *zap.SugaredLogger
}

// ListenUnix binds a Unix domain socket at path.
// A socket file left behind by a dead process is removed first; a path with a live listener is refused.
func ListenUnix(path string, opts ...Option) (*UnixListener, error) {
	if path == "" {
		path = DefaultUnixPath
	}
	o := newOptions(opts)
	if err := removeStaleSocket(path, o.log); err != nil {
		return nil, err
	}
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, ioError(fmt.Sprintf("listening on unix socket %s", path), err)
	}
	// we remove the file ourselves in Close
	l.SetUnlinkOnClose(false)
	o.log.Debugw("listening", "Kind", "unix", "Addr", path)
	return &UnixListener{l: l, path: path, log: o.log}, nil
}

func removeStaleSocket(path string, log *zap.SugaredLogger) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return ioError("checking socket path", err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return ioError("checking socket path", fmt.Errorf("%s exists and is not a socket", path))
	}
	conn, err := net.DialTimeout("unix", path, 100*time.Millisecond)
	if err == nil {
		conn.Close()
		return ioError("checking socket path", fmt.Errorf("%s is in use by another listener", path))
	}
	log.Debugw("removing stale socket", "Path", path)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ioError("removing stale socket", err)
	}
	return nil
}

func (l *UnixListener) Accept(ctx context.Context) (Transport, error) {
	conn, err := acceptContext(ctx, l.l)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, ioError("accepting unix socket", err)
	}
	t := newConnTransport("unix", conn)
	l.log.Debugw("accepted", "Transport", t.String())
	return t, nil
}

func (l *UnixListener) Addr() string { return l.path }

func (l *UnixListener) Close() error {
	err := l.l.Close()
	if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		err = multierr.Append(err, rmErr)
	}
	return err
}
