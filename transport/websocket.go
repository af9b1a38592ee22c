package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	connectPath = "/connect"
	// frames are up to 16 MiB plus the length prefix, and a single Write can carry one whole frame
	wsReadLimit = 32 << 20
)

// wsTransport is a WebSocket connection exposed as a byte stream of binary messages.
// A pump goroutine reads whole messages so control frames, including the peer's close, are answered even while nobody reads.
type wsTransport struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	desc   string

	pr      *io.PipeReader
	pw      *io.PipeWriter
	pumped  chan struct{}
	pumpErr error

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newWSTransport(ctx context.Context, c *websocket.Conn, id, remote string) *wsTransport {
	c.SetReadLimit(wsReadLimit)
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	t := &wsTransport{
		conn:   c,
		ctx:    ctx,
		cancel: cancel,
		desc:   fmt.Sprintf("ws(%s %s)", id, remote),
		pr:     pr,
		pw:     pw,
		pumped: make(chan struct{}),
		closed: make(chan struct{}),
	}
	go t.pump()
	return t
}

func (t *wsTransport) pump() {
	defer close(t.pumped)
	for {
		typ, data, err := t.conn.Read(t.ctx)
		if err != nil {
			t.pumpErr = err
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				err = io.EOF
			default:
				err = ioError("reading ws message", err)
			}
			t.pw.CloseWithError(err)
			return
		}
		if typ != websocket.MessageBinary {
			err := fmt.Errorf("unexpected ws message type %v", typ)
			t.pumpErr = err
			t.pw.CloseWithError(ioError("reading ws message", err))
			t.conn.Close(websocket.StatusUnsupportedData, "expected binary message")
			return
		}
		if _, err := t.pw.Write(data); err != nil {
			// reader closed
			return
		}
	}
}

func (t *wsTransport) Read(p []byte) (int, error) { return t.pr.Read(p) }

func (t *wsTransport) Write(p []byte) (int, error) {
	if err := t.conn.Write(t.ctx, websocket.MessageBinary, p); err != nil {
		return 0, ioError("writing ws message", err)
	}
	return len(p), nil
}

func (t *wsTransport) String() string { return t.desc }

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.pr.Close()
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.cancel()
		<-t.pumped
		// the peer already closed, so there is no handshake left to fail
		if websocket.CloseStatus(t.pumpErr) != -1 {
			err = nil
		}
		t.closeErr = err
		close(t.closed)
	})
	return t.closeErr
}

type WebSocketConnector struct {
	url  string
	opts options
}

// NewWebSocketConnector dials a WebSocketListener. target is either a ws:// or wss:// URL or a bare host:port.
func NewWebSocketConnector(target string, opts ...Option) *WebSocketConnector {
	return &WebSocketConnector{url: webSocketURL(target), opts: newOptions(opts)}
}

func webSocketURL(target string) string {
	if target == "" {
		target = DefaultTCPAddress
	}
	if strings.HasPrefix(target, "ws://") || strings.HasPrefix(target, "wss://") {
		return target
	}
	return "ws://" + target + connectPath
}

func (c *WebSocketConnector) Connect(ctx context.Context) (Transport, error) {
	return connectWithRetry(ctx, c.opts.log, c.url, c.opts.maxAttempts, c.opts.retryDelay, func(ctx context.Context) (Transport, error) {
		dialCtx, cancel := context.WithTimeout(ctx, c.opts.dialTimeout)
		defer cancel()
		c.opts.log.Debugw("dialing WebSocket", "URL", c.url)
		wsConn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
			CompressionMode: websocket.CompressionDisabled,
		})
		if err != nil {
			return nil, ioError("dialing WebSocket conn", err)
		}
		// the stream outlives the dial context
		return newWSTransport(context.Background(), wsConn, uuid.NewString(), c.url), nil
	})
}

// WebSocketListener serves an HTTP endpoint that upgrades GET /connect requests and hands each upgraded connection to Accept.
type WebSocketListener struct {
	log    *zap.SugaredLogger
	ln     net.Listener
	server *http.Server

	conns     chan *wsTransport
	closed    chan struct{}
	closeOnce sync.Once
	serveErr  chan error
}

func ListenWebSocket(addr string, opts ...Option) (*WebSocketListener, error) {
	if addr == "" {
		addr = DefaultTCPAddress
	}
	o := newOptions(opts)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, ioError(fmt.Sprintf("listening on ws %s", addr), err)
	}

	l := &WebSocketListener{
		log:      o.log,
		ln:       ln,
		conns:    make(chan *wsTransport),
		closed:   make(chan struct{}),
		serveErr: make(chan error, 1),
	}
	router := httprouter.New()
	router.GET(connectPath, l.connect)
	l.server = &http.Server{Handler: router}

	go func() {
		err := l.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		l.serveErr <- err
	}()

	o.log.Debugw("listening", "Kind", "ws", "Addr", ln.Addr().String())
	return l, nil
}

func (l *WebSocketListener) connect(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		l.log.Debugf("connect WebSocket accept error: %s", err)
		return
	}

	// the request context lives as long as this handler, so the handler stays until the transport is closed
	t := newWSTransport(r.Context(), wsConn, uuid.NewString(), r.RemoteAddr)
	l.log.Debugw("upgraded connection", "Transport", t.String())

	select {
	case l.conns <- t:
	case <-l.closed:
		t.Close()
		return
	case <-r.Context().Done():
		t.Close()
		return
	}

	select {
	case <-t.closed:
	case <-r.Context().Done():
	}
}

func (l *WebSocketListener) Accept(ctx context.Context) (Transport, error) {
	select {
	case t := <-l.conns:
		return t, nil
	case <-l.closed:
		return nil, ioError("accepting ws", ErrListenerClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *WebSocketListener) Addr() string { return l.ln.Addr().String() }

// URL is the address a WebSocketConnector should dial.
func (l *WebSocketListener) URL() string { return "ws://" + l.Addr() + connectPath }

func (l *WebSocketListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = multierr.Append(l.server.Close(), <-l.serveErr)
	})
	return err
}
