package protocol

import (
	"errors"
	"fmt"
	"sync"

	"github.com/guseggert/hana/transport"
	"go.uber.org/zap"
)

// ErrNotPermitted is returned when a role sends or receives a kind it has no capability for.
var ErrNotPermitted = errors.New("operation not permitted for role")

// ControllerEndpoint is the controller's side of a connection. It can only send.
type ControllerEndpoint interface {
	Send(m Message) error
	Close() error
	String() string
}

// VisualizationEndpoint is the visualization's side of a connection. It can only receive.
type VisualizationEndpoint interface {
	Receive() (Message, error)
	Close() error
	String() string
}

type Option func(e *Endpoint)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Endpoint) {
		e.log = l.Named("endpoint")
	}
}

// Endpoint binds one transport to one role.
// Send and Receive may be called from different goroutines; concurrent Sends never interleave frames.
type Endpoint struct {
	t    transport.Transport
	role Role
	log  *zap.SugaredLogger

	writeMut  sync.Mutex
	readMut   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewEndpoint(t transport.Transport, role Role, opts ...Option) *Endpoint {
	e := &Endpoint{t: t, role: role, log: zap.NewNop().Sugar()}
	for _, o := range opts {
		o(e)
	}
	return e
}

func NewControllerEndpoint(t transport.Transport, opts ...Option) ControllerEndpoint {
	return NewEndpoint(t, ControllerRole, opts...)
}

func NewVisualizationEndpoint(t transport.Transport, opts ...Option) VisualizationEndpoint {
	return NewEndpoint(t, VisualizationRole, opts...)
}

func (e *Endpoint) Role() Role { return e.role }

func (e *Endpoint) String() string { return fmt.Sprintf("%s@%s", e.role, e.t) }

func (e *Endpoint) Send(m Message) error {
	if m == nil {
		return serializationError("nil message")
	}
	if !e.role.CanSend(m.Kind()) {
		return fmt.Errorf("%w: %s cannot send %s", ErrNotPermitted, e.role, m.Kind())
	}
	payload, err := Encode(m)
	if err != nil {
		return err
	}

	e.writeMut.Lock()
	defer e.writeMut.Unlock()
	if err := WriteFrame(e.t, payload); err != nil {
		return fmt.Errorf("sending %s over %s: %w", m.Kind(), e.t, err)
	}
	e.log.Debugw("sent", "Kind", m.Kind(), "Transport", e.t.String())
	return nil
}

// Receive blocks for the next message. It returns (nil, nil) once the peer has closed the stream cleanly.
func (e *Endpoint) Receive() (Message, error) {
	e.readMut.Lock()
	defer e.readMut.Unlock()

	payload, err := ReadFrame(e.t)
	if err != nil {
		return nil, fmt.Errorf("receiving over %s: %w", e.t, err)
	}
	if payload == nil {
		e.log.Debugw("peer closed", "Transport", e.t.String())
		return nil, nil
	}
	m, err := Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("receiving over %s: %w", e.t, err)
	}
	if !e.role.CanReceive(m.Kind()) {
		return nil, fmt.Errorf("%w: %s cannot receive %s", ErrNotPermitted, e.role, m.Kind())
	}
	e.log.Debugw("received", "Kind", m.Kind(), "Transport", e.t.String())
	return m, nil
}

// Close closes the underlying transport. It is safe to call more than once.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.t.Close()
	})
	return e.closeErr
}
