package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/guseggert/hana/process"
	"github.com/guseggert/hana/protocol"
	"github.com/guseggert/hana/transport"
	"github.com/guseggert/hana/worker"
	"go.uber.org/zap"
)

type entry struct {
	state State
	cause string
	gen   uint64
}

// Controller tracks the lifecycle state of every visualization id and issues commands for it.
// None of its methods block on I/O.
type Controller struct {
	log      *zap.SugaredLogger
	handlers *Handlers
	registry *Registry
	worker   *worker.Worker[Command, Outcome]

	transportFor    TransportFunc
	transportOpts   []transport.Option
	procOpts        []process.Option
	teardownTimeout time.Duration
	closeTimeout    time.Duration
	workerOpts      []worker.Option

	mut         sync.Mutex
	entries     map[ID]*entry
	nextGen     uint64
	subscribers []func(Event)
	closed      bool
}

type Option func(c *Controller)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Controller) {
		c.log = l.Named("lifecycle")
	}
}

// WithTransport chooses the transport per id. The default reads HANA_TRANSPORT and HANA_ADDR for every id.
func WithTransport(f TransportFunc) Option {
	return func(c *Controller) {
		c.transportFor = f
	}
}

// WithTransportConfig uses cfg for every id.
func WithTransportConfig(cfg transport.Config) Option {
	return WithTransport(func(ID) (transport.Config, error) { return cfg, nil })
}

func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Controller) {
		c.transportOpts = append(c.transportOpts, opts...)
	}
}

// WithProcessOptions adds options to every process the controller launches.
func WithProcessOptions(opts ...process.Option) Option {
	return func(c *Controller) {
		c.procOpts = append(c.procOpts, opts...)
	}
}

// WithTeardownTimeout bounds how long a replaced or broken visualization gets to exit before it is killed.
func WithTeardownTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.teardownTimeout = d
	}
}

// WithCloseTimeout bounds how long Close waits for each visualization to exit.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.closeTimeout = d
	}
}

func WithWorkerOptions(opts ...worker.Option) Option {
	return func(c *Controller) {
		c.workerOpts = append(c.workerOpts, opts...)
	}
}

func New(opts ...Option) *Controller {
	c := &Controller{
		log:      zap.NewNop().Sugar(),
		registry: NewRegistry(),
		transportFor: func(ID) (transport.Config, error) {
			return transport.ConfigFromEnv()
		},
		teardownTimeout: 2 * time.Second,
		closeTimeout:    5 * time.Second,
		entries:         map[ID]*entry{},
	}
	for _, o := range opts {
		o(c)
	}

	c.handlers = NewHandlers(c.log, c.registry, c.transportFor)
	c.handlers.teardownTimeout = c.teardownTimeout
	c.handlers.transportOpts = append(c.handlers.transportOpts, c.transportOpts...)
	c.handlers.procOpts = append(c.handlers.procOpts, c.procOpts...)

	c.worker = worker.New(c.handlers.Handle, append([]worker.Option{worker.WithLogger(c.log)}, c.workerOpts...)...)
	return c
}

func (c *Controller) entry(id ID) *entry {
	e, ok := c.entries[id]
	if !ok {
		e = &entry{state: Unstarted}
		c.entries[id] = e
	}
	return e
}

// State returns the current state of id and, for Disconnected, its cause.
func (c *Controller) State(id ID) (State, string) {
	c.mut.Lock()
	defer c.mut.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return Unstarted, ""
	}
	return e.state, e.cause
}

// Subscribe registers f to be called, from Update, for every event.
func (c *Controller) Subscribe(f func(Event)) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.subscribers = append(c.subscribers, f)
}

func (c *Controller) send(cmd Command) error {
	if c.closed {
		return worker.ErrChannelClosed
	}
	if err := c.worker.Send(cmd); err != nil {
		return fmt.Errorf("queueing command for %s: %w", cmd.Target(), err)
	}
	return nil
}

// transition must be called with mut held. It returns the event to publish.
func (c *Controller) transition(id ID, e *entry, to State, cause string) Event {
	ev := Event{ID: id, From: e.state, To: to, Cause: cause}
	e.state = to
	e.cause = ""
	if to == Disconnected {
		e.cause = cause
	}
	c.log.Infow("state changed", "ID", id, "From", ev.From, "To", to, "Cause", cause)
	return ev
}

// Start launches the executable at path for id. It is allowed in every state; a live visualization for id is torn down first.
func (c *Controller) Start(id ID, path string, envFilter string) error {
	c.mut.Lock()
	e := c.entry(id)
	c.nextGen++
	gen := c.nextGen
	if err := c.send(Start{ID: id, Gen: gen, Path: path, EnvFilter: envFilter}); err != nil {
		c.mut.Unlock()
		return err
	}
	e.gen = gen
	if e.state == Starting {
		// the newer generation supersedes the pending one without a state change
		c.log.Debugw("restarting", "ID", id, "Gen", gen)
		c.mut.Unlock()
		return nil
	}
	ev := c.transition(id, e, Starting, "")
	subs := c.subscribers
	c.mut.Unlock()

	publish(subs, []Event{ev})
	return nil
}

// SendInstruction delivers instr to a Connected visualization.
func (c *Controller) SendInstruction(id ID, instr protocol.Instruction) error {
	if instr == nil {
		return errors.New("nil instruction")
	}
	c.mut.Lock()
	defer c.mut.Unlock()
	e, err := c.require(id, Connected)
	if err != nil {
		return fmt.Errorf("sending %s: %w", instr.Kind(), err)
	}
	return c.send(SendInstruction{ID: id, Gen: e.gen, Instruction: instr})
}

// Shutdown asks a Connected visualization to exit, killing it if it has not exited within timeout.
func (c *Controller) Shutdown(id ID, timeout time.Duration) error {
	c.mut.Lock()
	e, err := c.require(id, Connected)
	if err != nil {
		c.mut.Unlock()
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := c.send(Shutdown{ID: id, Gen: e.gen, Timeout: timeout}); err != nil {
		c.mut.Unlock()
		return err
	}
	ev := c.transition(id, e, ShuttingDown, "")
	subs := c.subscribers
	c.mut.Unlock()

	publish(subs, []Event{ev})
	return nil
}

// require must be called with mut held.
func (c *Controller) require(id ID, want State) (*entry, error) {
	e, ok := c.entries[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNoActiveVisualization)
	}
	switch {
	case e.state == want:
		return e, nil
	case e.state == Unstarted || e.state == Disconnected:
		return nil, fmt.Errorf("%s is %s: %w", id, e.state, ErrNoActiveVisualization)
	default:
		return nil, fmt.Errorf("%s is %s, not %s: %w", id, e.state, want, ErrInvalidState)
	}
}

// Update applies every outcome that has arrived since the last call, in the order they were emitted,
// and returns the resulting events. Call it once per tick.
func (c *Controller) Update() []Event {
	var events []Event
	c.mut.Lock()
	for {
		o, ok := c.worker.TryReceive()
		if !ok {
			break
		}
		if ev, ok := c.apply(o); ok {
			events = append(events, ev)
		}
	}
	subs := c.subscribers
	c.mut.Unlock()

	publish(subs, events)
	return events
}

// apply must be called with mut held.
func (c *Controller) apply(o Outcome) (Event, bool) {
	id := o.Target()
	e, ok := c.entries[id]
	if !ok || o.Generation() != e.gen {
		c.log.Debugw("ignoring stale outcome", "ID", id, "Gen", o.Generation(), "Outcome", fmt.Sprintf("%T", o))
		return Event{}, false
	}

	switch o := o.(type) {
	case Started:
		if e.state == Starting {
			return c.transition(id, e, Connected, ""), true
		}
	case InstructionSent:
		if e.state == Connected {
			return Event{ID: id, From: Connected, To: Connected, Instruction: o.Instruction}, true
		}
	case InstructionDropped:
		c.log.Warnw("instruction dropped", "ID", id, "Instruction", o.Instruction.Kind(), "State", e.state, "Error", o.Err)
		return Event{}, false
	case ShutdownDone:
		if e.state == ShuttingDown {
			cause := "shut down"
			if o.Forced {
				cause = "killed after not responding to shutdown"
			}
			return c.transition(id, e, Unstarted, cause), true
		}
	case Failed:
		switch e.state {
		case Starting, Connected, ShuttingDown:
			return c.transition(id, e, Disconnected, o.Err.Error()), true
		}
	}
	c.log.Debugw("outcome does not apply to current state", "ID", id, "State", e.state, "Outcome", fmt.Sprintf("%T", o))
	return Event{}, false
}

func publish(subs []func(Event), events []Event) {
	for _, ev := range events {
		for _, f := range subs {
			f(ev)
		}
	}
}

// Live reports how many visualizations currently have a running process and an open connection.
func (c *Controller) Live() int { return c.registry.Len() }

// Close shuts down every visualization and stops the worker. Later commands fail with worker.ErrChannelClosed.
func (c *Controller) Close() {
	c.mut.Lock()
	if c.closed {
		c.mut.Unlock()
		return
	}
	c.closed = true
	c.mut.Unlock()

	c.handlers.shutdownAll(c.closeTimeout)
	c.worker.Close()
	// anything a Start handler registered after the first pass
	c.handlers.shutdownAll(0)
}
