package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guseggert/hana/process"
	"github.com/guseggert/hana/protocol"
	"github.com/guseggert/hana/transport"
	"github.com/guseggert/hana/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TransportFunc picks the transport a visualization listens on. The child learns it through its environment.
type TransportFunc func(id ID) (transport.Config, error)

// Handlers runs commands against the registry. It is the worker.Handler behind a Controller.
type Handlers struct {
	log             *zap.SugaredLogger
	registry        *Registry
	transportFor    TransportFunc
	transportOpts   []transport.Option
	procOpts        []process.Option
	teardownTimeout time.Duration
}

func NewHandlers(log *zap.SugaredLogger, registry *Registry, transportFor TransportFunc) *Handlers {
	return &Handlers{
		log:             log,
		registry:        registry,
		transportFor:    transportFor,
		teardownTimeout: 2 * time.Second,
		transportOpts:   []transport.Option{transport.WithLogger(log)},
		procOpts:        []process.Option{process.WithLogger(log)},
	}
}

func (h *Handlers) Handle(ctx context.Context, cmd Command, emit worker.Emit[Outcome]) {
	switch c := cmd.(type) {
	case Start:
		h.start(ctx, c, emit)
	case SendInstruction:
		h.sendInstruction(c, emit)
	case Shutdown:
		h.shutdown(c, emit)
	default:
		h.log.Errorw("unknown command", "Command", fmt.Sprintf("%T", cmd))
	}
}

func (h *Handlers) start(ctx context.Context, c Start, emit worker.Emit[Outcome]) {
	log := h.log.With("ID", c.ID, "Gen", c.Gen)
	if !h.registry.begin(c.ID, c.Gen) {
		log.Debugw("superseded before starting")
		return
	}

	if old := h.registry.takeOlder(c.ID, c.Gen); old != nil {
		log.Debugw("replacing existing visualization", "OldGen", old.gen)
		if _, err := h.teardown(old, h.teardownTimeout); err != nil {
			log.Warnw("tearing down previous visualization", "Error", err)
		}
	}

	rec, err := h.launch(ctx, c)
	if err != nil {
		log.Debugw("start failed", "Error", err)
		emit(Failed{ID: c.ID, Gen: c.Gen, Err: err})
		return
	}
	if !h.registry.put(rec) {
		log.Debugw("superseded while starting, tearing down")
		if _, err := h.teardown(rec, h.teardownTimeout); err != nil {
			log.Debugw("tearing down superseded visualization", "Error", err)
		}
		return
	}

	log.Infow("visualization connected", "Process", rec.proc.String(), "Endpoint", rec.ep.String())
	emit(Started{ID: c.ID, Gen: c.Gen})
	go h.watchExit(ctx, rec, emit)
}

// launch runs the process and connects to it. On failure nothing is left running.
func (h *Handlers) launch(ctx context.Context, c Start) (*record, error) {
	cfg, err := h.transportFor(c.ID)
	if err != nil {
		return nil, fmt.Errorf("choosing transport: %w", err)
	}
	connector, err := cfg.Connector(h.transportOpts...)
	if err != nil {
		return nil, fmt.Errorf("building connector for %s: %w", cfg, err)
	}

	opts := append([]process.Option{process.WithEnv(cfg.Env()...)}, h.procOpts...)
	proc, err := process.Run(ctx, c.Path, c.EnvFilter, opts...)
	if err != nil {
		return nil, err
	}

	// stop retrying as soon as the child dies
	connCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-proc.Exited():
			cancel()
		case <-connCtx.Done():
		}
	}()
	t, err := connector.Connect(connCtx)
	cancel()
	if err != nil {
		if !proc.IsRunning() {
			err = fmt.Errorf("%s exited with code %d before accepting a connection: %w", proc, proc.ExitCode(), err)
		}
		if killErr := proc.EnsureShutdown(0); killErr != nil && !errors.Is(killErr, process.ErrNotResponding) {
			h.log.Warnw("killing unconnected process", "Process", proc.String(), "Error", killErr)
		}
		return nil, fmt.Errorf("connecting to %s: %w", cfg, err)
	}

	return &record{
		id:   c.ID,
		gen:  c.Gen,
		proc: proc,
		ep:   protocol.NewControllerEndpoint(t, protocol.WithLogger(h.log)),
	}, nil
}

// watchExit reports a visualization whose process exits while it is still registered.
func (h *Handlers) watchExit(ctx context.Context, rec *record, emit worker.Emit[Outcome]) {
	select {
	case <-rec.proc.Exited():
	case <-ctx.Done():
		return
	}
	if !h.registry.takeIf(rec) {
		return
	}
	rec.ep.Close()
	err := fmt.Errorf("%s exited unexpectedly with code %d", rec.proc, rec.proc.ExitCode())
	h.log.Infow("visualization exited", "ID", rec.id, "Gen", rec.gen, "ExitCode", rec.proc.ExitCode())
	emit(Failed{ID: rec.id, Gen: rec.gen, Err: err})
}

func (h *Handlers) sendInstruction(c SendInstruction, emit worker.Emit[Outcome]) {
	rec := h.registry.get(c.ID)
	if rec == nil || rec.gen != c.Gen {
		// already gone, whoever removed it reports why
		emit(InstructionDropped{ID: c.ID, Gen: c.Gen, Instruction: c.Instruction, Err: fmt.Errorf("sending %s to %s: %w", c.Instruction.Kind(), c.ID, ErrNoActiveVisualization)})
		return
	}

	// the endpoint serialises concurrent sends, so the record stays registered while sending
	if err := rec.ep.Send(c.Instruction); err != nil {
		if errors.Is(err, protocol.ErrNotPermitted) || errors.Is(err, protocol.ErrSerialization) {
			// nothing was written, the connection is still good
			emit(InstructionDropped{ID: c.ID, Gen: c.Gen, Instruction: c.Instruction, Err: err})
			return
		}
		if !h.registry.takeIf(rec) {
			// a concurrent shutdown or exit closed the connection under us
			emit(InstructionDropped{ID: c.ID, Gen: c.Gen, Instruction: c.Instruction, Err: err})
			return
		}
		if _, tdErr := h.teardown(rec, h.teardownTimeout); tdErr != nil {
			h.log.Debugw("tearing down disconnected visualization", "ID", c.ID, "Error", tdErr)
		}
		emit(Failed{ID: c.ID, Gen: c.Gen, Err: err})
		return
	}
	emit(InstructionSent{ID: c.ID, Gen: c.Gen, Instruction: c.Instruction})
}

func (h *Handlers) shutdown(c Shutdown, emit worker.Emit[Outcome]) {
	rec := h.registry.get(c.ID)
	if rec == nil || rec.gen != c.Gen || !h.registry.takeIf(rec) {
		emit(Failed{ID: c.ID, Gen: c.Gen, Err: fmt.Errorf("shutting down %s: %w", c.ID, ErrNoActiveVisualization)})
		return
	}

	forced, err := h.teardown(rec, c.Timeout)
	if err != nil && !forced {
		h.log.Warnw("shutting down visualization", "ID", c.ID, "Error", err)
	}
	emit(ShutdownDone{ID: c.ID, Gen: c.Gen, Forced: forced})
}

// teardown is the one way a registered visualization ends: ask it to exit, close the connection,
// then wait for the process and kill it if it does not go.
func (h *Handlers) teardown(rec *record, timeout time.Duration) (forced bool, err error) {
	log := h.log.With("ID", rec.id, "Gen", rec.gen)
	if sendErr := rec.ep.Send(protocol.Shutdown{}); sendErr != nil {
		log.Debugw("sending shutdown", "Error", sendErr)
	}
	if closeErr := rec.ep.Close(); closeErr != nil {
		log.Debugw("closing endpoint", "Error", closeErr)
	}
	err = rec.proc.EnsureShutdown(timeout)
	forced = errors.Is(err, process.ErrNotResponding)
	if forced {
		log.Warnw("visualization did not exit in time and was killed", "Timeout", timeout)
	}
	return forced, err
}

// shutdownAll tears down every registered visualization concurrently.
func (h *Handlers) shutdownAll(timeout time.Duration) {
	var g errgroup.Group
	for _, rec := range h.registry.takeAll() {
		rec := rec
		g.Go(func() error {
			_, err := h.teardown(rec, timeout)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		h.log.Debugw("shutting down visualizations", "Error", err)
	}
}
