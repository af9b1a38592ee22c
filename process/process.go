// Package process launches visualization processes and guarantees they terminate.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EnvLog carries the log filter into the child's environment.
const EnvLog = "HANA_LOG"

// ErrNotResponding is returned by EnsureShutdown when the process had to be killed.
var ErrNotResponding = errors.New("process not responding")

type options struct {
	args     []string
	env      []string
	stdout   io.Writer
	stderr   io.Writer
	log      *zap.SugaredLogger
	killWait time.Duration
}

type Option func(o *options)

func WithArgs(args ...string) Option {
	return func(o *options) {
		o.args = append(o.args, args...)
	}
}

// WithEnv adds KEY=VALUE entries to the child's environment on top of the parent's.
func WithEnv(env ...string) Option {
	return func(o *options) {
		o.env = append(o.env, env...)
	}
}

func WithStdout(w io.Writer) Option {
	return func(o *options) {
		o.stdout = w
	}
}

func WithStderr(w io.Writer) Option {
	return func(o *options) {
		o.stderr = w
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) {
		o.log = l.Named("process")
	}
}

// WithKillWait sets how long EnsureShutdown waits for a killed process to be reaped.
func WithKillWait(d time.Duration) Option {
	return func(o *options) {
		o.killWait = d
	}
}

// state is everything the background goroutines touch, kept apart from Process so that
// an abandoned *Process can still be garbage collected and finalized.
type state struct {
	cmd      *exec.Cmd
	path     string
	log      *zap.SugaredLogger
	killWait time.Duration

	exited   chan struct{}
	exitCode int
	waitErr  error

	killOnce sync.Once
	killErr  error
}

// Process is a running child process.
type Process struct {
	s *state
}

// Run starts the executable at path with HANA_LOG set to envFilter.
// Cancelling ctx kills the process.
func Run(ctx context.Context, path string, envFilter string, opts ...Option) (*Process, error) {
	o := options{
		log:      zap.NewNop().Sugar(),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		killWait: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	cmd := exec.Command(path, o.args...)
	cmd.Env = append(os.Environ(), o.env...)
	cmd.Env = append(cmd.Env, EnvLog+"="+envFilter)
	cmd.Stdout = o.stdout
	cmd.Stderr = o.stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", path, err)
	}

	s := &state{
		cmd:      cmd,
		path:     path,
		log:      o.log.With("Path", path, "PID", cmd.Process.Pid),
		killWait: o.killWait,
		exited:   make(chan struct{}),
		exitCode: -1,
	}
	s.log.Debugw("started process", "Args", o.args, "EnvFilter", envFilter)

	go s.reap()

	// kill the process if the context is canceled
	go func() {
		select {
		case <-ctx.Done():
			s.log.Debugw("context done, killing process", "Error", ctx.Err())
			_ = s.kill()
		case <-s.exited:
		}
	}()

	p := &Process{s: s}
	runtime.SetFinalizer(p, func(p *Process) {
		if p.s.running() {
			p.s.log.Warnw("process handle dropped while still running, killing")
			_ = p.s.kill()
		}
	})
	return p, nil
}

func (s *state) reap() {
	err := s.cmd.Wait()
	if s.cmd.ProcessState != nil {
		s.exitCode = s.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		s.waitErr = err
	}
	s.log.Debugw("process exited", "ExitCode", s.exitCode, "Error", err)
	close(s.exited)
}

func (s *state) running() bool {
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

func (s *state) kill() error {
	s.killOnce.Do(func() {
		if !s.running() {
			return
		}
		s.killErr = killProcess(s.cmd.Process)
	})
	return s.killErr
}

func (p *Process) Pid() int { return p.s.cmd.Process.Pid }

func (p *Process) String() string {
	return fmt.Sprintf("%s (pid %d)", p.s.path, p.Pid())
}

// Exited is closed once the process has exited and been reaped.
func (p *Process) Exited() <-chan struct{} { return p.s.exited }

func (p *Process) IsRunning() bool { return p.s.running() }

// ExitCode is the exit status once Exited is closed, and -1 before that or when the process was killed by a signal.
func (p *Process) ExitCode() int {
	if p.s.running() {
		return -1
	}
	return p.s.exitCode
}

// WaitErr reports a failure to wait on the process, which is distinct from a non-zero exit.
func (p *Process) WaitErr() error {
	if p.s.running() {
		return nil
	}
	return p.s.waitErr
}

// Kill forcibly terminates the process. Calling it more than once, or after exit, is harmless.
func (p *Process) Kill() error {
	defer runtime.KeepAlive(p)
	return p.s.kill()
}

// EnsureShutdown waits up to timeout for the process to exit on its own.
// If it does not, the process is killed and the returned error wraps ErrNotResponding.
// Either way the process has exited when EnsureShutdown returns, unless the kill itself could not be confirmed.
func (p *Process) EnsureShutdown(timeout time.Duration) error {
	defer runtime.KeepAlive(p)
	s := p.s

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.exited:
		s.log.Debugw("process shut down", "ExitCode", s.exitCode)
		return nil
	case <-t.C:
	}

	s.log.Warnw("process did not exit in time, killing", "Timeout", timeout)
	err := fmt.Errorf("%w: %s still running after %s", ErrNotResponding, p, timeout)
	if killErr := s.kill(); killErr != nil {
		err = multierr.Append(err, fmt.Errorf("killing %s: %w", p, killErr))
	}

	confirm := time.NewTimer(s.killWait)
	defer confirm.Stop()
	select {
	case <-s.exited:
	case <-confirm.C:
		err = multierr.Append(err, fmt.Errorf("%s still running %s after kill", p, s.killWait))
	}
	return err
}
