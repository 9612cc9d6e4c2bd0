package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codelab/fault"
	"github.com/isdmx/codelab/protocol"
)

// remoteStopTimeout is how long Close waits for the worker process to exit
// after its stdin is closed before killing it.
const remoteStopTimeout = 5 * time.Second

// Remote is a Sandbox hosted by a separate worker process that speaks the
// message protocol as JSON lines over its stdin and stdout.
type Remote struct {
	logger *zap.Logger
	path   string
	args   []string
	env    []string

	out  chan protocol.Message
	done chan struct{}

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	enc     *protocol.Encoder
	started bool
	closed  bool
	dead    bool

	closeOnce sync.Once
}

// NewRemote creates a Remote that launches path with args. env nil inherits
// the host environment.
func NewRemote(logger *zap.Logger, path string, args, env []string) *Remote {
	return &Remote{
		logger: logger.Named("remote"),
		path:   path,
		args:   args,
		env:    env,
		out:    make(chan protocol.Message, DefaultQueueSize),
		done:   make(chan struct{}),
	}
}

var _ Sandbox = (*Remote)(nil)

// Start launches the worker process.
func (r *Remote) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fault.ErrClosed
	}
	if r.started {
		return errors.New("remote sandbox already started")
	}

	cmd := exec.Command(r.path, r.args...) //nolint:gosec // Worker binary comes from configuration
	cmd.Env = r.env
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fault.Initialization("failed to open worker stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fault.Initialization("failed to open worker stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return fault.Initialization("failed to start worker process", err)
	}

	r.cmd = cmd
	r.stdin = stdin
	r.enc = protocol.NewEncoder(stdin)
	r.started = true
	r.logger.Info("worker process started", zap.String("path", r.path), zap.Int("pid", cmd.Process.Pid))

	go r.readLoop(stdout)
	return nil
}

// Post sends an execute request to the worker process.
func (r *Remote) Post(req protocol.Request) error {
	r.mu.Lock()
	enc := r.enc
	unavailable := r.closed || r.dead || !r.started
	r.mu.Unlock()

	if unavailable {
		return fault.ErrUnavailable
	}
	if err := enc.Encode(protocol.Execute(req.ID, req.Code)); err != nil {
		r.logger.Warn("failed to send request to worker", zap.String("id", req.ID), zap.Error(err))
		return fault.ErrUnavailable
	}
	return nil
}

// Abandon forwards the abandonment to the worker process.
func (r *Remote) Abandon(id string) {
	r.mu.Lock()
	enc := r.enc
	skip := r.closed || r.dead || !r.started
	r.mu.Unlock()

	if skip {
		return
	}
	if err := enc.Encode(protocol.Abandon(id)); err != nil {
		r.logger.Debug("failed to send abandon to worker", zap.String("id", id), zap.Error(err))
	}
}

// Messages returns the messages received from the worker process.
func (r *Remote) Messages() <-chan protocol.Message {
	return r.out
}

// Close stops the worker process, killing it if it does not exit in time.
func (r *Remote) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		started := r.started
		stdin := r.stdin
		cmd := r.cmd
		r.mu.Unlock()

		if !started {
			close(r.out)
			return
		}

		_ = stdin.Close()
		select {
		case <-r.done:
		case <-time.After(remoteStopTimeout):
			r.logger.Warn("worker process did not exit, killing it", zap.Int("pid", cmd.Process.Pid))
			_ = cmd.Process.Kill()
			<-r.done
		}
	})
	return nil
}

func (r *Remote) readLoop(stdout io.Reader) {
	defer close(r.done)
	defer close(r.out)

	dec := protocol.NewDecoder(stdout)
	var readErr error
	for {
		msg, err := dec.Decode()
		if err != nil {
			if fault.Is(err, fault.KindProtocol) {
				r.logger.Warn("ignoring invalid message from worker", zap.Error(err))
				continue
			}
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
		r.out <- msg
	}

	if readErr != nil {
		// The worker may be blocked writing to the pipe nobody reads any more.
		r.logger.Warn("worker output unreadable, killing worker process", zap.Error(readErr))
		_ = r.cmd.Process.Kill()
	}
	waitErr := r.cmd.Wait()

	r.mu.Lock()
	r.dead = true
	closed := r.closed
	r.mu.Unlock()

	if closed {
		return
	}

	reason := "worker process exited"
	switch {
	case readErr != nil:
		reason = fmt.Sprintf("worker process killed: %v", readErr)
	case waitErr != nil:
		reason = fmt.Sprintf("%s: %v", reason, waitErr)
	}
	r.logger.Error("worker process terminated unexpectedly", zap.String("reason", reason))
	r.out <- protocol.Fatal(reason)
}
