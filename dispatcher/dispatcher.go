package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/codelab/fault"
	"github.com/isdmx/codelab/protocol"
	"github.com/isdmx/codelab/sandbox"
)

// DefaultTimeout is the per-call deadline when none is configured.
const DefaultTimeout = 30 * time.Second

// Result error texts produced by the dispatcher itself.
const (
	ErrorSandboxPrefix    = "Sandbox error: "
	ErrorRestarted        = "Sandbox restarted"
	errTerminatedSilently = "sandbox terminated unexpectedly"
)

// Dispatcher owns one sandbox at a time and multiplexes concurrent
// executions over it.
type Dispatcher struct {
	logger  *zap.Logger
	factory sandbox.Factory
	timeout time.Duration

	mu        sync.Mutex
	sb        sandbox.Sandbox
	gen       uint64
	state     sandbox.State
	pending   map[string]*pendingCall
	ready     chan struct{}
	readyDone bool
	closed    bool
}

// Option defines a functional option for Dispatcher
type Option func(*Dispatcher)

// WithTimeout sets the per-call deadline
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// New creates a Dispatcher. No sandbox exists until Start.
func New(logger *zap.Logger, factory sandbox.Factory, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:  logger.Named("dispatcher"),
		factory: factory,
		timeout: DefaultTimeout,
		state:   sandbox.State{Phase: sandbox.PhaseUninitialized},
		pending: make(map[string]*pendingCall),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Start builds the sandbox and begins its initialization.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fault.ErrClosed
	}
	if d.sb != nil {
		return errors.New("dispatcher already started")
	}
	return d.launchLocked(ctx)
}

// Execute runs code in the sandbox. It never returns an error: every
// failure is reported through ExecutionResult.Error.
func (d *Dispatcher) Execute(ctx context.Context, code string) protocol.ExecutionResult {
	start := time.Now()

	d.mu.Lock()
	if text, unavailable := d.unavailableLocked(); unavailable {
		d.mu.Unlock()
		return failure(text, start)
	}
	id := uuid.NewString()
	call := newPendingCall()
	d.pending[id] = call
	sb := d.sb
	d.mu.Unlock()

	if err := sb.Post(protocol.Request{ID: id, Code: code}); err != nil {
		if d.remove(id) {
			d.logger.Debug("sandbox rejected request", zap.String("id", id), zap.Error(err))
			return failure(sandbox.ErrorText(err), start)
		}
		return call.wait()
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case res := <-call.ch:
		return res
	case <-timer.C:
		if d.remove(id) {
			d.logger.Warn("execution timed out", zap.String("id", id), zap.Duration("timeout", d.timeout))
			sb.Abandon(id)
			return failure(protocol.ErrorTimeout, start)
		}
		return call.wait()
	case <-ctx.Done():
		if d.remove(id) {
			d.logger.Debug("execution canceled by caller", zap.String("id", id))
			sb.Abandon(id)
			return failure(protocol.ErrorCanceled, start)
		}
		return call.wait()
	}
}

// Reinitialize discards the current sandbox, settling its outstanding calls,
// and starts a fresh one.
func (d *Dispatcher) Reinitialize(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fault.ErrClosed
	}
	old := d.sb
	d.flushLocked(ErrorRestarted)
	d.signalReadyLocked()
	err := d.launchLocked(ctx)
	d.mu.Unlock()

	d.logger.Info("sandbox reinitialized")
	if old != nil {
		if closeErr := old.Close(); closeErr != nil {
			d.logger.Warn("failed to close previous sandbox", zap.Error(closeErr))
		}
	}
	return err
}

// WaitReady blocks until the sandbox is ready, has failed or ctx ends.
func (d *Dispatcher) WaitReady(ctx context.Context) error {
	d.mu.Lock()
	ready := d.ready
	d.mu.Unlock()

	if ready == nil {
		return fault.ErrUnavailable
	}

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if text, unavailable := d.unavailableLocked(); unavailable {
		return fmt.Errorf("%w: %s", fault.ErrUnavailable, text)
	}
	return nil
}

// State returns the lifecycle state of the current sandbox.
func (d *Dispatcher) State() sandbox.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Pending returns the number of calls waiting for a result.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close settles outstanding calls and tears the sandbox down.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.flushLocked(protocol.ErrorClosed)
	d.signalReadyLocked()
	sb := d.sb
	d.mu.Unlock()

	if sb == nil {
		return nil
	}
	if err := sb.Close(); err != nil {
		return fmt.Errorf("failed to close sandbox: %w", err)
	}
	return nil
}

func (d *Dispatcher) launchLocked(ctx context.Context) error {
	d.gen++
	gen := d.gen
	d.state = sandbox.State{Phase: sandbox.PhaseUninitialized}
	d.ready = make(chan struct{})
	d.readyDone = false

	sb, err := d.factory()
	if err != nil {
		d.sb = nil
		d.failLocked(err.Error())
		return fault.Initialization("failed to create sandbox", err)
	}
	d.sb = sb

	if err := sb.Start(ctx); err != nil {
		d.failLocked(err.Error())
		return fault.Initialization("failed to start sandbox", err)
	}

	go d.listen(gen, sb)
	return nil
}

func (d *Dispatcher) listen(gen uint64, sb sandbox.Sandbox) {
	for msg := range sb.Messages() {
		d.handle(gen, msg)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if gen == d.gen && !d.closed && d.state.Phase != sandbox.PhaseErrored {
		d.failLocked(errTerminatedSilently)
	}
}

func (d *Dispatcher) handle(gen uint64, msg protocol.Message) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		d.logger.Debug("ignoring message from previous sandbox", zap.String("type", string(msg.Type)))
		return
	}

	switch msg.Type {
	case protocol.TypeLoading:
		d.transitionLocked(sandbox.State{Phase: sandbox.PhaseLoading, Stage: msg.Stage})
		d.mu.Unlock()
		d.logger.Debug("sandbox loading", zap.String("stage", string(msg.Stage)))
	case protocol.TypeReady:
		d.transitionLocked(sandbox.State{Phase: sandbox.PhaseReady})
		d.signalReadyLocked()
		d.mu.Unlock()
	case protocol.TypeError:
		d.failLocked(msg.Error)
		d.mu.Unlock()
	case protocol.TypeResult:
		call, ok := d.pending[msg.ID]
		delete(d.pending, msg.ID)
		d.mu.Unlock()
		if !ok {
			d.logger.Debug("ignoring result for unknown or settled call", zap.String("id", msg.ID))
			return
		}
		call.settle(msg.Result())
	default:
		d.mu.Unlock()
		d.logger.Warn("ignoring unexpected message", zap.Error(fault.Protocol("unexpected message type "+string(msg.Type), nil)))
	}
}

// unavailableLocked reports whether new calls must fail fast and with which text.
func (d *Dispatcher) unavailableLocked() (string, bool) {
	switch {
	case d.closed:
		return protocol.ErrorUnavailable, true
	case d.state.Phase == sandbox.PhaseErrored:
		return protocol.ErrorUnavailable + ": " + d.state.Err, true
	case d.sb == nil:
		return protocol.ErrorUnavailable, true
	default:
		return "", false
	}
}

func (d *Dispatcher) transitionLocked(next sandbox.State) {
	if d.state.CanTransition(next) {
		d.state = next
	}
}

// failLocked marks the sandbox errored and settles every pending call.
func (d *Dispatcher) failLocked(reason string) {
	if d.state.Phase != sandbox.PhaseErrored {
		d.logger.Error("sandbox failed", zap.Error(fault.Initialization(reason, nil)), zap.Int("pending", len(d.pending)))
	}
	d.state = sandbox.State{Phase: sandbox.PhaseErrored, Err: reason}
	d.flushLocked(ErrorSandboxPrefix + reason)
	d.signalReadyLocked()
}

func (d *Dispatcher) flushLocked(text string) {
	for id, call := range d.pending {
		call.settle(failure(text, call.start))
		delete(d.pending, id)
	}
}

func (d *Dispatcher) signalReadyLocked() {
	if d.ready != nil && !d.readyDone {
		close(d.ready)
		d.readyDone = true
	}
}

// remove deletes id from the registry and reports whether the caller won the
// right to settle it.
func (d *Dispatcher) remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[id]; !ok {
		return false
	}
	delete(d.pending, id)
	return true
}

func failure(text string, start time.Time) protocol.ExecutionResult {
	return protocol.ExecutionResult{Error: text, ExecutionTimeMs: time.Since(start).Milliseconds()}
}
