package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codelab/fault"
	"github.com/isdmx/codelab/protocol"
)

// BusyPolicy decides what happens when the caller abandons an execution that
// is still running.
type BusyPolicy string

const (
	// BusyPolicyRestart cancels the abandoned run, tearing down whatever the
	// runtime uses to execute it, and frees the sandbox immediately.
	BusyPolicyRestart BusyPolicy = "restart"
	// BusyPolicyReject lets the abandoned run finish and rejects new requests
	// with fault.ErrBusy until it does. A run still going after the drain
	// timeout is cancelled as under BusyPolicyRestart.
	BusyPolicyReject BusyPolicy = "reject"
)

const (
	// DefaultQueueSize bounds the number of requests waiting for the runtime.
	DefaultQueueSize = 16
	// DefaultDrainTimeout bounds how long an abandoned run may keep the
	// sandbox busy under BusyPolicyReject.
	DefaultDrainTimeout = 30 * time.Second
)

// Worker hosts a Runtime behind the sandbox message protocol. It runs one
// request at a time in arrival order.
type Worker struct {
	logger       *zap.Logger
	runtime      Runtime
	policy       BusyPolicy
	drainTimeout time.Duration
	inbox        chan protocol.Request
	out          chan protocol.Message

	mu        sync.Mutex
	state     State
	started   bool
	closed    bool
	current   *job
	queued    map[string]struct{}
	abandoned map[string]struct{}
	draining  bool

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// errWorkerStopped is the cancellation cause of every run still in flight
// when the worker closes.
var errWorkerStopped = errors.New("worker stopped")

// workerStopping reports whether ctx ended because its worker is closing,
// as opposed to the run being abandoned.
func workerStopping(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errWorkerStopped)
}

type job struct {
	id     string
	cancel context.CancelFunc
	drain  *time.Timer
}

// WorkerOption defines a functional option for Worker
type WorkerOption func(*workerOptions)

type workerOptions struct {
	policy       BusyPolicy
	queueSize    int
	drainTimeout time.Duration
}

// WithBusyPolicy sets how abandoned running executions are handled
func WithBusyPolicy(policy BusyPolicy) WorkerOption {
	return func(o *workerOptions) {
		o.policy = policy
	}
}

// WithQueueSize sets the inbox capacity
func WithQueueSize(size int) WorkerOption {
	return func(o *workerOptions) {
		if size > 0 {
			o.queueSize = size
		}
	}
}

// WithDrainTimeout sets how long an abandoned run may keep going under
// BusyPolicyReject before it is cancelled
func WithDrainTimeout(timeout time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if timeout > 0 {
			o.drainTimeout = timeout
		}
	}
}

// NewWorker creates a Worker around runtime. The runtime is owned by the
// worker and closed with it.
func NewWorker(logger *zap.Logger, runtime Runtime, opts ...WorkerOption) *Worker {
	o := workerOptions{policy: BusyPolicyRestart, queueSize: DefaultQueueSize, drainTimeout: DefaultDrainTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	return &Worker{
		logger:       logger.Named("worker"),
		runtime:      runtime,
		policy:       o.policy,
		drainTimeout: o.drainTimeout,
		inbox:        make(chan protocol.Request, o.queueSize),
		out:          make(chan protocol.Message, o.queueSize),
		state:        State{Phase: PhaseUninitialized},
		queued:       make(map[string]struct{}),
		abandoned:    make(map[string]struct{}),
		done:         make(chan struct{}),
	}
}

var _ Sandbox = (*Worker)(nil)

// Start begins initialization in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fault.ErrClosed
	}
	if w.started {
		return errors.New("worker already started")
	}
	w.started = true

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	w.cancel = func() { cancel(errWorkerStopped) }
	go w.run(runCtx)

	return nil
}

// Post queues req for execution.
func (w *Worker) Post(req protocol.Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.state.Phase == PhaseErrored {
		return fault.ErrUnavailable
	}
	if w.draining {
		return fault.ErrBusy
	}

	select {
	case w.inbox <- req:
		w.queued[req.ID] = struct{}{}
		return nil
	default:
		return fault.ErrBusy
	}
}

// Abandon handles a caller giving up on id according to the busy policy.
func (w *Worker) Abandon(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current != nil && w.current.id == id {
		switch w.policy {
		case BusyPolicyReject:
			w.logger.Warn("abandoned execution still running, rejecting new requests until it finishes",
				zap.String("id", id), zap.Duration("drain_timeout", w.drainTimeout))
			w.draining = true
			if w.current.drain == nil {
				cancel := w.current.cancel
				w.current.drain = time.AfterFunc(w.drainTimeout, func() {
					w.logger.Warn("abandoned execution exceeded drain timeout, cancelling it", zap.String("id", id))
					cancel()
				})
			}
		default:
			w.logger.Warn("abandoned execution still running, restarting runtime", zap.String("id", id))
			w.current.cancel()
		}
		return
	}

	if _, ok := w.queued[id]; ok {
		w.abandoned[id] = struct{}{}
	}
}

// Messages returns the outbound message stream. It is closed when the worker stops.
func (w *Worker) Messages() <-chan protocol.Message {
	return w.out
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Close stops the worker and tears down the runtime.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		started := w.started
		cancel := w.cancel
		w.mu.Unlock()

		if started {
			cancel()
			<-w.done
		} else {
			close(w.out)
		}

		if err := w.runtime.Close(); err != nil {
			w.closeErr = fmt.Errorf("failed to close runtime: %w", err)
		}
	})
	return w.closeErr
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.out)

	if err := w.initialize(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.fail(ctx, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.inbox:
			w.handle(ctx, req)
		}
	}
}

func (w *Worker) initialize(ctx context.Context) error {
	stages := []struct {
		stage protocol.Stage
		fn    func(context.Context) error
	}{
		{protocol.StageInit, w.runtime.Init},
		{protocol.StagePackages, w.runtime.LoadPackages},
		{protocol.StageReady, nil},
	}

	for _, s := range stages {
		w.setState(State{Phase: PhaseLoading, Stage: s.stage})
		w.emit(ctx, protocol.Loading(s.stage))

		if s.fn == nil {
			continue
		}
		start := time.Now()
		if err := w.safeCall(ctx, s.fn); err != nil {
			return fault.Initialization(fmt.Sprintf("%s stage failed", s.stage), err)
		}
		w.logger.Debug("initialization stage completed",
			zap.String("stage", string(s.stage)),
			zap.Duration("elapsed", time.Since(start)))
	}

	w.setState(State{Phase: PhaseReady})
	w.emit(ctx, protocol.Ready())
	w.logger.Info("sandbox ready")
	return nil
}

func (w *Worker) safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runtime panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (w *Worker) fail(ctx context.Context, err error) {
	w.logger.Error("sandbox initialization failed", zap.Error(err))
	w.setState(State{Phase: PhaseErrored, Err: err.Error()})
	w.emit(ctx, protocol.Fatal(err.Error()))
}

func (w *Worker) handle(ctx context.Context, req protocol.Request) {
	w.mu.Lock()
	delete(w.queued, req.ID)
	if _, skip := w.abandoned[req.ID]; skip {
		delete(w.abandoned, req.ID)
		w.mu.Unlock()
		w.logger.Debug("skipping abandoned request", zap.String("id", req.ID))
		w.emit(ctx, protocol.Result(req.ID, protocol.ExecutionResult{Error: protocol.ErrorAbandoned}))
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.current = &job{id: req.ID, cancel: cancel}
	w.mu.Unlock()

	res := w.execute(runCtx, req.Code)
	cancel()

	w.mu.Lock()
	if w.current.drain != nil {
		w.current.drain.Stop()
	}
	w.current = nil
	w.draining = false
	w.mu.Unlock()

	w.logger.Debug("execution finished",
		zap.String("id", req.ID),
		zap.Int64("elapsed_ms", res.ExecutionTimeMs),
		zap.Bool("failed", res.Failed()))
	w.emit(ctx, protocol.Result(req.ID, res))
}

// execute runs code and converts every outcome, including panics, into a result.
func (w *Worker) execute(ctx context.Context, code string) (res protocol.ExecutionResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("runtime panicked", zap.Any("panic", r))
			res = protocol.ExecutionResult{Error: fmt.Sprintf("sandbox panic: %v", r)}
		}
		res.ExecutionTimeMs = time.Since(start).Milliseconds()
	}()

	out, err := w.runtime.Run(ctx, code)
	res = protocol.ExecutionResult{Stdout: out.Stdout, Stderr: out.Stderr}

	switch {
	case ctx.Err() != nil:
		res.Error = protocol.ErrorAbandoned
	case err != nil:
		w.logger.Warn("runtime failed to execute code", zap.Error(fault.Execution("runtime failure", err)))
		res.Error = err.Error()
	default:
		res.Error = executionError(out)
	}
	return res
}

func (w *Worker) setState(next State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.CanTransition(next) {
		w.state = next
	}
}

func (w *Worker) emit(ctx context.Context, msg protocol.Message) {
	select {
	case w.out <- msg:
	case <-ctx.Done():
	}
}
