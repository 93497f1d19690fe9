package instance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/scriptbox/scriptbox/internal/arena"
	"github.com/scriptbox/scriptbox/internal/errors"
	"github.com/scriptbox/scriptbox/internal/gate"
	"github.com/scriptbox/scriptbox/internal/logging"
)

// jobQueueCap bounds the loop's job channel. Producers (timers, bridge
// responses) block on a full queue until the loop catches up or the
// instance aborts.
const jobQueueCap = 64

// errLoopInterrupted is the interrupt value handed to the VM on abort.
// Script code that never yields gets this pulled through RunScript.
var errLoopInterrupted = errors.New("instance aborting")

// inboxMsg is one delivered mailbox message awaiting the script's
// handler.
type inboxMsg struct {
	from    string
	payload any
}

// stopEntry is one registered onStop callback.
type stopEntry struct {
	fn      goja.Callable
	fired   bool
	removed bool
}

// msgBinding is the current onMessage registration.
type msgBinding struct {
	handler goja.Callable
	unbind  func()
}

// Instance is one script running in its own VM. All exported methods
// are safe to call from any goroutine; the VM itself is touched only by
// the loop goroutine.
type Instance struct {
	id        string
	origin    Origin
	source    string
	startedAt time.Time

	logger *logging.Logger
	host   Host
	gate   *gate.Gate
	arena  *arena.Arena
	vm     *goja.Runtime

	jobs  chan func()
	wake  chan struct{}
	quit  chan struct{}
	done  chan struct{}
	ready chan struct{}

	state    atomic.Int32
	readyErr error

	reasonMu sync.Mutex
	reason   *AbortReason

	// Loop-goroutine state. The loop is the only reader and writer.
	stopCallbacks []*stopEntry
	binding       *msgBinding

	inboxMu sync.Mutex
	inbox   []inboxMsg
}

// New creates an instance, installs the sandbox surface into a fresh
// VM, starts the loop goroutine, and schedules the top-level code as
// the first job. Use WaitReady to observe the top-level outcome.
func New(id, source string, origin Origin, host Host, g *gate.Gate, opts ...Option) (*Instance, error) {
	cfg := &config{logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}
	if host == nil {
		return nil, errors.New("instance requires a host")
	}
	if g == nil {
		g = gate.New()
	}

	logger := cfg.logger.WithComponent("instance").WithCommand(id)

	i := &Instance{
		id:        id,
		origin:    origin,
		source:    source,
		startedAt: time.Now(),
		logger:    logger,
		host:      host,
		gate:      g,
		arena:     arena.New(logger),
		vm:        goja.New(),
		jobs:      make(chan func(), jobQueueCap),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
	}

	if err := i.installSandbox(); err != nil {
		return nil, errors.Wrap(err, "sandbox install failed")
	}

	go i.loop()
	i.post(i.runTopLevel)
	return i, nil
}

// ID returns the command id owning this instance.
func (i *Instance) ID() string { return i.id }

// Origin returns how the instance was started.
func (i *Instance) Origin() Origin { return i.origin }

// State returns the current lifecycle state.
func (i *Instance) State() State {
	return State(i.state.Load())
}

// Reason returns the abort reason, or nil while the instance runs.
func (i *Instance) Reason() *AbortReason {
	i.reasonMu.Lock()
	defer i.reasonMu.Unlock()
	if i.reason == nil {
		return nil
	}
	r := *i.reason
	return &r
}

// Info returns the display-safe projection of the instance.
func (i *Instance) Info() Info {
	return Info{
		ID:        i.id,
		Origin:    i.origin,
		State:     i.State(),
		StartedAt: i.startedAt,
	}
}

// Arena exposes the instance's resource arena.
func (i *Instance) Arena() *arena.Arena { return i.arena }

// Done is closed once the loop goroutine has exited.
func (i *Instance) Done() <-chan struct{} { return i.done }

// WaitReady blocks until the top-level code has finished, the instance
// aborts first, or ctx expires. A non-nil return is either the script's
// uncaught top-level exception or ErrAbortedBeforeReady.
func (i *Instance) WaitReady(ctx context.Context) error {
	// ready and quit can both be closed; ready wins when it is.
	select {
	case <-i.ready:
		return i.readyErr
	default:
	}
	select {
	case <-i.ready:
		return i.readyErr
	case <-i.quit:
		return errors.Wrapf(errors.ErrAbortedBeforeReady, "command %q", i.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort tears the instance down: records the reason (first write wins),
// interrupts the VM, signals the loop, waits for the stop callbacks to
// run and the loop to exit, then sweeps the arena. Cancellation is
// forceful: script code that never yields is interrupted mid-run, so
// teardown always completes. Safe to call concurrently and more than
// once; it never returns an error.
func (i *Instance) Abort(reason AbortReason) {
	i.setReason(reason)
	if i.state.CompareAndSwap(int32(StateRunning), int32(StateAborting)) {
		// Interrupt before quit: the loop clears the interrupt on its
		// way out, so the stop callbacks run uninterrupted.
		i.vm.Interrupt(errLoopInterrupted)
		close(i.quit)
	}
	<-i.done

	if err := i.arena.ReleaseAll(); err != nil {
		i.logger.Warn("resource release completed with failures", "error", err.Error())
	}
	i.state.Store(int32(StateAborted))
}

// setReason records the abort reason unless one is already set.
func (i *Instance) setReason(reason AbortReason) {
	i.reasonMu.Lock()
	defer i.reasonMu.Unlock()
	if i.reason == nil {
		i.reason = &reason
	}
}

// post schedules a job onto the loop. Returns false if the instance is
// shutting down and the job was dropped.
func (i *Instance) post(job func()) bool {
	select {
	case i.jobs <- job:
		return true
	case <-i.quit:
		return false
	}
}

// loop serializes all VM access. It exits after quit is signalled,
// running the stop callbacks as its final act so they execute on the
// same goroutine as every other piece of script code.
func (i *Instance) loop() {
	for {
		select {
		case <-i.quit:
			i.vm.ClearInterrupt()
			i.fireStopCallbacks()
			if i.binding != nil {
				i.binding.unbind()
			}
			close(i.done)
			return
		case job := <-i.jobs:
			if i.State() == StateRunning {
				i.runJob(job)
			}
		case <-i.wake:
			if i.State() == StateRunning {
				i.drainInbox()
			}
		}
	}
}

// runJob executes one job, containing panics at the instance boundary.
func (i *Instance) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("instance job panicked", "panic", fmt.Sprint(r))
		}
	}()
	job()
}

// runTopLevel executes the script's top-level code and marks the
// instance ready. An uncaught exception is recorded, not propagated.
func (i *Instance) runTopLevel() {
	defer close(i.ready)

	if _, err := i.vm.RunScript(i.id, i.source); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			i.readyErr = errors.Wrapf(errors.ErrAbortedBeforeReady, "command %q", i.id)
			i.logger.Debug("top-level code interrupted by abort")
			return
		}
		i.readyErr = errors.NewScriptError("uncaught exception in top-level code", err).WithCommandID(i.id)
		i.logger.Warn("top-level code failed", "error", err.Error())
		return
	}
	i.logger.Debug("top-level code completed")
}

// callScript invokes a script callback and reports an uncaught
// exception without letting it escape the loop. An interruption is the
// abort landing mid-callback, not a script failure.
func (i *Instance) callScript(fn goja.Callable, args ...goja.Value) {
	if _, err := fn(goja.Undefined(), args...); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return
		}
		i.logger.Error("uncaught exception in callback", "error", err.Error())
	}
}

// fireStopCallbacks runs every registered stop callback exactly once.
// Callbacks registered while the sweep runs are picked up by the next
// pass, so late registrations still fire.
func (i *Instance) fireStopCallbacks() {
	reason := i.reasonValue()
	for {
		fired := 0
		for _, entry := range i.stopCallbacks {
			if entry.fired || entry.removed {
				continue
			}
			entry.fired = true
			fired++
			i.callScript(entry.fn, reason)
		}
		if fired == 0 {
			return
		}
	}
}

// reasonValue builds the JS view of the abort reason.
func (i *Instance) reasonValue() goja.Value {
	r := i.Reason()
	if r == nil {
		return goja.Undefined()
	}
	view := map[string]any{"type": r.Type}
	if r.Detail != "" {
		view["detail"] = r.Detail
	}
	return i.vm.ToValue(view)
}

// enqueueMessage is the mailbox handler: it buffers the message and
// nudges the loop. Invoked under the mailbox lock, so it must not
// block.
func (i *Instance) enqueueMessage(from string, payload any) {
	i.inboxMu.Lock()
	i.inbox = append(i.inbox, inboxMsg{from: from, payload: payload})
	i.inboxMu.Unlock()

	select {
	case i.wake <- struct{}{}:
	default:
	}
}

// drainInbox delivers buffered messages to the script's handler in
// arrival order. Runs on the loop goroutine.
func (i *Instance) drainInbox() {
	for {
		if i.binding == nil {
			return
		}
		i.inboxMu.Lock()
		if len(i.inbox) == 0 {
			i.inboxMu.Unlock()
			return
		}
		msg := i.inbox[0]
		i.inbox = i.inbox[1:]
		i.inboxMu.Unlock()

		i.callScript(i.binding.handler, i.vm.ToValue(msg.from), i.vm.ToValue(msg.payload))
	}
}
