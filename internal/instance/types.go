package instance

import (
	"context"
	"time"

	"github.com/scriptbox/scriptbox/internal/bridge"
	"github.com/scriptbox/scriptbox/internal/script"
)

// Origin records how an instance was started.
type Origin string

const (
	// OriginTrusted marks an interactive run started by the user.
	OriginTrusted Origin = "trusted"

	// OriginBackground marks a run started by a registered trigger
	// (startup script, open() from another instance, watcher replace).
	OriginBackground Origin = "background"
)

// State is the lifecycle state of an instance.
type State int32

const (
	// StateRunning means the loop is accepting jobs.
	StateRunning State = iota

	// StateAborting means teardown has been signalled; pending jobs are
	// dropped.
	StateAborting

	// StateAborted means the loop has exited and the arena is swept.
	StateAborted
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateAborting:
		return "aborting"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Abort reason types. Immutable once set on an instance; the first
// writer wins.
const (
	ReasonReplaced = "replaced"
	ReasonStopped  = "stopped"
	ReasonRemoved  = "removed"
	ReasonDisabled = "disabled"
	ReasonError    = "error"
)

// AbortReason describes why an instance was torn down.
type AbortReason struct {
	Type   string
	Detail string
}

// Info is the display-safe projection of a live instance.
type Info struct {
	ID        string
	Origin    Origin
	State     State
	StartedAt time.Time
}

// Host is the supervisor-side surface an instance calls back into. It
// exists so the instance package needs no dependency on the supervisor.
type Host interface {
	// Stop requests an abort of the given command. It must return
	// without waiting for teardown; instances call it from their own
	// loop goroutine.
	Stop(id string, reason AbortReason)

	// Open ensures the target command is running (creating it from its
	// stored source if needed), waits until it is ready, and delivers
	// payload when non-nil.
	Open(ctx context.Context, target, from string, payload any) error

	// Send delivers payload to the target's mailbox.
	Send(target, from string, payload any)

	// Bind binds the command's message handler. The handler is invoked
	// under the mailbox lock and must only enqueue, never block.
	Bind(id string, handler func(from string, payload any)) (unbind func())

	// Invoke executes one bridge call on the instance's behalf.
	Invoke(ctx context.Context, call bridge.Call) bridge.Result

	// Scripts lists display-safe metadata of all registered scripts.
	Scripts() []script.Meta
}
