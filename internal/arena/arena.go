// Package arena tracks every timer and disposable handle an instance
// creates, so the supervisor can force-release all of them on abort.
// Each instance owns exactly one arena; resources created through the
// instance's proxied APIs live in that arena until released.
package arena

import (
	"sync"

	"github.com/scriptbox/scriptbox/internal/errors"
	"github.com/scriptbox/scriptbox/internal/logging"
)

// Kind identifies what a registered resource is.
type Kind int

const (
	// KindTimer is a scheduled timer or interval.
	KindTimer Kind = iota

	// KindDisposable is any handle with a close/release routine
	// (bridge sessions, watchers, open panels).
	KindDisposable
)

// String returns a human-readable string for the kind.
func (k Kind) String() string {
	switch k {
	case KindTimer:
		return "timer"
	case KindDisposable:
		return "disposable"
	default:
		return "unknown"
	}
}

// resource is one tracked handle. The release func must be safe to call
// from any goroutine and is invoked at most once by the arena.
type resource struct {
	kind    Kind
	release func() error
}

// Arena is a per-instance registry of releasable resources.
// It is safe for concurrent use.
type Arena struct {
	mu        sync.Mutex
	logger    *logging.Logger
	resources map[uint64]resource
	nextID    uint64
	released  bool
}

// New creates an empty arena. A nil logger is replaced with a no-op
// logger.
func New(logger *logging.Logger) *Arena {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Arena{
		logger:    logger.WithComponent("arena"),
		resources: make(map[uint64]resource),
	}
}

// Register adds a resource to the arena and returns its handle id.
// Returns ErrArenaReleased after ReleaseAll: late registrations are
// refused so the caller can release the resource itself instead of
// leaking it past the abort sweep.
func (a *Arena) Register(kind Kind, release func() error) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.released {
		return 0, errors.ErrArenaReleased
	}

	a.nextID++
	id := a.nextID
	a.resources[id] = resource{kind: kind, release: release}
	return id, nil
}

// Release releases a single resource by id and removes it from the
// arena. Unknown ids (already released, or released by the sweep) are
// a no-op.
func (a *Arena) Release(id uint64) error {
	a.mu.Lock()
	res, ok := a.resources[id]
	if ok {
		delete(a.resources, id)
	}
	a.mu.Unlock()

	if !ok {
		return nil
	}
	return res.release()
}

// Forget removes a resource without invoking its release routine and
// reports whether it was still tracked. Used when a one-shot timer
// fires: a false return means the handle was already released (cleared
// or swept) and the timer's callback must not run.
func (a *Arena) Forget(id uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.resources[id]; !ok {
		return false
	}
	delete(a.resources, id)
	return true
}

// ReleaseAll releases every tracked resource. Individual release
// failures are collected and logged; the sweep always runs to
// completion. ReleaseAll is idempotent: a second call is a no-op
// returning nil.
func (a *Arena) ReleaseAll() error {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return nil
	}
	a.released = true
	pending := a.resources
	a.resources = make(map[uint64]resource)
	a.mu.Unlock()

	var failures []error
	for id, res := range pending {
		if err := res.release(); err != nil {
			failures = append(failures, err)
			a.logger.Warn("resource release failed",
				"resource_id", id,
				"kind", res.kind.String(),
				"error", err.Error())
		}
	}

	if len(failures) == 0 {
		return nil
	}
	return errors.NewReleaseError(failures)
}

// Released reports whether ReleaseAll has run.
func (a *Arena) Released() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}

// Len returns the number of currently tracked resources.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.resources)
}
