package supervisor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scriptbox/scriptbox/internal/bridge"
	"github.com/scriptbox/scriptbox/internal/errors"
	"github.com/scriptbox/scriptbox/internal/event"
	"github.com/scriptbox/scriptbox/internal/gate"
	"github.com/scriptbox/scriptbox/internal/instance"
	"github.com/scriptbox/scriptbox/internal/logging"
	"github.com/scriptbox/scriptbox/internal/mailbox"
	"github.com/scriptbox/scriptbox/internal/script"
)

// Catalog is the script-store surface the supervisor needs: source by
// command id, the manifest entry, and display-safe listings.
type Catalog interface {
	Source(id string) (string, error)
	Get(id string) (script.Script, bool)
	List() []script.Meta
}

// emptyCatalog backs a supervisor constructed without a store.
type emptyCatalog struct{}

func (emptyCatalog) Source(id string) (string, error) {
	return "", errors.Wrapf(errors.ErrScriptNotFound, "%q", id)
}
func (emptyCatalog) Get(string) (script.Script, bool) { return script.Script{}, false }
func (emptyCatalog) List() []script.Meta              { return nil }

// Supervisor manages the lifecycle of all instances. It is safe for
// concurrent use.
type Supervisor struct {
	logger       *logging.Logger
	events       *event.Bus
	bridge       *bridge.Bridge
	gate         *gate.Gate
	mail         *mailbox.Bus
	catalog      Catalog
	readyTimeout time.Duration

	mu       sync.Mutex
	closed   bool
	registry map[string]*instance.Instance
	creating map[string]struct{}
	keys     map[string]*sync.Mutex
}

// New creates a Supervisor reading script sources from catalog. A nil
// catalog yields a supervisor that can only run sources handed directly
// to Create.
func New(catalog Catalog, opts ...Option) *Supervisor {
	cfg := &config{
		logger:       logging.NopLogger(),
		readyTimeout: defaultReadyTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}
	if cfg.events == nil {
		cfg.events = event.NewBus()
	}
	if cfg.bridge == nil {
		cfg.bridge = bridge.New()
	}
	if cfg.gate == nil {
		cfg.gate = gate.New()
	}
	if cfg.mail == nil {
		cfg.mail = mailbox.NewBus(0, cfg.logger)
	}
	if cfg.readyTimeout <= 0 {
		cfg.readyTimeout = defaultReadyTimeout
	}
	if catalog == nil {
		catalog = emptyCatalog{}
	}

	return &Supervisor{
		logger:       cfg.logger.WithComponent("supervisor"),
		events:       cfg.events,
		bridge:       cfg.bridge,
		gate:         cfg.gate,
		mail:         cfg.mail,
		catalog:      catalog,
		readyTimeout: cfg.readyTimeout,
		registry:     make(map[string]*instance.Instance),
		creating:     make(map[string]struct{}),
		keys:         make(map[string]*sync.Mutex),
	}
}

// Events returns the bus status events are published on.
func (s *Supervisor) Events() *event.Bus { return s.events }

// Mailbox returns the message bus.
func (s *Supervisor) Mailbox() *mailbox.Bus { return s.mail }

// Create starts an instance for id running source. A live instance
// with the same id is aborted with reason "replaced" and its teardown
// awaited before the new one runs, so exactly one stop notification
// precedes the new top-level code. A second Create for an id whose
// create is still in flight fails synchronously with
// ErrDuplicateCreate.
func (s *Supervisor) Create(ctx context.Context, id, source string, origin instance.Origin) (*instance.Instance, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.ErrSupervisorClosed
	}
	if _, inFlight := s.creating[id]; inFlight {
		s.mu.Unlock()
		return nil, errors.NewSupervisorError("create already in flight", errors.ErrDuplicateCreate).WithCommandID(id)
	}
	s.creating[id] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.creating, id)
		s.mu.Unlock()
	}()

	lock := s.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	replaced := false
	if old := s.lookup(id); old != nil {
		s.teardown(old, instance.AbortReason{Type: instance.ReasonReplaced})
		replaced = true
	}

	host := &hostAdapter{s: s}
	inst, err := instance.New(id, source, origin, host, s.gate, instance.WithLogger(s.logger))
	if err != nil {
		return nil, errors.NewSupervisorError("instance creation failed", err).WithCommandID(id)
	}
	host.inst.Store(inst)

	s.mu.Lock()
	if s.closed {
		// Close won the race since the entry check; its registry
		// snapshot will not see this instance, so stop it here.
		s.mu.Unlock()
		inst.Abort(instance.AbortReason{Type: instance.ReasonStopped, Detail: "shutdown"})
		return nil, errors.ErrSupervisorClosed
	}
	s.registry[id] = inst
	s.mu.Unlock()

	s.logger.Info("instance created",
		"command_id", id,
		"origin", string(origin),
		"replaced", replaced)
	s.events.Publish(event.NewCommandStartedEvent(id, string(origin), replaced))

	go s.watchOutcome(inst)
	return inst, nil
}

// Abort tears down the instance for id. A missing id is a no-op; Abort
// never returns an error.
func (s *Supervisor) Abort(id string, reason instance.AbortReason) {
	lock := s.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	inst := s.lookup(id)
	if inst == nil {
		return
	}
	s.teardown(inst, reason)
}

// abortExact tears down inst only while it is still the registered
// owner of its id. A stale request against an already-replaced instance
// is a no-op.
func (s *Supervisor) abortExact(inst *instance.Instance, reason instance.AbortReason) {
	lock := s.keyLock(inst.ID())
	lock.Lock()
	defer lock.Unlock()

	if s.lookup(inst.ID()) != inst {
		return
	}
	s.teardown(inst, reason)
}

// teardown runs the full abort pipeline for a registered instance.
// Callers must hold the instance's key lock.
func (s *Supervisor) teardown(inst *instance.Instance, reason instance.AbortReason) {
	id := inst.ID()
	inst.Abort(reason)
	s.mail.Discard(id)

	s.mu.Lock()
	if s.registry[id] == inst {
		delete(s.registry, id)
	}
	s.mu.Unlock()

	final := inst.Reason()
	if final == nil {
		final = &reason
	}
	s.logger.Info("instance stopped",
		"command_id", id,
		"reason", final.Type,
		"detail", final.Detail)
	s.events.Publish(event.NewCommandStoppedEvent(id, final.Type, final.Detail))
}

// watchOutcome reports the run outcome of an instance's top-level code
// as a status event. A top-level exception also aborts the instance.
func (s *Supervisor) watchOutcome(inst *instance.Instance) {
	err := inst.WaitReady(context.Background())
	id := inst.ID()
	origin := string(inst.Origin())

	switch {
	case err == nil:
		s.events.Publish(event.NewCommandReadyEvent(id))
		s.events.Publish(event.NewCommandFinishedEvent(id, origin, event.OutcomeSuccess, ""))
	case errors.Is(err, errors.ErrAbortedBeforeReady):
		s.events.Publish(event.NewCommandFinishedEvent(id, origin, event.OutcomeAborted, ""))
	default:
		msg := errors.Message(err)
		s.events.Publish(event.NewCommandFinishedEvent(id, origin, event.OutcomeFailed, msg))
		// By instance, not by id: a replacement may already own the id,
		// and this stale failure must not tear it down.
		s.abortExact(inst, instance.AbortReason{Type: instance.ReasonError, Detail: msg})
	}
}

// IsRunning reports whether a live instance owns id.
func (s *Supervisor) IsRunning(id string) bool {
	return s.lookup(id) != nil
}

// List returns display-safe metadata of all live instances, sorted by
// command id.
func (s *Supervisor) List() []instance.Info {
	s.mu.Lock()
	infos := make([]instance.Info, 0, len(s.registry))
	for _, inst := range s.registry {
		infos = append(infos, inst.Info())
	}
	s.mu.Unlock()

	sort.Slice(infos, func(a, b int) bool { return infos[a].ID < infos[b].ID })
	return infos
}

// Open ensures target is running, waits until its top-level code has
// completed, then delivers payload when non-nil. An absent target is
// created from its stored source with Background origin. Returns
// ErrAbortedBeforeReady if the target is torn down before becoming
// ready.
func (s *Supervisor) Open(ctx context.Context, target, from string, payload any) error {
	inst := s.lookup(target)

	if inst == nil {
		sc, ok := s.catalog.Get(target)
		if !ok {
			return errors.Wrapf(errors.ErrScriptNotFound, "%q", target)
		}
		if sc.Disabled {
			return errors.NewSupervisorError("script is disabled", nil).WithCommandID(target)
		}
		source, err := s.catalog.Source(target)
		if err != nil {
			return err
		}
		created, err := s.Create(ctx, target, source, instance.OriginBackground)
		if err != nil {
			return err
		}
		inst = created
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.readyTimeout)
	defer cancel()
	if err := inst.WaitReady(waitCtx); err != nil {
		return err
	}

	if payload != nil {
		s.mail.Send(target, from, payload)
	}
	return nil
}

// Send delivers payload to target's mailbox: straight to its handler
// when bound, buffered otherwise.
func (s *Supervisor) Send(target, from string, payload any) {
	s.mail.Send(target, from, payload)
}

// Close aborts every live instance and refuses further creates.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ids := make([]string, 0, len(s.registry))
	for id := range s.registry {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Abort(id, instance.AbortReason{Type: instance.ReasonStopped, Detail: "shutdown"})
	}
}

// lookup returns the live instance for id, or nil.
func (s *Supervisor) lookup(id string) *instance.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry[id]
}

// keyLock returns the per-command lock serializing create/abort.
func (s *Supervisor) keyLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.keys[id]
	if !ok {
		lock = &sync.Mutex{}
		s.keys[id] = lock
	}
	return lock
}

// hostAdapter exposes the supervisor to one instance as the Host
// surface. It remembers which instance it serves so a stale self-stop
// (a replaced instance stopping "itself" from a stop callback) cannot
// tear down the replacement that now owns the id.
type hostAdapter struct {
	s    *Supervisor
	inst atomic.Pointer[instance.Instance]
}

func (h *hostAdapter) Stop(id string, reason instance.AbortReason) {
	if own := h.inst.Load(); own != nil && own.ID() == id {
		h.s.abortExact(own, reason)
		return
	}
	h.s.Abort(id, reason)
}

func (h *hostAdapter) Open(ctx context.Context, target, from string, payload any) error {
	return h.s.Open(ctx, target, from, payload)
}

func (h *hostAdapter) Send(target, from string, payload any) {
	h.s.mail.Send(target, from, payload)
}

func (h *hostAdapter) Bind(id string, handler func(from string, payload any)) func() {
	return h.s.mail.Bind(id, handler)
}

func (h *hostAdapter) Invoke(ctx context.Context, call bridge.Call) bridge.Result {
	return h.s.bridge.Invoke(ctx, call)
}

func (h *hostAdapter) Scripts() []script.Meta {
	return h.s.catalog.List()
}
