package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scriptbox/scriptbox/internal/errors"
	"github.com/scriptbox/scriptbox/internal/logging"
)

// Bridge is the single entry point for host capability calls. It holds
// no mutable state across calls beyond the capability stores its
// namespaces delegate to.
type Bridge struct {
	mu          sync.RWMutex
	logger      *logging.Logger
	callTimeout time.Duration
	namespaces  map[string]Namespace
}

// New creates a Bridge.
func New(opts ...Option) *Bridge {
	cfg := &config{
		callTimeout: defaultCallTimeout,
		logger:      logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.callTimeout < 0 {
		cfg.callTimeout = defaultCallTimeout
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}

	return &Bridge{
		logger:      cfg.logger.WithComponent("bridge"),
		callTimeout: cfg.callTimeout,
		namespaces:  make(map[string]Namespace),
	}
}

// Register adds a namespace. Registering an existing name replaces it.
func (b *Bridge) Register(name string, ns Namespace) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.namespaces[name] = ns
}

// Namespaces returns the registered namespace names.
func (b *Bridge) Namespaces() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.namespaces))
	for name := range b.namespaces {
		out = append(out, name)
	}
	return out
}

// Invoke executes one capability call and always returns a shaped
// Result: {ok:true, data} on success, {ok:false, error: message} on any
// failure, including panics in the host-side function. An empty
// correlation id is filled in.
func (b *Bridge) Invoke(ctx context.Context, call Call) Result {
	if call.CorrelationID == "" {
		call.CorrelationID = uuid.NewString()
	}

	data, err := b.execute(ctx, call)
	if err != nil {
		b.logger.Debug("bridge call failed",
			"correlation_id", call.CorrelationID,
			"command_id", call.CommandID,
			"namespace", call.Namespace,
			"function", call.Function,
			"error", err.Error())
		return Result{
			CorrelationID: call.CorrelationID,
			OK:            false,
			Error:         errors.Message(err),
		}
	}

	return Result{
		CorrelationID: call.CorrelationID,
		OK:            true,
		Data:          data,
	}
}

// execute resolves, polices, and runs the call under the budget.
func (b *Bridge) execute(ctx context.Context, call Call) (any, error) {
	b.mu.RLock()
	ns, ok := b.namespaces[call.Namespace]
	b.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownCapability, "%s.%s", call.Namespace, call.Function)
	}
	fn, ok := ns.Funcs[call.Function]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownCapability, "%s.%s", call.Namespace, call.Function)
	}

	if ns.Policy != nil {
		if err := ns.Policy(call); err != nil {
			return nil, err
		}
	}

	if b.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	type outcome struct {
		data any
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("capability panicked: %v", r)}
			}
		}()
		data, err := fn(ctx, call)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrapf(errors.ErrBridgeTimeout, "%s.%s", call.Namespace, call.Function)
		}
		return nil, ctx.Err()
	}
}
