package supervisor

import (
	"time"

	"github.com/scriptbox/scriptbox/internal/bridge"
	"github.com/scriptbox/scriptbox/internal/event"
	"github.com/scriptbox/scriptbox/internal/gate"
	"github.com/scriptbox/scriptbox/internal/logging"
	"github.com/scriptbox/scriptbox/internal/mailbox"
)

// defaultReadyTimeout bounds how long Open waits for a target's
// top-level code.
const defaultReadyTimeout = 10 * time.Second

// Option configures a Supervisor.
type Option func(*config)

type config struct {
	logger       *logging.Logger
	events       *event.Bus
	bridge       *bridge.Bridge
	gate         *gate.Gate
	mail         *mailbox.Bus
	readyTimeout time.Duration
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithEventBus sets the event bus status events are published on.
func WithEventBus(bus *event.Bus) Option {
	return func(c *config) {
		c.events = bus
	}
}

// WithBridge sets the bridge backing host.invoke.
func WithBridge(b *bridge.Bridge) Option {
	return func(c *config) {
		c.bridge = b
	}
}

// WithGate sets the module gate shared by all instances.
func WithGate(g *gate.Gate) Option {
	return func(c *config) {
		c.gate = g
	}
}

// WithMailbox sets the message bus.
func WithMailbox(m *mailbox.Bus) Option {
	return func(c *config) {
		c.mail = m
	}
}

// WithReadyTimeout bounds how long Open waits for a target to become
// ready. Non-positive values fall back to the default (10s).
func WithReadyTimeout(d time.Duration) Option {
	return func(c *config) {
		c.readyTimeout = d
	}
}
