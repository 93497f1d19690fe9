package bridge

import (
	"time"

	"github.com/scriptbox/scriptbox/internal/logging"
)

// defaultCallTimeout bounds a single capability call.
const defaultCallTimeout = 10 * time.Second

// Option configures a Bridge.
type Option func(*config)

type config struct {
	callTimeout time.Duration
	logger      *logging.Logger
}

// WithCallTimeout sets the per-call budget. Zero disables the budget;
// a negative value is replaced with the default (10s).
func WithCallTimeout(d time.Duration) Option {
	return func(c *config) {
		c.callTimeout = d
	}
}

// WithLogger sets the logger for the bridge.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
