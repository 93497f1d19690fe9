package instance

import "github.com/scriptbox/scriptbox/internal/logging"

// Option configures an Instance.
type Option func(*config)

type config struct {
	logger *logging.Logger
}

// WithLogger sets the logger for the instance.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
