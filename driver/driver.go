// Package driver provides utilities for creating reliable connections to
// external tooling the packaging pipeline depends on.
package driver

import "github.com/go-kit/kit/log"

// ConnOption is a driver option.
type ConnOption func(c *config)

type config struct {
	logger log.Logger
}

// Logger adds a logger to the driver config.
func Logger(logger log.Logger) ConnOption {
	return func(c *config) {
		c.logger = logger
	}
}
