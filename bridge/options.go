package bridge

import (
	"go.uber.org/zap"

	"github.com/chasmware/gangway/hostfunc"
)

// Option configures a Bridge.
type Option func(*config)

type config struct {
	logger           *zap.Logger
	registry         *hostfunc.Registry
	memoryLimitPages uint32
	wasi             bool
}

func defaultConfig() config {
	return config{
		logger:   zap.NewNop(),
		registry: hostfunc.Default(),
	}
}

// WithLogger sets the bridge logger. The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRegistry replaces the default binding registry.
func WithRegistry(r *hostfunc.Registry) Option {
	return func(c *config) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithMemoryLimitPages caps guest memory growth (64KiB pages).
func WithMemoryLimitPages(pages uint32) Option {
	return func(c *config) {
		c.memoryLimitPages = pages
	}
}

// WithWASI also instantiates wasi_snapshot_preview1 for guests whose
// toolchain imports it.
func WithWASI() Option {
	return func(c *config) {
		c.wasi = true
	}
}
