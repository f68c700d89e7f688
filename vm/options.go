package vm

import "go.uber.org/zap"

const defaultQueueCapacity = 256

type config struct {
	logger        *zap.Logger
	queueCapacity int
}

func defaultConfig() config {
	return config{
		logger:        zap.NewNop(),
		queueCapacity: defaultQueueCapacity,
	}
}

// Option configures a VM at creation.
type Option func(*config)

// WithLogger injects a logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithQueueCapacity bounds the Threaded-mode message queue. Enqueueing into
// a full queue fails with queue_rejected rather than blocking the producer.
func WithQueueCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueCapacity = n
		}
	}
}
