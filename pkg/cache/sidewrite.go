package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// BestEffort runs fn as a detached background unit of work with its own
// timeout. The request path never waits on it; failure only reaches the
// logging sink. This is the "fire-and-forget" primitive used for cache
// refreshes and remote-tier writes.
func BestEffort(logger *logrus.Logger, name string, timeout time.Duration, fn func(context.Context) error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.WithField("op", name).Errorf("side write panicked: %v", r)
			}
		}()
		if err := fn(ctx); err != nil {
			logger.WithField("op", name).Warnf("side write failed: %v", err)
		}
	}()
}
