package persistence

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// retry runs op with exponential back-off for at most maxElapsed. A zero
// maxElapsed runs op exactly once.
func retry(ctx context.Context, maxElapsed time.Duration, op func() error, logger *zap.Logger) error {
	if maxElapsed <= 0 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxElapsed

	notify := func(err error, next time.Duration) {
		logger.Warn("dependency not ready, retrying", zap.Error(err), zap.Duration("next_attempt_in", next))
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}
