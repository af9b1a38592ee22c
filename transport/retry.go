package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type dialFunc func(ctx context.Context) (Transport, error)

// connectWithRetry calls dial until it succeeds, maxAttempts dials have failed, or ctx is done.
// Attempts are separated by a constant delay.
func connectWithRetry(ctx context.Context, log *zap.SugaredLogger, target string, maxAttempts int, delay time.Duration, dial dialFunc) (Transport, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(delay)
	b = backoff.WithMaxRetries(b, uint64(maxAttempts-1))
	b = backoff.WithContext(b, ctx)

	var (
		attempts int
		lastErr  error
		t        Transport
	)
	op := func() error {
		attempts++
		conn, err := dial(ctx)
		if err != nil {
			lastErr = err
			return err
		}
		t = conn
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.Debugw("connect attempt failed, retrying", "Target", target, "Attempt", attempts, "MaxAttempts", maxAttempts, "Delay", next, "Error", err)
	}

	err := backoff.RetryNotify(op, b, notify)
	if err == nil {
		log.Debugw("connected", "Target", target, "Attempts", attempts, "Transport", t.String())
		return t, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && attempts < maxAttempts {
		// attempts were left, so this is not a timeout
		return nil, fmt.Errorf("connecting to %s: stopped after %d of %d attempts: %w", target, attempts, maxAttempts, ctxErr)
	}
	log.Debugw("giving up connecting", "Target", target, "Attempts", attempts, "Error", lastErr)
	return nil, &ConnectError{Target: target, Attempts: attempts, Err: lastErr}
}
