// Package notify announces new orders on a dashboard: chime, system
// notification and spoken order number.
package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry runs fn up to attempts times, waiting delay between tries. It
// returns nil on the first success, otherwise the last error.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1))
	return backoff.Retry(fn, backoff.WithContext(policy, ctx))
}
