package client

import (
	"context"

	"github.com/cenkalti/backoff"
)

// RunWithBackoff retries op with an exponential backoff policy, stopping
// early if ctx is cancelled. cmd/client uses it around the websocket
// dial per spec §7: "log + reconnect with backoff and resend next tick."
// There is no overall time limit; retries continue until op succeeds or
// ctx is cancelled.
func RunWithBackoff(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // caller controls overall lifetime via ctx

	return backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return op()
	}, policy)
}
