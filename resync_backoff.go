package ges

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffResyncPolicy builds a ResyncPolicy that waits between conflicting
// attempts following an exponential backoff, instead of resyncing
// immediately like the default identity policy. newBackOff is called once
// per resync to produce a fresh backoff.BackOff (mirroring
// stores/esdb.Store's own retry-factory field), so repeated conflicts
// across unrelated Transact calls never share accumulated backoff state;
// the policy advances that fresh instance to the given attempt by calling
// NextBackOff() attempt times, which keeps the policy itself free of
// mutable fields. The resulting delay carries whatever randomization the
// BackOff applies (NewExponentialBackOff's defaults are jittered).
//
// Cancellation propagates: a ctx.Done() while waiting aborts the resync
// with ctx.Err() instead of calling resync.
func BackoffResyncPolicy[S any](newBackOff func() backoff.BackOff) ResyncPolicy[S] {
	return func(ctx context.Context, attempt int, resync ResyncFunc[S]) (StreamToken, S, error) {
		b := newBackOff()
		var delay time.Duration
		for i := 0; i < attempt; i++ {
			delay = b.NextBackOff()
		}
		if delay == backoff.Stop {
			delay = 0
		}

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			var zero S
			return StreamToken{}, zero, ctx.Err()
		case <-timer.C:
		}
		return resync(ctx)
	}
}

// DefaultBackoffResyncPolicy is BackoffResyncPolicy with the same
// exponential backoff defaults stores/esdb.Store uses for transport
// retries (backoff.NewExponentialBackOff()'s stock settings).
func DefaultBackoffResyncPolicy[S any]() ResyncPolicy[S] {
	return BackoffResyncPolicy[S](func() backoff.BackOff {
		return backoff.NewExponentialBackOff()
	})
}
