// pkg/txn/retry.go
//
// RetryPolicy and TransactionWithRetry retry a conflicting transaction
// with exponential backoff and jitter, rather than surfacing the
// conflict straight to the caller. Only the conflict class is
// retried — I/O and WAL failures propagate immediately.
package txn

import (
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"stratacore/pkg/dberrors"
)

// RetryPolicy configures TransactionWithRetry's backoff.
type RetryPolicy struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

// DefaultRetryPolicy is a short base delay, a one-second cap, and a
// handful of attempts before giving up and surfacing the conflict to
// the caller.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 2 * time.Millisecond, Cap: time.Second, MaxRetries: 5}
}

// TransactionWithRetry runs fn inside a fresh transaction, committing
// at the end. On a read-write conflict it retries with exponential
// backoff (capped, with full jitter) up to policy.MaxRetries times. Any
// other error from fn, or a non-conflict commit error, returns
// immediately without retrying.
func TransactionWithRetry(mgr *Manager, branch uuid.UUID, policy RetryPolicy, fn func(*TransactionContext) error) (uint64, error) {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoffDelay(policy, attempt))
		}

		tc := mgr.Begin(branch)
		if err := fn(tc); err != nil {
			tc.Rollback()
			return 0, err
		}

		version, err := mgr.Commit(tc)
		if err == nil {
			return version, nil
		}

		var conflictErr *dberrors.ConflictError
		if !errors.As(err, &conflictErr) && !errors.Is(err, dberrors.ErrConflict) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

// backoffDelay computes exponential backoff with full jitter: a random
// duration between 0 and min(cap, base*2^(attempt-1)).
func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	max := policy.Base << uint(attempt-1)
	if max <= 0 || max > policy.Cap {
		max = policy.Cap
	}
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
