// Package lock serializes mutations that share a key, such as every write
// touching one student's enrollment set.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when the lock could not be taken before the
// wait budget or the caller's context ran out.
var ErrNotAcquired = errors.New("lock: not acquired")

// Release frees a held lock. It is safe to call more than once.
type Release func()

// Locker hands out exclusive locks keyed by string.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}
