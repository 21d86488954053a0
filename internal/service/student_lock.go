package service

import (
	"context"
	"errors"
	"time"

	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
	"github.com/noah-isme/course-enrollment-api/pkg/lock"
)

// studentLock serializes mutations of one student's enrollment set.
type studentLock struct {
	locker  lock.Locker
	metrics *MetricsService
}

func (l studentLock) acquire(ctx context.Context, studentID string) (lock.Release, error) {
	if l.locker == nil {
		return func() {}, nil
	}
	start := time.Now()
	release, err := l.locker.Acquire(ctx, "student:"+studentID)
	l.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, appErrors.Clone(appErrors.ErrResourceBusy, "student is being modified, retry later")
		}
		return nil, internalError(err, "failed to lock student")
	}
	return release, nil
}
