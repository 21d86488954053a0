package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/pkg/jobs"
)

const jobTypeInvalidate = "cache.invalidate"

// Invalidator drops cached read models touched by a committed mutation.
type Invalidator interface {
	Invalidate(studentIDs, courseIDs []string)
}

// InvalidationPayload names the read models to drop.
type InvalidationPayload struct {
	StudentIDs []string
	CourseIDs  []string
}

// CacheInvalidator removes stale read models off the request path through a
// background job queue.
type CacheInvalidator struct {
	cache  *CacheService
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewCacheInvalidator builds the invalidator and its queue. Call Start before
// serving traffic and Stop on shutdown.
func NewCacheInvalidator(cache *CacheService, workers int, logger *zap.Logger) *CacheInvalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	inv := &CacheInvalidator{cache: cache, logger: logger}
	inv.queue = jobs.NewQueue("cache-invalidation", inv.handle, jobs.QueueConfig{
		Workers:    workers,
		MaxRetries: 2,
		RetryDelay: 250 * time.Millisecond,
		Logger:     logger,
	})
	return inv
}

// Start launches the workers.
func (i *CacheInvalidator) Start(ctx context.Context) {
	i.queue.Start(ctx)
}

// Stop drains pending invalidations.
func (i *CacheInvalidator) Stop() {
	i.queue.Stop()
}

// Invalidate schedules removal of the student schedules and course rosters.
// When the queue is saturated the keys are dropped inline.
func (i *CacheInvalidator) Invalidate(studentIDs, courseIDs []string) {
	if i == nil || !i.cache.Enabled() || len(studentIDs)+len(courseIDs) == 0 {
		return
	}
	payload := InvalidationPayload{StudentIDs: studentIDs, CourseIDs: courseIDs}
	err := i.queue.TryEnqueue(jobs.Job{Type: jobTypeInvalidate, Payload: payload})
	if err == nil {
		return
	}
	if !errors.Is(err, jobs.ErrQueueFull) {
		i.logger.Warn("invalidation not queued", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = i.cache.Invalidate(ctx, invalidationKeys(payload)...)
}

func (i *CacheInvalidator) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(InvalidationPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	return i.cache.Invalidate(ctx, invalidationKeys(payload)...)
}

func invalidationKeys(p InvalidationPayload) []string {
	keys := make([]string, 0, len(p.StudentIDs)+len(p.CourseIDs))
	for _, id := range p.StudentIDs {
		keys = append(keys, fmt.Sprintf(studentCoursesKeyFormat, id))
	}
	for _, id := range p.CourseIDs {
		keys = append(keys, fmt.Sprintf(courseStudentsKeyFormat, id))
	}
	return keys
}
