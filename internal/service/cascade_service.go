package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/pkg/database"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
	"github.com/noah-isme/course-enrollment-api/pkg/lock"
)

// Cascade targets used for logging and metrics.
const (
	CascadeTargetStudent = "student"
	CascadeTargetCourse  = "course"
	CascadeTargetTerm    = "term"
)

type cascadeLinkStore interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error)
	DeleteByStudent(ctx context.Context, studentID string) (int, error)
	DeleteByCourse(ctx context.Context, courseID string) (int, error)
}

type cascadeStudentStore interface {
	FindByIDForUpdate(ctx context.Context, id string) (*models.Student, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type cascadeCourseStore interface {
	FindByIDForUpdate(ctx context.Context, id string) (*models.Course, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// CascadeService deletes students and courses together with their
// enrollment links, and cancels a student's whole term. Each operation
// enumerates the links, removes them and then the target in one transaction.
type CascadeService struct {
	tx          transactor
	links       cascadeLinkStore
	students    cascadeStudentStore
	courses     cascadeCourseStore
	lock        studentLock
	logger      *zap.Logger
	metrics     *MetricsService
	invalidator Invalidator
}

// NewCascadeService constructs CascadeService.
func NewCascadeService(tx transactor, links cascadeLinkStore, students cascadeStudentStore, courses cascadeCourseStore, locker lock.Locker, logger *zap.Logger, metrics *MetricsService, invalidator Invalidator) *CascadeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CascadeService{
		tx:          tx,
		links:       links,
		students:    students,
		courses:     courses,
		lock:        studentLock{locker: locker, metrics: metrics},
		logger:      logger,
		metrics:     metrics,
		invalidator: invalidator,
	}
}

// DeleteStudent removes the student and every link that references it.
func (s *CascadeService) DeleteStudent(ctx context.Context, studentID string) (*models.CascadeResult, error) {
	release, err := s.lock.acquire(ctx, studentID)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &models.CascadeResult{StudentID: studentID}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.students.FindByIDForUpdate(ctx, studentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return internalError(err, "failed to load student")
		}
		links, err := s.links.ListByStudent(ctx, studentID)
		if err != nil {
			return internalError(err, "failed to list student enrollments")
		}
		removed, err := s.links.DeleteByStudent(ctx, studentID)
		if err != nil {
			return internalError(err, "failed to remove student enrollments")
		}
		if err := checkRemoved(len(links), removed); err != nil {
			return err
		}
		deleted, err := s.students.Delete(ctx, studentID)
		if err != nil {
			return deleteError(err, "failed to delete student")
		}
		if !deleted {
			return internalError(errors.New("student row vanished inside transaction"), "failed to delete student")
		}
		result.RemovedLinks = removed
		result.CourseIDs = courseIDs(links)
		return nil
	})
	if err != nil {
		s.logFailure(CascadeTargetStudent, studentID, err)
		return nil, err
	}

	s.finish(CascadeTargetStudent, studentID, result, []string{studentID}, result.CourseIDs)
	return result, nil
}

// DeleteCourse removes the course and every link that references it.
func (s *CascadeService) DeleteCourse(ctx context.Context, courseID string) (*models.CascadeResult, error) {
	result := &models.CascadeResult{CourseID: courseID}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.courses.FindByIDForUpdate(ctx, courseID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return internalError(err, "failed to load course")
		}
		links, err := s.links.ListByCourse(ctx, courseID)
		if err != nil {
			return internalError(err, "failed to list course enrollments")
		}
		removed, err := s.links.DeleteByCourse(ctx, courseID)
		if err != nil {
			return internalError(err, "failed to remove course enrollments")
		}
		if err := checkRemoved(len(links), removed); err != nil {
			return err
		}
		deleted, err := s.courses.Delete(ctx, courseID)
		if err != nil {
			return deleteError(err, "failed to delete course")
		}
		if !deleted {
			return internalError(errors.New("course row vanished inside transaction"), "failed to delete course")
		}
		result.RemovedLinks = removed
		result.StudentIDs = studentIDs(links)
		return nil
	})
	if err != nil {
		s.logFailure(CascadeTargetCourse, courseID, err)
		return nil, err
	}

	s.finish(CascadeTargetCourse, courseID, result, result.StudentIDs, []string{courseID})
	return result, nil
}

// CancelTerm removes every link of the student and keeps the student. A
// student without links gets NO_ACTIVE_ENROLLMENTS.
func (s *CascadeService) CancelTerm(ctx context.Context, studentID string) (*models.CascadeResult, error) {
	release, err := s.lock.acquire(ctx, studentID)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &models.CascadeResult{StudentID: studentID}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.students.FindByIDForUpdate(ctx, studentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return internalError(err, "failed to load student")
		}
		links, err := s.links.ListByStudent(ctx, studentID)
		if err != nil {
			return internalError(err, "failed to list student enrollments")
		}
		if len(links) == 0 {
			return appErrors.Clone(appErrors.ErrNoActiveEnrollments, "student has no active enrollments")
		}
		removed, err := s.links.DeleteByStudent(ctx, studentID)
		if err != nil {
			return internalError(err, "failed to remove student enrollments")
		}
		if err := checkRemoved(len(links), removed); err != nil {
			return err
		}
		result.RemovedLinks = removed
		result.CourseIDs = courseIDs(links)
		return nil
	})
	if err != nil {
		s.logFailure(CascadeTargetTerm, studentID, err)
		return nil, err
	}

	s.finish(CascadeTargetTerm, studentID, result, []string{studentID}, result.CourseIDs)
	return result, nil
}

// checkRemoved fails the transaction when the delete touched links that were
// never enumerated. Fewer rows than listed means a concurrent un-enrollment
// already dropped some of them, which leaves the outcome unchanged.
func checkRemoved(enumerated, removed int) error {
	if removed <= enumerated {
		return nil
	}
	return internalError(fmt.Errorf("enumerated %d links, removed %d", enumerated, removed), "enrollment set changed during cascade")
}

// deleteError reports a RESTRICT violation on the target row as a changed
// link set, the same fault checkRemoved raises.
func deleteError(err error, msg string) error {
	if database.IsForeignKeyViolation(err) {
		return internalError(err, "enrollment set changed during cascade")
	}
	return internalError(err, msg)
}

func (s *CascadeService) finish(target, id string, result *models.CascadeResult, studentIDs, courseIDs []string) {
	s.metrics.RecordCascade(target, result.RemovedLinks)
	s.logger.Info("cascade completed",
		zap.String("target", target),
		zap.String("id", id),
		zap.Int("removed_links", result.RemovedLinks))
	if s.invalidator != nil {
		s.invalidator.Invalidate(studentIDs, courseIDs)
	}
}

func (s *CascadeService) logFailure(target, id string, err error) {
	if appErrors.HasCode(err, appErrors.CodeInternal) {
		s.logger.Error("cascade failed", zap.String("target", target), zap.String("id", id), zap.Error(err))
		return
	}
	s.logger.Info("cascade rejected", zap.String("target", target), zap.String("id", id), zap.Error(err))
}

func courseIDs(links []models.Enrollment) []string {
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.CourseID)
	}
	return ids
}

func studentIDs(links []models.Enrollment) []string {
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.StudentID)
	}
	return ids
}
