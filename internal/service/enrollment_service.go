package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/pkg/database"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
	"github.com/noah-isme/course-enrollment-api/pkg/lock"
)

// DefaultMaxCredits is the credit cap applied when none is configured.
const DefaultMaxCredits = 20

type transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type enrollmentStore interface {
	Exists(ctx context.Context, studentID, courseID string) (bool, error)
	CountByCourse(ctx context.Context, courseID string) (int, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Delete(ctx context.Context, studentID, courseID string) (bool, error)
}

type studentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByIDForUpdate(ctx context.Context, id string) (*models.Student, error)
}

type courseLookup interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindByIDForUpdate(ctx context.Context, id string) (*models.Course, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Course, error)
}

// EnrollRequest is the payload for enrolling a student in a course.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
}

// EnrollmentOptions tunes the engine and wires optional collaborators.
type EnrollmentOptions struct {
	MaxCredits  int
	Metrics     *MetricsService
	Invalidator Invalidator
}

// EnrollmentService admits students into courses and removes single links.
// It keeps no state between calls.
type EnrollmentService struct {
	tx          transactor
	enrollments enrollmentStore
	students    studentLookup
	courses     courseLookup
	lock        studentLock
	validator   *validator.Validate
	logger      *zap.Logger
	metrics     *MetricsService
	invalidator Invalidator
	maxCredits  int
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(tx transactor, enrollments enrollmentStore, students studentLookup, courses courseLookup, locker lock.Locker, validate *validator.Validate, logger *zap.Logger, opts EnrollmentOptions) *EnrollmentService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxCredits <= 0 {
		opts.MaxCredits = DefaultMaxCredits
	}
	return &EnrollmentService{
		tx:          tx,
		enrollments: enrollments,
		students:    students,
		courses:     courses,
		lock:        studentLock{locker: locker, metrics: opts.Metrics},
		validator:   validate,
		logger:      logger,
		metrics:     opts.Metrics,
		invalidator: opts.Invalidator,
		maxCredits:  opts.MaxCredits,
	}
}

// Enroll admits the student into the course. Checks run in a fixed order and
// the first failing one is reported: existence, duplicate, credit cap,
// capacity, schedule conflict.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid enrollment payload")
	}

	release, err := s.lock.acquire(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	defer release()

	var enrollment *models.Enrollment
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.checkAdmission(ctx, req.StudentID, req.CourseID); err != nil {
			return err
		}
		enrollment = &models.Enrollment{StudentID: req.StudentID, CourseID: req.CourseID}
		if err := s.enrollments.Create(ctx, enrollment); err != nil {
			if constraint, ok := database.UniqueViolation(err); ok && constraint == database.ConstraintEnrollmentPK {
				return appErrors.Clone(appErrors.ErrAlreadyEnrolled, "student already enrolled in course")
			}
			return internalError(err, "failed to create enrollment")
		}
		return nil
	})
	if err != nil {
		s.recordRejection(err, req)
		return nil, err
	}

	s.metrics.RecordEnrollmentDecision(OutcomeEnrolled)
	s.logger.Info("student enrolled", zap.String("student_id", req.StudentID), zap.String("course_id", req.CourseID))
	s.invalidate(req.StudentID, req.CourseID)
	return enrollment, nil
}

func (s *EnrollmentService) checkAdmission(ctx context.Context, studentID, courseID string) error {
	if _, err := s.students.FindByIDForUpdate(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return internalError(err, "failed to load student")
	}
	course, err := s.courses.FindByIDForUpdate(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return internalError(err, "failed to load course")
	}

	exists, err := s.enrollments.Exists(ctx, studentID, courseID)
	if err != nil {
		return internalError(err, "failed to check enrollment")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrAlreadyEnrolled, "student already enrolled in course")
	}

	current, err := s.courses.ListByStudent(ctx, studentID)
	if err != nil {
		return internalError(err, "failed to load student courses")
	}
	used := models.TotalCredits(current)
	if used+course.Credits > s.maxCredits {
		return appErrors.WithDetails(appErrors.ErrCreditLimitExceeded, "credit limit exceeded", map[string]interface{}{
			"current_credits":   used,
			"requested_credits": course.Credits,
			"total":             used + course.Credits,
			"limit":             s.maxCredits,
		})
	}

	enrolled, err := s.enrollments.CountByCourse(ctx, courseID)
	if err != nil {
		return internalError(err, "failed to count course enrollments")
	}
	if enrolled >= course.Capacity {
		return appErrors.WithDetails(appErrors.ErrCourseFull, "course is full", map[string]interface{}{
			"enrolled": enrolled,
			"capacity": course.Capacity,
		})
	}

	window, err := course.TimeWindow()
	if err != nil {
		return internalError(err, "course has an invalid stored schedule")
	}
	for _, other := range current {
		otherWindow, err := other.TimeWindow()
		if err != nil {
			return internalError(err, "enrolled course has an invalid stored schedule")
		}
		if window.Conflicts(otherWindow) {
			return appErrors.WithDetails(appErrors.ErrScheduleConflict, "schedule conflicts with "+other.Code, map[string]interface{}{
				"conflicting_course_id":   other.ID,
				"conflicting_course_code": other.Code,
				"conflicting_schedule":    other.Schedule,
			})
		}
	}
	return nil
}

// Unenroll removes exactly the one (student, course) link.
func (s *EnrollmentService) Unenroll(ctx context.Context, studentID, courseID string) error {
	release, err := s.lock.acquire(ctx, studentID)
	if err != nil {
		return err
	}
	defer release()

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		removed, err := s.enrollments.Delete(ctx, studentID, courseID)
		if err != nil {
			return internalError(err, "failed to remove enrollment")
		}
		if !removed {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil
	})
	if err != nil {
		if !appErrors.HasCode(err, appErrors.CodeNotFound) {
			s.logger.Error("unenroll failed", zap.String("student_id", studentID), zap.String("course_id", courseID), zap.Error(err))
		}
		return err
	}

	s.metrics.RecordEnrollmentDecision(OutcomeUnenrolled)
	s.logger.Info("student unenrolled", zap.String("student_id", studentID), zap.String("course_id", courseID))
	s.invalidate(studentID, courseID)
	return nil
}

func (s *EnrollmentService) recordRejection(err error, req EnrollRequest) {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) && appErr.Code != appErrors.CodeInternal {
		s.metrics.RecordEnrollmentDecision(appErr.Code)
		s.logger.Info("enrollment rejected",
			zap.String("student_id", req.StudentID),
			zap.String("course_id", req.CourseID),
			zap.String("code", appErr.Code),
			zap.Any("details", appErr.Details))
		return
	}
	s.metrics.RecordEnrollmentDecision(OutcomeError)
	s.logger.Error("enrollment failed", zap.String("student_id", req.StudentID), zap.String("course_id", req.CourseID), zap.Error(err))
}

func (s *EnrollmentService) invalidate(studentID, courseID string) {
	if s.invalidator == nil {
		return
	}
	s.invalidator.Invalidate([]string{studentID}, []string{courseID})
}
