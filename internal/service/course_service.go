package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/pkg/database"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

// DefaultCourseCapacity applies when a course is created without capacity.
const DefaultCourseCapacity = 30

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindByIDForUpdate(ctx context.Context, id string) (*models.Course, error)
	ExistsByCode(ctx context.Context, code, excludeID string) (bool, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
}

type courseRosterReader interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Student, error)
}

// CreateCourseRequest holds payload for creating courses.
type CreateCourseRequest struct {
	Code     string `json:"code" validate:"required,min=4,max=10"`
	Name     string `json:"name" validate:"required,max=120"`
	Credits  int    `json:"credits" validate:"required,min=1,max=10"`
	Schedule string `json:"schedule" validate:"required,timewindow"`
	Capacity int    `json:"capacity" validate:"omitempty,min=1"`
}

// UpdateCourseRequest holds a partial update. Nil fields are left unchanged.
type UpdateCourseRequest struct {
	Code     *string `json:"code" validate:"omitempty,min=4,max=10"`
	Name     *string `json:"name" validate:"omitempty,min=1,max=120"`
	Credits  *int    `json:"credits" validate:"omitempty,min=1,max=10"`
	Schedule *string `json:"schedule" validate:"omitempty,timewindow"`
	Capacity *int    `json:"capacity" validate:"omitempty,min=1"`
}

// CourseService handles course use-cases.
type CourseService struct {
	tx              transactor
	repo            courseRepository
	roster          courseRosterReader
	cache           readCache
	invalidator     Invalidator
	validator       *validator.Validate
	logger          *zap.Logger
	maxCredits      int
	defaultCapacity int
}

// CourseOptions carries policy and optional collaborators for CourseService.
type CourseOptions struct {
	MaxCredits      int
	DefaultCapacity int
	Cache           readCache
	Invalidator     Invalidator
}

// NewCourseService constructs the course service.
func NewCourseService(tx transactor, repo courseRepository, roster courseRosterReader, validate *validator.Validate, logger *zap.Logger, opts CourseOptions) *CourseService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxCredits <= 0 {
		opts.MaxCredits = DefaultMaxCredits
	}
	if opts.DefaultCapacity <= 0 {
		opts.DefaultCapacity = DefaultCourseCapacity
	}
	return &CourseService{
		tx:              tx,
		repo:            repo,
		roster:          roster,
		cache:           opts.Cache,
		invalidator:     opts.Invalidator,
		validator:       validate,
		logger:          logger,
		maxCredits:      opts.MaxCredits,
		defaultCapacity: opts.DefaultCapacity,
	}
}

// List returns courses and pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	filter.Code = strings.ToUpper(strings.TrimSpace(filter.Code))
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list courses")
	}
	if courses == nil {
		courses = []models.Course{}
	}
	return courses, newPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns the course with its enrolled students and remaining seats.
func (s *CourseService) Get(ctx context.Context, id string) (*models.CourseDetail, error) {
	course, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	students, err := s.enrolledStudents(ctx, id)
	if err != nil {
		return nil, err
	}
	seats := course.Capacity - len(students)
	if seats < 0 {
		seats = 0
	}
	return &models.CourseDetail{Course: *course, Students: students, Enrolled: len(students), SeatsLeft: seats}, nil
}

// Students returns the roster of the course.
func (s *CourseService) Students(ctx context.Context, id string) ([]models.Student, error) {
	if _, err := s.find(ctx, id); err != nil {
		return nil, err
	}
	return s.enrolledStudents(ctx, id)
}

// Create registers a new course. The schedule is stored in canonical form.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid course payload")
	}
	window, err := models.ParseTimeWindow(req.Schedule)
	if err != nil {
		return nil, scheduleError(err)
	}
	if err := s.ensureCodeFree(ctx, req.Code, ""); err != nil {
		return nil, err
	}
	capacity := req.Capacity
	if capacity == 0 {
		capacity = s.defaultCapacity
	}
	course := &models.Course{
		Code:     req.Code,
		Name:     req.Name,
		Credits:  req.Credits,
		Schedule: window.String(),
		Capacity: capacity,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, s.writeError(err, "failed to create course")
	}
	s.logger.Info("course created", zap.String("course_id", course.ID), zap.String("code", course.Code))
	return course, nil
}

// Update applies a partial update. Changes to credits, schedule or capacity
// must keep every current enrollment admissible: no student over the credit
// cap, no new schedule conflicts, no more students than seats.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest) (*models.Course, error) {
	if req.Code != nil {
		upper := strings.ToUpper(strings.TrimSpace(*req.Code))
		req.Code = &upper
	}
	trimPtr(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid course payload")
	}

	var course *models.Course
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return internalError(err, "failed to load course")
		}
		updated := *current
		if req.Code != nil && *req.Code != current.Code {
			if err := s.ensureCodeFree(ctx, *req.Code, id); err != nil {
				return err
			}
			updated.Code = *req.Code
		}
		if req.Name != nil {
			updated.Name = *req.Name
		}
		if req.Credits != nil {
			updated.Credits = *req.Credits
		}
		if req.Capacity != nil {
			updated.Capacity = *req.Capacity
		}
		if req.Schedule != nil {
			window, err := models.ParseTimeWindow(*req.Schedule)
			if err != nil {
				return scheduleError(err)
			}
			updated.Schedule = window.String()
		}
		if err := s.checkEnrolled(ctx, *current, updated); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, &updated); err != nil {
			return s.writeError(err, "failed to update course")
		}
		course = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.invalidator != nil {
		students, err := s.roster.ListByCourse(ctx, id)
		if err != nil {
			s.logger.Warn("load roster for invalidation failed", zap.String("course_id", id), zap.Error(err))
		}
		s.invalidator.Invalidate(studentIDsOf(students), []string{id})
	}
	return course, nil
}

// checkEnrolled re-runs the admission rules a changed course could break for
// the students already holding a seat.
func (s *CourseService) checkEnrolled(ctx context.Context, before, after models.Course) error {
	if before.Credits >= after.Credits && before.Schedule == after.Schedule && before.Capacity <= after.Capacity {
		return nil
	}
	students, err := s.roster.ListByCourse(ctx, before.ID)
	if err != nil {
		return internalError(err, "failed to load course roster")
	}
	if len(students) > after.Capacity {
		return appErrors.WithDetails(appErrors.ErrValidation, "capacity below current enrollment", map[string]interface{}{
			"enrolled": len(students),
			"capacity": after.Capacity,
		})
	}
	if before.Credits >= after.Credits && before.Schedule == after.Schedule {
		return nil
	}
	window, err := after.TimeWindow()
	if err != nil {
		return scheduleError(err)
	}
	for _, student := range students {
		courses, err := s.repo.ListByStudent(ctx, student.ID)
		if err != nil {
			return internalError(err, "failed to load student courses")
		}
		total := after.Credits
		for _, other := range courses {
			if other.ID == before.ID {
				continue
			}
			total += other.Credits
			otherWindow, err := other.TimeWindow()
			if err != nil {
				return internalError(err, "enrolled course has an invalid stored schedule")
			}
			if window.Conflicts(otherWindow) {
				return appErrors.WithDetails(appErrors.ErrScheduleConflict, "new schedule conflicts for an enrolled student", map[string]interface{}{
					"student_id":            student.ID,
					"conflicting_course_id": other.ID,
					"conflicting_schedule":  other.Schedule,
				})
			}
		}
		if total > s.maxCredits {
			return appErrors.WithDetails(appErrors.ErrCreditLimitExceeded, "new credits exceed the limit for an enrolled student", map[string]interface{}{
				"student_id": student.ID,
				"total":      total,
				"limit":      s.maxCredits,
			})
		}
	}
	return nil
}

func (s *CourseService) find(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, internalError(err, "failed to load course")
	}
	return course, nil
}

func (s *CourseService) enrolledStudents(ctx context.Context, id string) ([]models.Student, error) {
	key := fmt.Sprintf(courseStudentsKeyFormat, id)
	var cached []models.Student
	if s.cache != nil {
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}
	students, err := s.roster.ListByCourse(ctx, id)
	if err != nil {
		return nil, internalError(err, "failed to load course roster")
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, students, readModelTTL)
	}
	return students, nil
}

func (s *CourseService) ensureCodeFree(ctx context.Context, code, excludeID string) error {
	exists, err := s.repo.ExistsByCode(ctx, code, excludeID)
	if err != nil {
		return internalError(err, "failed to validate course code")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "course code already registered")
	}
	return nil
}

func (s *CourseService) writeError(err error, message string) error {
	if constraint, ok := database.UniqueViolation(err); ok && constraint == database.ConstraintCourseCode {
		return appErrors.Clone(appErrors.ErrConflict, "course code already registered")
	}
	return internalError(err, message)
}

func scheduleError(err error) error {
	appErr := appErrors.WithDetails(appErrors.ErrValidation, "invalid course schedule", map[string]interface{}{"schedule": err.Error()})
	appErr.Err = err
	return appErr
}

func studentIDsOf(students []models.Student) []string {
	ids := make([]string, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}
	return ids
}
