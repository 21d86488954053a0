package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/pkg/database"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ExistsByNationalID(ctx context.Context, nationalID, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
}

type studentCourseReader interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Course, error)
}

// readCache is the subset of CacheService the read paths use.
type readCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CreateStudentRequest holds payload for creating students.
type CreateStudentRequest struct {
	NationalID string `json:"national_id" validate:"required,max=32"`
	FullName   string `json:"full_name" validate:"required,max=120"`
	Email      string `json:"email" validate:"required,email,max=254"`
	Term       int    `json:"term" validate:"required,min=1,max=10"`
}

// UpdateStudentRequest holds a partial update. Nil fields are left unchanged.
type UpdateStudentRequest struct {
	NationalID *string `json:"national_id" validate:"omitempty,max=32"`
	FullName   *string `json:"full_name" validate:"omitempty,max=120"`
	Email      *string `json:"email" validate:"omitempty,email,max=254"`
	Term       *int    `json:"term" validate:"omitempty,min=1,max=10"`
}

// StudentService handles student use-cases.
type StudentService struct {
	repo      studentRepository
	courses   studentCourseReader
	cache     readCache
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service. cache may be nil.
func NewStudentService(repo studentRepository, courses studentCourseReader, cache readCache, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, courses: courses, cache: cache, validator: validate, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list students")
	}
	if students == nil {
		students = []models.Student{}
	}
	return students, newPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns the student with the enrolled courses and credit total.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	courses, err := s.enrolledCourses(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.StudentDetail{Student: *student, Courses: courses, TotalCredits: models.TotalCredits(courses)}, nil
}

// Courses returns the courses the student is enrolled in.
func (s *StudentService) Courses(ctx context.Context, id string) ([]models.Course, error) {
	if _, err := s.find(ctx, id); err != nil {
		return nil, err
	}
	return s.enrolledCourses(ctx, id)
}

// Create registers a new student.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	req.NationalID = strings.TrimSpace(req.NationalID)
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	if err := s.ensureNationalIDFree(ctx, req.NationalID, ""); err != nil {
		return nil, err
	}
	student := &models.Student{
		NationalID: req.NationalID,
		FullName:   req.FullName,
		Email:      req.Email,
		Term:       req.Term,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, s.writeError(err, "failed to create student")
	}
	s.logger.Info("student created", zap.String("student_id", student.ID))
	return student, nil
}

// Update applies a partial update to an existing student.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	trimPtr(req.NationalID)
	trimPtr(req.FullName)
	trimPtr(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	if req.FullName != nil && *req.FullName == "" {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid student payload", map[string]interface{}{"full_name": "must not be empty"})
	}
	if req.NationalID != nil && *req.NationalID == "" {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid student payload", map[string]interface{}{"national_id": "must not be empty"})
	}
	if req.Email != nil && *req.Email == "" {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid student payload", map[string]interface{}{"email": "must not be empty"})
	}

	student, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.NationalID != nil && *req.NationalID != student.NationalID {
		if err := s.ensureNationalIDFree(ctx, *req.NationalID, id); err != nil {
			return nil, err
		}
		student.NationalID = *req.NationalID
	}
	if req.FullName != nil {
		student.FullName = *req.FullName
	}
	if req.Email != nil {
		student.Email = *req.Email
	}
	if req.Term != nil {
		student.Term = *req.Term
	}
	if err := s.repo.Update(ctx, student); err != nil {
		return nil, s.writeError(err, "failed to update student")
	}
	return student, nil
}

func (s *StudentService) find(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, internalError(err, "failed to load student")
	}
	return student, nil
}

func (s *StudentService) enrolledCourses(ctx context.Context, id string) ([]models.Course, error) {
	key := fmt.Sprintf(studentCoursesKeyFormat, id)
	var cached []models.Course
	if s.cache != nil {
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}
	courses, err := s.courses.ListByStudent(ctx, id)
	if err != nil {
		return nil, internalError(err, "failed to load student courses")
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, courses, readModelTTL)
	}
	return courses, nil
}

func (s *StudentService) ensureNationalIDFree(ctx context.Context, nationalID, excludeID string) error {
	exists, err := s.repo.ExistsByNationalID(ctx, nationalID, excludeID)
	if err != nil {
		return internalError(err, "failed to validate national id")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "national id already registered")
	}
	return nil
}

func (s *StudentService) writeError(err error, message string) error {
	if constraint, ok := database.UniqueViolation(err); ok && constraint == database.ConstraintStudentNatID {
		return appErrors.Clone(appErrors.ErrConflict, "national id already registered")
	}
	return internalError(err, message)
}

func trimPtr(v *string) {
	if v != nil {
		*v = strings.TrimSpace(*v)
	}
}

func newPagination(page, size, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
