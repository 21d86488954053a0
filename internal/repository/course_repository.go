package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

const courseColumns = "c.id, c.code, c.name, c.credits, c.schedule, c.capacity, c.created_at, c.updated_at"

// CourseRepository handles persistence of courses.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns courses filtered by the provided criteria.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Credits > 0 {
		conditions = append(conditions, fmt.Sprintf("c.credits = $%d", len(args)+1))
		args = append(args, filter.Credits)
	}
	if filter.Code != "" {
		conditions = append(conditions, fmt.Sprintf("c.code = $%d", len(args)+1))
		args = append(args, filter.Code)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(c.name) LIKE $%d OR LOWER(c.code) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base := "FROM courses c"
	if len(conditions) > 0 {
		base += " WHERE " + strings.Join(conditions, " AND ")
	}

	column := sortColumn(map[string]string{
		"code":     "c.code",
		"name":     "c.name",
		"credits":  "c.credits",
		"schedule": "c.schedule",
	}, filter.SortBy, "code")
	_, size, offset := paging(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s, c.id LIMIT %d OFFSET %d", courseColumns, base, column, sortDirection(filter.SortOrder), size, offset)

	q := queryer(ctx, r.db)
	var courses []models.Course
	if err := sqlx.SelectContext(ctx, q, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	var total int
	if err := sqlx.GetContext(ctx, q, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	return r.find(ctx, id, false)
}

// FindByIDForUpdate returns a course, row-locked when inside a transaction.
func (r *CourseRepository) FindByIDForUpdate(ctx context.Context, id string) (*models.Course, error) {
	return r.find(ctx, id, true)
}

func (r *CourseRepository) find(ctx context.Context, id string, lock bool) (*models.Course, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	query := "SELECT " + courseColumns + " FROM courses c WHERE c.id = $1"
	if lock {
		query = forUpdate(ctx, query)
	}
	var course models.Course
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// ExistsByCode checks whether a course code is taken, optionally excluding one course.
func (r *CourseRepository) ExistsByCode(ctx context.Context, code, excludeID string) (bool, error) {
	query := "SELECT 1 FROM courses WHERE code = $1"
	args := []interface{}{code}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check course code: %w", err)
	}
	return true, nil
}

// ListByStudent returns the courses a student is enrolled in, by start time.
func (r *CourseRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Course, error) {
	if err := validID(studentID); err != nil {
		return []models.Course{}, nil
	}
	query := "SELECT " + courseColumns + ` FROM courses c
        JOIN enrollments e ON e.course_id = c.id
        WHERE e.student_id = $1 ORDER BY c.schedule, c.code`
	courses := []models.Course{}
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &courses, query, studentID); err != nil {
		return nil, fmt.Errorf("list student courses: %w", err)
	}
	return courses, nil
}

// Create persists a new course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, code, name, credits, schedule, capacity, created_at, updated_at)
        VALUES (:id, :code, :name, :credits, :schedule, :capacity, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, queryer(ctx, r.db), query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update modifies an existing course.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET code = :code, name = :name, credits = :credits, schedule = :schedule, capacity = :capacity, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, queryer(ctx, r.db), query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// Delete removes the course row and reports whether it existed.
func (r *CourseRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := queryer(ctx, r.db).ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete course: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete course rows: %w", err)
	}
	return affected > 0, nil
}
