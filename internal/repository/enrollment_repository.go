package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollment links.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Exists reports whether the (student, course) link is present.
func (r *EnrollmentRepository) Exists(ctx context.Context, studentID, courseID string) (bool, error) {
	if validID(studentID) != nil || validID(courseID) != nil {
		return false, nil
	}
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 LIMIT 1`
	var exists int
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &exists, query, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// CountByCourse returns how many students hold a seat in the course.
func (r *EnrollmentRepository) CountByCourse(ctx context.Context, courseID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE course_id = $1`
	var count int
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &count, query, courseID); err != nil {
		return 0, fmt.Errorf("count course enrollments: %w", err)
	}
	return count, nil
}

// ListByStudent returns every link of a student.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	const query = `SELECT student_id, course_id, enrolled_at FROM enrollments WHERE student_id = $1 ORDER BY enrolled_at, course_id`
	enrollments := []models.Enrollment{}
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// ListByCourse returns every link of a course.
func (r *EnrollmentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	const query = `SELECT student_id, course_id, enrolled_at FROM enrollments WHERE course_id = $1 ORDER BY enrolled_at, student_id`
	enrollments := []models.Enrollment{}
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &enrollments, query, courseID); err != nil {
		return nil, fmt.Errorf("list course enrollments: %w", err)
	}
	return enrollments, nil
}

// Create persists a new enrollment link.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollments (student_id, course_id, enrolled_at) VALUES (:student_id, :course_id, :enrolled_at)`
	if _, err := sqlx.NamedExecContext(ctx, queryer(ctx, r.db), query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Delete removes one link and reports whether it existed.
func (r *EnrollmentRepository) Delete(ctx context.Context, studentID, courseID string) (bool, error) {
	if validID(studentID) != nil || validID(courseID) != nil {
		return false, nil
	}
	affected, err := r.exec(ctx, "delete enrollment", `DELETE FROM enrollments WHERE student_id = $1 AND course_id = $2`, studentID, courseID)
	return affected > 0, err
}

// DeleteByStudent removes all links of a student.
func (r *EnrollmentRepository) DeleteByStudent(ctx context.Context, studentID string) (int, error) {
	return r.exec(ctx, "delete student enrollments", `DELETE FROM enrollments WHERE student_id = $1`, studentID)
}

// DeleteByCourse removes all links of a course.
func (r *EnrollmentRepository) DeleteByCourse(ctx context.Context, courseID string) (int, error) {
	return r.exec(ctx, "delete course enrollments", `DELETE FROM enrollments WHERE course_id = $1`, courseID)
}

func (r *EnrollmentRepository) exec(ctx context.Context, op, query string, args ...interface{}) (int, error) {
	res, err := queryer(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows: %w", op, err)
	}
	return int(affected), nil
}
