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

const studentColumns = "s.id, s.national_id, s.full_name, s.email, s.term, s.created_at, s.updated_at"

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Term > 0 {
		conditions = append(conditions, fmt.Sprintf("s.term = $%d", len(args)+1))
		args = append(args, filter.Term)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(s.full_name) LIKE $%d OR LOWER(s.national_id) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base := "FROM students s"
	if len(conditions) > 0 {
		base += " WHERE " + strings.Join(conditions, " AND ")
	}

	column := sortColumn(map[string]string{
		"full_name":   "s.full_name",
		"national_id": "s.national_id",
		"term":        "s.term",
		"created_at":  "s.created_at",
	}, filter.SortBy, "full_name")
	_, size, offset := paging(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s, s.id LIMIT %d OFFSET %d", studentColumns, base, column, sortDirection(filter.SortOrder), size, offset)

	q := queryer(ctx, r.db)
	var students []models.Student
	if err := sqlx.SelectContext(ctx, q, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := sqlx.GetContext(ctx, q, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student. Missing rows yield sql.ErrNoRows.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	return r.find(ctx, id, false)
}

// FindByIDForUpdate fetches a student and, inside a transaction, locks the
// row until commit.
func (r *StudentRepository) FindByIDForUpdate(ctx context.Context, id string) (*models.Student, error) {
	return r.find(ctx, id, true)
}

func (r *StudentRepository) find(ctx context.Context, id string, lock bool) (*models.Student, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	query := "SELECT " + studentColumns + " FROM students s WHERE s.id = $1"
	if lock {
		query = forUpdate(ctx, query)
	}
	var student models.Student
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// ExistsByNationalID checks if a student with the national ID exists,
// optionally excluding one student.
func (r *StudentRepository) ExistsByNationalID(ctx context.Context, nationalID, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE national_id = $1"
	args := []interface{}{nationalID}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := sqlx.GetContext(ctx, queryer(ctx, r.db), &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check national id: %w", err)
	}
	return true, nil
}

// ListByCourse returns the students enrolled in a course ordered by name.
func (r *StudentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Student, error) {
	if err := validID(courseID); err != nil {
		return []models.Student{}, nil
	}
	query := "SELECT " + studentColumns + ` FROM students s
        JOIN enrollments e ON e.student_id = s.id
        WHERE e.course_id = $1 ORDER BY s.full_name, s.id`
	students := []models.Student{}
	if err := sqlx.SelectContext(ctx, queryer(ctx, r.db), &students, query, courseID); err != nil {
		return nil, fmt.Errorf("list course students: %w", err)
	}
	return students, nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, national_id, full_name, email, term, created_at, updated_at)
        VALUES (:id, :national_id, :full_name, :email, :term, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, queryer(ctx, r.db), query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update modifies an existing student. The ID is never rewritten.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET national_id = :national_id, full_name = :full_name, email = :email, term = :term, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, queryer(ctx, r.db), query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Delete removes the student row. It reports whether a row was removed.
func (r *StudentRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := queryer(ctx, r.db).ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete student: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete student rows: %w", err)
	}
	return affected > 0, nil
}
