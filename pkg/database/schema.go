package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Enrollment rows reference both endpoints with RESTRICT: the service removes
// links explicitly before deleting a student or course, and the constraint
// makes any missed link fail the transaction instead of dangling.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
        id UUID PRIMARY KEY,
        national_id VARCHAR(32) NOT NULL,
        full_name VARCHAR(120) NOT NULL,
        email VARCHAR(254) NOT NULL,
        term SMALLINT NOT NULL CHECK (term BETWEEN 1 AND 10),
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        CONSTRAINT students_national_id_key UNIQUE (national_id)
    )`,
	`CREATE TABLE IF NOT EXISTS courses (
        id UUID PRIMARY KEY,
        code VARCHAR(10) NOT NULL,
        name VARCHAR(120) NOT NULL,
        credits SMALLINT NOT NULL CHECK (credits BETWEEN 1 AND 10),
        schedule VARCHAR(11) NOT NULL,
        capacity INTEGER NOT NULL CHECK (capacity > 0),
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        CONSTRAINT courses_code_key UNIQUE (code)
    )`,
	`CREATE TABLE IF NOT EXISTS enrollments (
        student_id UUID NOT NULL REFERENCES students (id) ON DELETE RESTRICT,
        course_id UUID NOT NULL REFERENCES courses (id) ON DELETE RESTRICT,
        enrolled_at TIMESTAMPTZ NOT NULL,
        CONSTRAINT enrollments_pkey PRIMARY KEY (student_id, course_id)
    )`,
	`CREATE INDEX IF NOT EXISTS idx_enrollments_course_id ON enrollments (course_id)`,
	`CREATE INDEX IF NOT EXISTS idx_students_term ON students (term)`,
}

// Migrate creates the tables when missing. It runs in one transaction.
func Migrate(ctx context.Context, db *sqlx.DB) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range schema {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
