package models

import "time"

// Enrollment links one student to one course. The pair is unique.
type Enrollment struct {
	StudentID  string    `db:"student_id" json:"student_id"`
	CourseID   string    `db:"course_id" json:"course_id"`
	EnrolledAt time.Time `db:"enrolled_at" json:"enrolled_at"`
}

// CascadeResult reports what a cascading removal deleted.
type CascadeResult struct {
	StudentID    string   `json:"student_id,omitempty"`
	CourseID     string   `json:"course_id,omitempty"`
	RemovedLinks int      `json:"removed_links"`
	CourseIDs    []string `json:"course_ids,omitempty"`
	StudentIDs   []string `json:"student_ids,omitempty"`
}
