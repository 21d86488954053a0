package models

import "time"

// Course is a single-section offering with a weekly time window.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Credits   int       `db:"credits" json:"credits"`
	Schedule  string    `db:"schedule" json:"schedule"`
	Capacity  int       `db:"capacity" json:"capacity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TimeWindow parses the stored schedule.
func (c Course) TimeWindow() (TimeWindow, error) {
	return ParseTimeWindow(c.Schedule)
}

// CourseFilter provides filters for listing courses.
type CourseFilter struct {
	Search    string
	Code      string
	Credits   int
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CourseDetail enriches Course with its roster.
type CourseDetail struct {
	Course
	Students  []Student `json:"students"`
	Enrolled  int       `json:"enrolled"`
	SeatsLeft int       `json:"seats_left"`
}

// TotalCredits sums the credit weight of the given courses.
func TotalCredits(courses []Course) int {
	total := 0
	for _, c := range courses {
		total += c.Credits
	}
	return total
}
