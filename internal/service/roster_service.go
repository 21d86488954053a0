package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
	"github.com/noah-isme/course-enrollment-api/pkg/export"
)

type rosterSource interface {
	Get(ctx context.Context, id string) (*models.CourseDetail, error)
}

// RosterDocument is a rendered roster ready to be streamed.
type RosterDocument struct {
	Filename    string
	ContentType string
	Body        []byte
}

// RosterService renders course rosters as CSV or PDF documents.
type RosterService struct {
	courses rosterSource
	logger  *zap.Logger
	now     func() time.Time
}

// NewRosterService constructs a RosterService.
func NewRosterService(courses rosterSource, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{courses: courses, logger: logger, now: time.Now}
}

// Export renders the roster of a course in the requested format.
func (s *RosterService) Export(ctx context.Context, courseID, format string) (*RosterDocument, error) {
	renderer, err := export.ForFormat(strings.ToLower(strings.TrimSpace(format)))
	if err != nil {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "unsupported roster format", map[string]interface{}{"format": "must be csv or pdf"})
	}
	detail, err := s.courses.Get(ctx, courseID)
	if err != nil {
		return nil, err
	}

	table := export.Table{
		Title:    fmt.Sprintf("%s %s", detail.Code, detail.Name),
		Subtitle: fmt.Sprintf("Schedule %s | %d credits | %d/%d seats taken | generated %s", detail.Schedule, detail.Credits, detail.Enrolled, detail.Capacity, s.now().UTC().Format(time.RFC3339)),
		Columns:  []string{"#", "National ID", "Full name", "Email", "Term"},
		Rows:     make([][]string, 0, len(detail.Students)),
	}
	for i, st := range detail.Students {
		table.Rows = append(table.Rows, []string{strconv.Itoa(i + 1), st.NationalID, st.FullName, st.Email, strconv.Itoa(st.Term)})
	}

	body, err := renderer.Render(table)
	if err != nil {
		return nil, internalError(err, "failed to render roster")
	}
	s.logger.Debug("roster exported", zap.String("course_id", courseID), zap.String("format", renderer.Extension()), zap.Int("rows", len(table.Rows)))
	return &RosterDocument{
		Filename:    fmt.Sprintf("roster-%s.%s", strings.ToLower(detail.Code), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}
