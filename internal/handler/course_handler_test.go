package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

type courseServiceMock struct {
	filter    models.CourseFilter
	updateErr error
}

func (m *courseServiceMock) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	m.filter = filter
	return nil, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (m *courseServiceMock) Get(ctx context.Context, id string) (*models.CourseDetail, error) {
	return &models.CourseDetail{Course: models.Course{ID: id}}, nil
}

func (m *courseServiceMock) Students(ctx context.Context, id string) ([]models.Student, error) {
	return []models.Student{{ID: "s-1"}}, nil
}

func (m *courseServiceMock) Create(ctx context.Context, req service.CreateCourseRequest) (*models.Course, error) {
	return &models.Course{ID: "c-new", Code: req.Code}, nil
}

func (m *courseServiceMock) Update(ctx context.Context, id string, req service.UpdateCourseRequest) (*models.Course, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &models.Course{ID: id}, nil
}

type rosterMock struct {
	format string
	err    error
}

func (m *rosterMock) Export(ctx context.Context, courseID, format string) (*service.RosterDocument, error) {
	m.format = format
	if m.err != nil {
		return nil, m.err
	}
	return &service.RosterDocument{Filename: "roster-CS101.csv", ContentType: "text/csv", Body: []byte("#,National ID\n")}, nil
}

func courseRouter(svc *courseServiceMock, cascade *cascadeMock, roster *rosterMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewCourseHandler(svc, cascade, roster)
	router.GET("/courses", h.List)
	router.POST("/courses", h.Create)
	router.GET("/courses/:id", h.Get)
	router.PATCH("/courses/:id", h.Update)
	router.DELETE("/courses/:id", h.Delete)
	router.GET("/courses/:id/students", h.Students)
	router.GET("/courses/:id/roster", h.Roster)
	return router
}

func TestCourseHandlerListFilters(t *testing.T) {
	svc := &courseServiceMock{}
	w := serve(courseRouter(svc, &cascadeMock{}, &rosterMock{}), http.MethodGet, "/courses?credits=3&code=CS101&limit=10", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, svc.filter.Credits)
	assert.Equal(t, "CS101", svc.filter.Code)
	assert.Equal(t, 1, svc.filter.Page)
	assert.Equal(t, 10, svc.filter.PageSize)
}

func TestCourseHandlerRosterDownload(t *testing.T) {
	roster := &rosterMock{}
	w := serve(courseRouter(&courseServiceMock{}, &cascadeMock{}, roster), http.MethodGet, "/courses/c-1/roster", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", roster.format)
	assert.Equal(t, `attachment; filename="roster-CS101.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, "#,National ID\n", w.Body.String())
}

func TestCourseHandlerRosterUnsupportedFormat(t *testing.T) {
	roster := &rosterMock{err: appErrors.Clone(appErrors.ErrValidation, "unsupported export format")}
	w := serve(courseRouter(&courseServiceMock{}, &cascadeMock{}, roster), http.MethodGet, "/courses/c-1/roster?format=xlsx", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "xlsx", roster.format)
}

func TestCourseHandlerUpdateRejectedByEnrolledStudents(t *testing.T) {
	svc := &courseServiceMock{updateErr: appErrors.Clone(appErrors.ErrScheduleConflict, "new schedule clashes with an enrolled student")}
	w := serve(courseRouter(svc, &cascadeMock{}, &rosterMock{}), http.MethodPatch, "/courses/c-1", `{"schedule":"09:00-10:00"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), appErrors.CodeScheduleConflict)
}

func TestCourseHandlerDeleteCascades(t *testing.T) {
	cascade := &cascadeMock{}
	w := serve(courseRouter(&courseServiceMock{}, cascade, &rosterMock{}), http.MethodDelete, "/courses/c-1", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"course:c-1"}, cascade.calls)
	assert.Contains(t, w.Body.String(), `"removed_links":1`)
}

func TestCourseHandlerCreateInvalidJSON(t *testing.T) {
	w := serve(courseRouter(&courseServiceMock{}, &cascadeMock{}, &rosterMock{}), http.MethodPost, "/courses", `{"code":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
