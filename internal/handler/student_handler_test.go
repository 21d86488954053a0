package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-enrollment-api/internal/middleware"
	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

type studentServiceMock struct {
	filter     models.StudentFilter
	updateReq  service.UpdateStudentRequest
	getErr     error
	createErr  error
	courseList []models.Course
}

func (m *studentServiceMock) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	m.filter = filter
	return []models.Student{{ID: "s-1"}}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: 1}, nil
}

func (m *studentServiceMock) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &models.StudentDetail{Student: models.Student{ID: id}}, nil
}

func (m *studentServiceMock) Courses(ctx context.Context, id string) ([]models.Course, error) {
	return m.courseList, nil
}

func (m *studentServiceMock) Create(ctx context.Context, req service.CreateStudentRequest) (*models.Student, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &models.Student{ID: "s-new", NationalID: req.NationalID}, nil
}

func (m *studentServiceMock) Update(ctx context.Context, id string, req service.UpdateStudentRequest) (*models.Student, error) {
	m.updateReq = req
	return &models.Student{ID: id}, nil
}

type cascadeMock struct {
	err   error
	calls []string
}

func (m *cascadeMock) DeleteStudent(ctx context.Context, id string) (*models.CascadeResult, error) {
	m.calls = append(m.calls, "student:"+id)
	if m.err != nil {
		return nil, m.err
	}
	return &models.CascadeResult{StudentID: id, RemovedLinks: 2}, nil
}

func (m *cascadeMock) DeleteCourse(ctx context.Context, id string) (*models.CascadeResult, error) {
	m.calls = append(m.calls, "course:"+id)
	if m.err != nil {
		return nil, m.err
	}
	return &models.CascadeResult{CourseID: id, RemovedLinks: 1}, nil
}

func (m *cascadeMock) CancelTerm(ctx context.Context, id string) (*models.CascadeResult, error) {
	m.calls = append(m.calls, "term:"+id)
	if m.err != nil {
		return nil, m.err
	}
	return &models.CascadeResult{StudentID: id, RemovedLinks: 3}, nil
}

func studentRouter(svc *studentServiceMock, cascade *cascadeMock, claims *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	if claims != nil {
		router.Use(func(c *gin.Context) { c.Set(middleware.ContextUserKey, claims) })
	}
	h := NewStudentHandler(svc, cascade)
	router.GET("/students", h.List)
	router.POST("/students", h.Create)
	router.GET("/students/:id", h.Get)
	router.PATCH("/students/:id", h.Update)
	router.DELETE("/students/:id", h.Delete)
	router.GET("/students/:id/courses", h.Courses)
	router.DELETE("/students/:id/enrollments", h.CancelTerm)
	return router
}

func serve(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(w, req)
	return w
}

func TestStudentHandlerListParsesFilters(t *testing.T) {
	svc := &studentServiceMock{}
	w := serve(studentRouter(svc, &cascadeMock{}, nil), http.MethodGet, "/students?term=3&search=%20ana%20&page=2&limit=5&sort=term&order=desc", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StudentFilter{Search: "ana", Term: 3, Page: 2, PageSize: 5, SortBy: "term", SortOrder: "desc"}, svc.filter)
	assert.Contains(t, w.Body.String(), `"total_count":1`)
}

func TestStudentHandlerCreateConflict(t *testing.T) {
	svc := &studentServiceMock{createErr: appErrors.Clone(appErrors.ErrConflict, "national id already registered")}
	w := serve(studentRouter(svc, &cascadeMock{}, nil), http.MethodPost, "/students", `{"national_id":"1","full_name":"A","email":"a@b.co","term":1}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStudentHandlerPatchKeepsAbsentFieldsNil(t *testing.T) {
	svc := &studentServiceMock{}
	w := serve(studentRouter(svc, &cascadeMock{}, nil), http.MethodPatch, "/students/s-1", `{"term":4}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.updateReq.Term)
	assert.Equal(t, 4, *svc.updateReq.Term)
	assert.Nil(t, svc.updateReq.FullName)
	assert.Nil(t, svc.updateReq.NationalID)
}

func TestStudentHandlerDeleteCascades(t *testing.T) {
	cascade := &cascadeMock{}
	w := serve(studentRouter(&studentServiceMock{}, cascade, nil), http.MethodDelete, "/students/s-1", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"student:s-1"}, cascade.calls)
	assert.Contains(t, w.Body.String(), `"removed_links":2`)
}

func TestStudentHandlerCancelTerm(t *testing.T) {
	cascade := &cascadeMock{err: appErrors.Clone(appErrors.ErrNoActiveEnrollments, "student has no active enrollments")}
	w := serve(studentRouter(&studentServiceMock{}, cascade, nil), http.MethodDelete, "/students/s-1/enrollments", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), appErrors.CodeNoActiveEnrollments)

	self := &models.JWTClaims{UserID: "u-1", Role: models.RoleStudent, StudentID: "s-1"}
	cascade = &cascadeMock{}
	w = serve(studentRouter(&studentServiceMock{}, cascade, self), http.MethodDelete, "/students/s-2/enrollments", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, cascade.calls)
}

func TestStudentHandlerCoursesReportsCredits(t *testing.T) {
	svc := &studentServiceMock{courseList: []models.Course{{ID: "c-1", Credits: 3}, {ID: "c-2", Credits: 4}}}
	w := serve(studentRouter(svc, &cascadeMock{}, nil), http.MethodGet, "/students/s-1/courses", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_credits":7`)
}

func TestStudentHandlerGetNotFound(t *testing.T) {
	svc := &studentServiceMock{getErr: appErrors.Clone(appErrors.ErrNotFound, "student not found")}
	w := serve(studentRouter(svc, &cascadeMock{}, nil), http.MethodGet, "/students/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
