package handler

import (
	"bytes"
	"context"
	"encoding/json"
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

type enrollmentServiceMock struct {
	enrollErr   error
	unenrollErr error
	lastReq     service.EnrollRequest
	calls       int
}

func (m *enrollmentServiceMock) Enroll(ctx context.Context, req service.EnrollRequest) (*models.Enrollment, error) {
	m.calls++
	m.lastReq = req
	if m.enrollErr != nil {
		return nil, m.enrollErr
	}
	return &models.Enrollment{StudentID: req.StudentID, CourseID: req.CourseID}, nil
}

func (m *enrollmentServiceMock) Unenroll(ctx context.Context, studentID, courseID string) error {
	m.calls++
	return m.unenrollErr
}

type envelope struct {
	Data  json.RawMessage  `json:"data"`
	Error *appErrors.Error `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func enrollContext(t *testing.T, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/enrollments", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func TestEnrollmentHandlerEnrollCreated(t *testing.T) {
	svc := &enrollmentServiceMock{}
	c, w := enrollContext(t, `{"student_id":"s-1","course_id":"c-1"}`, nil)

	NewEnrollmentHandler(svc).Enroll(c)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "s-1", svc.lastReq.StudentID)
}

func TestEnrollmentHandlerMapsRuleViolations(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"not found":     {appErrors.Clone(appErrors.ErrNotFound, "course not found"), http.StatusNotFound},
		"duplicate":     {appErrors.Clone(appErrors.ErrAlreadyEnrolled, ""), http.StatusConflict},
		"credit cap":    {appErrors.WithDetails(appErrors.ErrCreditLimitExceeded, "", map[string]interface{}{"total": 23, "limit": 20}), http.StatusUnprocessableEntity},
		"course full":   {appErrors.Clone(appErrors.ErrCourseFull, ""), http.StatusConflict},
		"schedule":      {appErrors.Clone(appErrors.ErrScheduleConflict, ""), http.StatusConflict},
		"storage fault": {appErrors.Wrap(assert.AnError, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c, w := enrollContext(t, `{"student_id":"s-1","course_id":"c-1"}`, nil)
			NewEnrollmentHandler(&enrollmentServiceMock{enrollErr: tc.err}).Enroll(c)
			assert.Equal(t, tc.status, w.Code)
			env := decodeEnvelope(t, w)
			require.NotNil(t, env.Error)
			assert.Equal(t, appErrors.FromError(tc.err).Code, env.Error.Code)
		})
	}
}

func TestEnrollmentHandlerCreditDetailsInBody(t *testing.T) {
	err := appErrors.WithDetails(appErrors.ErrCreditLimitExceeded, "credit limit exceeded", map[string]interface{}{"total": 23, "limit": 20})
	c, w := enrollContext(t, `{"student_id":"s-1","course_id":"c-1"}`, nil)
	NewEnrollmentHandler(&enrollmentServiceMock{enrollErr: err}).Enroll(c)

	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.EqualValues(t, 23, env.Error.Details["total"])
	assert.EqualValues(t, 20, env.Error.Details["limit"])
}

func TestEnrollmentHandlerInvalidBody(t *testing.T) {
	svc := &enrollmentServiceMock{}
	c, w := enrollContext(t, `{`, nil)
	NewEnrollmentHandler(svc).Enroll(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, svc.calls)
}

func TestEnrollmentHandlerStudentScopedToSelf(t *testing.T) {
	svc := &enrollmentServiceMock{}
	claims := &models.JWTClaims{UserID: "u-1", Role: models.RoleStudent, StudentID: "s-1"}

	c, w := enrollContext(t, `{"student_id":"s-2","course_id":"c-1"}`, claims)
	NewEnrollmentHandler(svc).Enroll(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, svc.calls)

	c, w = enrollContext(t, `{"student_id":"s-1","course_id":"c-1"}`, claims)
	NewEnrollmentHandler(svc).Enroll(c)
	assert.Equal(t, http.StatusCreated, w.Code)

	registrar := &models.JWTClaims{UserID: "u-2", Role: models.RoleRegistrar}
	c, w = enrollContext(t, `{"student_id":"s-9","course_id":"c-1"}`, registrar)
	NewEnrollmentHandler(svc).Enroll(c)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestEnrollmentHandlerUnenroll(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &enrollmentServiceMock{}
	router := gin.New()
	router.DELETE("/enrollments/:studentId/:courseId", NewEnrollmentHandler(svc).Unenroll)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodDelete, "/enrollments/s-1/c-1", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	svc.unenrollErr = appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
