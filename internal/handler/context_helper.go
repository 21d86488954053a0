package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-enrollment-api/internal/middleware"
	"github.com/noah-isme/course-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
	"github.com/noah-isme/course-enrollment-api/pkg/response"
)

// allowStudent reports whether the caller may act on studentID's enrollments.
// Without authentication every caller is allowed; with it staff always are
// and students only for themselves. A refusal has already been written.
func allowStudent(c *gin.Context, studentID string) bool {
	claims := middleware.Claims(c)
	if claims == nil || claims.IsStaff() {
		return true
	}
	if claims.Role == models.RoleStudent && claims.StudentID == studentID {
		return true
	}
	response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "students may only manage their own enrollments"))
	c.Abort()
	return false
}

func bindError(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
}
