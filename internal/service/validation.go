package service

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

// NewValidator returns a validator that reports JSON field names and
// understands the "timewindow" tag for course schedules.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("timewindow", func(fl validator.FieldLevel) bool {
		_, err := models.ParseTimeWindow(fl.Field().String())
		return err == nil
	})
	return v
}

// validationError converts validator output into a VALIDATION_ERROR carrying
// one entry per failing field.
func validationError(err error, message string) error {
	details := map[string]interface{}{}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			details[fe.Field()] = describeFieldError(fe)
		}
	}
	appErr := appErrors.WithDetails(appErrors.ErrValidation, message, details)
	appErr.Err = err
	return appErr
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "timewindow":
		return "must be HH:MM-HH:MM between 07:00 and 22:00 lasting 60-240 minutes"
	default:
		return "failed " + fe.Tag()
	}
}

func internalError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
