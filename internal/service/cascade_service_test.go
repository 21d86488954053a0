package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/pkg/lock"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

func TestDeleteStudentRemovesLinksThenStudent(t *testing.T) {
	e := newEngine(t)
	st := e.store.addStudent(1)
	keep := e.store.addStudent(1)
	a := e.store.addCourse("MATH101", 3, "08:00-10:00", 30)
	b := e.store.addCourse("ART100", 3, "12:00-13:00", 30)
	e.store.link(st.ID, a.ID)
	e.store.link(st.ID, b.ID)
	e.store.link(keep.ID, a.ID)

	result, err := e.cascade.DeleteStudent(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RemovedLinks)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, result.CourseIDs)
	assert.Equal(t, 1, e.store.linkCount())
	assert.True(t, e.store.hasLink(keep.ID, a.ID))

	_, err = memStudents{e.store}.FindByID(context.Background(), st.ID)
	assert.Error(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.cascadeRemoved.WithLabelValues(CascadeTargetStudent)))
	assert.ElementsMatch(t, []string{a.ID, b.ID}, e.invalidator.courseIDs)
}

func TestDeleteStudentNotFoundTouchesNothing(t *testing.T) {
	e := newEngine(t)
	st := e.store.addStudent(1)
	c := e.store.addCourse("MATH101", 3, "08:00-10:00", 30)
	e.store.link(st.ID, c.ID)

	_, err := e.cascade.DeleteStudent(context.Background(), "missing")
	requireCode(t, err, appErrors.CodeNotFound)
	assert.Equal(t, 1, e.store.linkCount())
	assert.NotContains(t, e.store.calls, "links.DeleteByStudent")
}

func TestDeleteStudentRollsBackOnFault(t *testing.T) {
	e := newEngine(t)
	st := e.store.addStudent(1)
	c := e.store.addCourse("MATH101", 3, "08:00-10:00", 30)
	e.store.link(st.ID, c.ID)
	driverErr := errors.New("disk full")
	e.store.failOn["students.Delete"] = driverErr

	_, err := e.cascade.DeleteStudent(context.Background(), st.ID)
	requireCode(t, err, appErrors.CodeInternal)
	assert.ErrorIs(t, err, driverErr)
	assert.True(t, e.store.hasLink(st.ID, c.ID), "links must survive a failed cascade")
	_, err = memStudents{e.store}.FindByID(context.Background(), st.ID)
	assert.NoError(t, err)
	assert.Empty(t, e.invalidator.studentIDs)
}

func TestDeleteCourseForeignKeyViolationRollsBack(t *testing.T) {
	e := newEngine(t)
	st := e.store.addStudent(1)
	c := e.store.addCourse("MATH101", 3, "08:00-10:00", 30)
	e.store.link(st.ID, c.ID)
	e.store.failOn["courses.Delete"] = &pq.Error{Code: "23503", Constraint: "enrollments_course_id_fkey"}

	_, err := e.cascade.DeleteCourse(context.Background(), c.ID)
	requireCode(t, err, appErrors.CodeInternal)
	assert.Contains(t, err.Error(), "enrollment set changed")
	assert.True(t, e.store.hasLink(st.ID, c.ID))
}

func TestDeleteCourseRemovesLinksThenCourse(t *testing.T) {
	e := newEngine(t)
	s1 := e.store.addStudent(1)
	s2 := e.store.addStudent(2)
	c := e.store.addCourse("MATH101", 3, "08:00-10:00", 30)
	e.store.link(s1.ID, c.ID)
	e.store.link(s2.ID, c.ID)

	result, err := e.cascade.DeleteCourse(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RemovedLinks)
	assert.ElementsMatch(t, []string{s1.ID, s2.ID}, result.StudentIDs)
	assert.Zero(t, e.store.linkCount())

	_, err = e.cascade.DeleteCourse(context.Background(), c.ID)
	requireCode(t, err, appErrors.CodeNotFound)
}

// racingLinks runs afterList once the cascade has enumerated the links, the
// way a concurrent writer on another connection would.
type racingLinks struct {
	memLinks
	afterList func()
}

func (r racingLinks) ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	links, err := r.memLinks.ListByCourse(ctx, courseID)
	if err == nil && r.afterList != nil {
		r.afterList()
	}
	return links, err
}

func TestDeleteCourseToleratesConcurrentUnenroll(t *testing.T) {
	e := newEngine(t)
	s1 := e.store.addStudent(1)
	s2 := e.store.addStudent(1)
	c := e.store.addCourse("MATH101", 3, "08:00-10:00", 30)
	e.store.link(s1.ID, c.ID)
	e.store.link(s2.ID, c.ID)

	links := racingLinks{memLinks: memLinks{e.store}, afterList: func() {
		require.NoError(t, e.enrollments.Unenroll(context.Background(), s1.ID, c.ID))
	}}
	cascade := NewCascadeService(e.store, links, memStudents{e.store}, memCourses{e.store}, lock.NewLocal(time.Second), zap.NewNop(), e.metrics, e.invalidator)

	result, err := cascade.DeleteCourse(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RemovedLinks)
	assert.ElementsMatch(t, []string{s1.ID, s2.ID}, result.StudentIDs)
	assert.Zero(t, e.store.linkCount())
	_, err = memCourses{e.store}.FindByID(context.Background(), c.ID)
	assert.Error(t, err)
}

func TestDeleteCourseFailsOnUnlistedLink(t *testing.T) {
	e := newEngine(t)
	s1 := e.store.addStudent(1)
	s2 := e.store.addStudent(1)
	c := e.store.addCourse("MATH101", 3, "08:00-10:00", 30)
	e.store.link(s1.ID, c.ID)

	links := racingLinks{memLinks: memLinks{e.store}, afterList: func() {
		e.store.link(s2.ID, c.ID)
	}}
	cascade := NewCascadeService(e.store, links, memStudents{e.store}, memCourses{e.store}, lock.NewLocal(time.Second), zap.NewNop(), e.metrics, e.invalidator)

	_, err := cascade.DeleteCourse(context.Background(), c.ID)
	requireCode(t, err, appErrors.CodeInternal)
	assert.Contains(t, err.Error(), "enumerated 1 links, removed 2")
	assert.True(t, e.store.hasLink(s1.ID, c.ID))
	_, err = memCourses{e.store}.FindByID(context.Background(), c.ID)
	assert.NoError(t, err)
}

func TestCancelTerm(t *testing.T) {
	e := newEngine(t)
	st := e.store.addStudent(1)
	a := e.store.addCourse("MATH101", 3, "08:00-10:00", 30)
	b := e.store.addCourse("ART100", 3, "12:00-13:00", 30)
	e.store.link(st.ID, a.ID)
	e.store.link(st.ID, b.ID)

	result, err := e.cascade.CancelTerm(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RemovedLinks)
	assert.Zero(t, e.store.linkCount())

	_, err = memStudents{e.store}.FindByID(context.Background(), st.ID)
	require.NoError(t, err, "student record stays")
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.cascadeRemoved.WithLabelValues(CascadeTargetTerm)))
}

func TestCancelTermWithoutEnrollments(t *testing.T) {
	e := newEngine(t)
	st := e.store.addStudent(1)

	_, err := e.cascade.CancelTerm(context.Background(), st.ID)
	appErr := requireCode(t, err, appErrors.CodeNoActiveEnrollments)
	assert.Equal(t, 422, appErr.Status)
	_, err = memStudents{e.store}.FindByID(context.Background(), st.ID)
	assert.NoError(t, err)

	_, err = e.cascade.CancelTerm(context.Background(), "missing")
	requireCode(t, err, appErrors.CodeNotFound)
}

func TestEndToEndEnrollmentLifecycle(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.store.addStudent(1)
	c := e.store.addCourse("CS100", 5, "07:00-09:00", 1)

	_, err := e.enrollments.Enroll(ctx, EnrollRequest{StudentID: st.ID, CourseID: c.ID})
	require.NoError(t, err)

	_, err = e.enrollments.Enroll(ctx, EnrollRequest{StudentID: st.ID, CourseID: c.ID})
	requireCode(t, err, appErrors.CodeAlreadyEnrolled)

	result, err := e.cascade.DeleteCourse(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RemovedLinks)

	err = e.enrollments.Unenroll(ctx, st.ID, c.ID)
	requireCode(t, err, appErrors.CodeNotFound)
	assert.Zero(t, e.store.linkCount())
}
