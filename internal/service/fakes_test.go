package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/pkg/database"
)

// memStore is an in-memory stand-in for the three tables. WithinTx snapshots
// the maps and restores them when the callback fails.
type memStore struct {
	mu       sync.Mutex
	students map[string]models.Student
	courses  map[string]models.Course
	links    map[[2]string]models.Enrollment

	failOn map[string]error
	calls  []string
}

func newMemStore() *memStore {
	return &memStore{
		students: map[string]models.Student{},
		courses:  map[string]models.Course{},
		links:    map[[2]string]models.Enrollment{},
		failOn:   map[string]error{},
	}
}

func (m *memStore) record(op string) error {
	m.calls = append(m.calls, op)
	return m.failOn[op]
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	students := make(map[string]models.Student, len(m.students))
	for k, v := range m.students {
		students[k] = v
	}
	courses := make(map[string]models.Course, len(m.courses))
	for k, v := range m.courses {
		courses[k] = v
	}
	links := make(map[[2]string]models.Enrollment, len(m.links))
	for k, v := range m.links {
		links[k] = v
	}
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.students, m.courses, m.links = students, courses, links
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) addStudent(term int) models.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := models.Student{ID: uuid.NewString(), NationalID: uuid.NewString()[:8], FullName: "Student " + fmt.Sprint(len(m.students)+1), Email: "s@example.com", Term: term}
	m.students[st.ID] = st
	return st
}

func (m *memStore) addCourse(code string, credits int, schedule string, capacity int) models.Course {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := models.Course{ID: uuid.NewString(), Code: code, Name: code, Credits: credits, Schedule: schedule, Capacity: capacity}
	m.courses[c.ID] = c
	return c
}

func (m *memStore) link(studentID, courseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[[2]string{studentID, courseID}] = models.Enrollment{StudentID: studentID, CourseID: courseID, EnrolledAt: time.Now()}
}

func (m *memStore) linkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

func (m *memStore) hasLink(studentID, courseID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[[2]string{studentID, courseID}]
	return ok
}

type memStudents struct{ *memStore }

func (r memStudents) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("students.List"); err != nil {
		return nil, 0, err
	}
	var out []models.Student
	for _, st := range r.students {
		if filter.Term == 0 || st.Term == filter.Term {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, len(out), nil
}

func (r memStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("students.FindByID"); err != nil {
		return nil, err
	}
	st, ok := r.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &st, nil
}

func (r memStudents) FindByIDForUpdate(ctx context.Context, id string) (*models.Student, error) {
	return r.FindByID(ctx, id)
}

func (r memStudents) ExistsByNationalID(ctx context.Context, nationalID, excludeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.students {
		if st.NationalID == nationalID && st.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r memStudents) ListByCourse(ctx context.Context, courseID string) ([]models.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("students.ListByCourse"); err != nil {
		return nil, err
	}
	out := []models.Student{}
	for key := range r.links {
		if key[1] == courseID {
			out = append(out, r.students[key[0]])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (r memStudents) Create(ctx context.Context, student *models.Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("students.Create"); err != nil {
		return err
	}
	for _, st := range r.students {
		if st.NationalID == student.NationalID {
			return fmt.Errorf("create student: %w", &pq.Error{Code: "23505", Constraint: database.ConstraintStudentNatID})
		}
	}
	student.ID = uuid.NewString()
	r.students[student.ID] = *student
	return nil
}

func (r memStudents) Update(ctx context.Context, student *models.Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.students[student.ID] = *student
	return nil
}

func (r memStudents) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("students.Delete"); err != nil {
		return false, err
	}
	for key := range r.links {
		if key[0] == id {
			return false, errors.New("foreign key violation")
		}
	}
	_, ok := r.students[id]
	delete(r.students, id)
	return ok, nil
}

type memCourses struct{ *memStore }

func (r memCourses) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Course
	for _, c := range r.courses {
		if (filter.Credits == 0 || c.Credits == filter.Credits) && (filter.Code == "" || c.Code == filter.Code) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, len(out), nil
}

func (r memCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("courses.FindByID"); err != nil {
		return nil, err
	}
	c, ok := r.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (r memCourses) FindByIDForUpdate(ctx context.Context, id string) (*models.Course, error) {
	return r.FindByID(ctx, id)
}

func (r memCourses) ExistsByCode(ctx context.Context, code, excludeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.courses {
		if c.Code == code && c.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r memCourses) ListByStudent(ctx context.Context, studentID string) ([]models.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("courses.ListByStudent"); err != nil {
		return nil, err
	}
	out := []models.Course{}
	for key := range r.links {
		if key[0] == studentID {
			out = append(out, r.courses[key[1]])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Schedule < out[j].Schedule })
	return out, nil
}

func (r memCourses) Create(ctx context.Context, course *models.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	course.ID = uuid.NewString()
	r.courses[course.ID] = *course
	return nil
}

func (r memCourses) Update(ctx context.Context, course *models.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.courses[course.ID] = *course
	return nil
}

func (r memCourses) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("courses.Delete"); err != nil {
		return false, err
	}
	for key := range r.links {
		if key[1] == id {
			return false, errors.New("foreign key violation")
		}
	}
	_, ok := r.courses[id]
	delete(r.courses, id)
	return ok, nil
}

type memLinks struct{ *memStore }

func (r memLinks) Exists(ctx context.Context, studentID, courseID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("links.Exists"); err != nil {
		return false, err
	}
	_, ok := r.links[[2]string{studentID, courseID}]
	return ok, nil
}

func (r memLinks) CountByCourse(ctx context.Context, courseID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key := range r.links {
		if key[1] == courseID {
			n++
		}
	}
	return n, nil
}

func (r memLinks) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Enrollment{}
	for key, e := range r.links {
		if key[0] == studentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r memLinks) ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Enrollment{}
	for key, e := range r.links {
		if key[1] == courseID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r memLinks) Create(ctx context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("links.Create"); err != nil {
		return err
	}
	key := [2]string{enrollment.StudentID, enrollment.CourseID}
	if _, ok := r.links[key]; ok {
		return fmt.Errorf("create enrollment: %w", &pq.Error{Code: "23505", Constraint: database.ConstraintEnrollmentPK})
	}
	enrollment.EnrolledAt = time.Now()
	r.links[key] = *enrollment
	return nil
}

func (r memLinks) Delete(ctx context.Context, studentID, courseID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]string{studentID, courseID}
	_, ok := r.links[key]
	delete(r.links, key)
	return ok, nil
}

func (r memLinks) DeleteByStudent(ctx context.Context, studentID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("links.DeleteByStudent"); err != nil {
		return 0, err
	}
	n := 0
	for key := range r.links {
		if key[0] == studentID {
			delete(r.links, key)
			n++
		}
	}
	return n, nil
}

func (r memLinks) DeleteByCourse(ctx context.Context, courseID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key := range r.links {
		if key[1] == courseID {
			delete(r.links, key)
			n++
		}
	}
	return n, nil
}

type recordingInvalidator struct {
	mu         sync.Mutex
	studentIDs []string
	courseIDs  []string
}

func (r *recordingInvalidator) Invalidate(studentIDs, courseIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.studentIDs = append(r.studentIDs, studentIDs...)
	r.courseIDs = append(r.courseIDs, courseIDs...)
}
