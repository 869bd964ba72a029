package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edukite/campus-core-api/internal/models"
	"github.com/edukite/campus-core-api/pkg/clock"
	appErrors "github.com/edukite/campus-core-api/pkg/errors"
)

type mockCatalogRepo struct {
	courses map[string]models.Course
	created *models.Course
	status  map[string]models.CourseStatus
}

func (m *mockCatalogRepo) Create(ctx context.Context, course *models.Course) error {
	if m.courses == nil {
		m.courses = make(map[string]models.Course)
	}
	if course.ID == "" {
		course.ID = "new-course"
	}
	m.courses[course.ID] = *course
	m.created = course
	return nil
}

func (m *mockCatalogRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalogRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var list []models.Course
	for _, c := range m.courses {
		list = append(list, c)
	}
	return list, len(list), nil
}

func (m *mockCatalogRepo) UpdateStatus(ctx context.Context, id string, status models.CourseStatus) error {
	if _, ok := m.courses[id]; !ok {
		return sql.ErrNoRows
	}
	if m.status == nil {
		m.status = make(map[string]models.CourseStatus)
	}
	m.status[id] = status
	c := m.courses[id]
	c.Status = status
	m.courses[id] = c
	return nil
}

func validCourseRequest(teacherID string) CreateCourseRequest {
	return CreateCourseRequest{
		Name:         "Linear Algebra",
		Description:  "Vector spaces and linear maps",
		TeacherID:    teacherID,
		Capacity:     30,
		Modality:     models.ModalityInPerson,
		ClassMinutes: 120,
		TotalHours:   64,
		Slots: []ScheduleSlotRequest{
			{DayOfWeek: "MONDAY", StartMinute: 540, EndMinute: 660},
		},
	}
}

func newCatalogService(repo *mockCatalogRepo, users *mockUserReader, clk clock.Clock) *CourseService {
	return NewCourseService(repo, users, clk, validator.New(), zap.NewNop())
}

func TestCourseServiceCreate(t *testing.T) {
	repo := &mockCatalogRepo{}
	users := &mockUserReader{users: map[string]*models.User{"teach-1": {ID: "teach-1", Role: models.RoleTeacher}}}
	svc := newCatalogService(repo, users, nil)

	course, err := svc.Create(context.Background(), validCourseRequest("teach-1"), teacherActor("teach-1"))
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusOpen, course.Status)
	require.Len(t, course.Slots, 1)
	assert.NotNil(t, repo.created)
}

func TestCourseServiceCreateForbiddenForOtherTeacher(t *testing.T) {
	users := &mockUserReader{users: map[string]*models.User{"teach-1": {ID: "teach-1", Role: models.RoleTeacher}}}
	svc := newCatalogService(&mockCatalogRepo{}, users, nil)

	_, err := svc.Create(context.Background(), validCourseRequest("teach-1"), teacherActor("teach-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceCreateCapacityTooLarge(t *testing.T) {
	users := &mockUserReader{users: map[string]*models.User{"teach-1": {ID: "teach-1", Role: models.RoleTeacher}}}
	svc := newCatalogService(&mockCatalogRepo{}, users, nil)

	req := validCourseRequest("teach-1")
	req.Capacity = 500
	_, err := svc.Create(context.Background(), req, adminActor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceCreateInvertedDates(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 1, 0)
	end := start.AddDate(0, 0, -7)
	users := &mockUserReader{users: map[string]*models.User{"teach-1": {ID: "teach-1", Role: models.RoleTeacher}}}
	svc := newCatalogService(&mockCatalogRepo{}, users, clock.Fixed(now))

	req := validCourseRequest("teach-1")
	req.StartDate = &start
	req.EndDate = &end
	_, err := svc.Create(context.Background(), req, adminActor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceCreateInvalidSlot(t *testing.T) {
	users := &mockUserReader{users: map[string]*models.User{"teach-1": {ID: "teach-1", Role: models.RoleTeacher}}}
	svc := newCatalogService(&mockCatalogRepo{}, users, nil)

	req := validCourseRequest("teach-1")
	req.Slots = []ScheduleSlotRequest{{DayOfWeek: "MONDAY", StartMinute: 660, EndMinute: 540}}
	_, err := svc.Create(context.Background(), req, adminActor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceCreateInstructorNotTeacher(t *testing.T) {
	users := &mockUserReader{users: map[string]*models.User{"s1": {ID: "s1", Role: models.RoleStudent}}}
	svc := newCatalogService(&mockCatalogRepo{}, users, nil)

	_, err := svc.Create(context.Background(), validCourseRequest("s1"), adminActor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceSetStatusAdminOnly(t *testing.T) {
	repo := &mockCatalogRepo{courses: map[string]models.Course{
		"c1": {ID: "c1", TeacherID: "teach-1", Status: models.CourseStatusOpen},
	}}
	svc := newCatalogService(repo, &mockUserReader{}, nil)

	_, err := svc.SetStatus(context.Background(), "c1", SetCourseStatusRequest{Status: models.CourseStatusCanceled}, teacherActor("teach-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	course, err := svc.SetStatus(context.Background(), "c1", SetCourseStatusRequest{Status: models.CourseStatusCanceled}, adminActor())
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusCanceled, course.Status)
}

func TestCourseServiceSetStatusMissingCourse(t *testing.T) {
	svc := newCatalogService(&mockCatalogRepo{}, &mockUserReader{}, nil)

	_, err := svc.SetStatus(context.Background(), "missing", SetCourseStatusRequest{Status: models.CourseStatusFinished}, adminActor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceGetMissing(t *testing.T) {
	svc := newCatalogService(&mockCatalogRepo{}, &mockUserReader{}, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
