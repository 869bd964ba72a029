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
	"github.com/edukite/campus-core-api/internal/repository"
	"github.com/edukite/campus-core-api/pkg/clock"
	appErrors "github.com/edukite/campus-core-api/pkg/errors"
)

type mockLedgerRepo struct {
	enrollments       map[string]models.Enrollment
	activeKeys        map[string]bool
	seatsLeft         int
	duplicateOnCreate bool
	created           *models.Enrollment
	withdrawn         []string
	reactivated       []string
}

func (m *mockLedgerRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockLedgerRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if e, ok := m.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: e}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockLedgerRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (m *mockLedgerRepo) ExistsActive(ctx context.Context, studentID, courseID string) (bool, error) {
	return m.activeKeys[studentID+"/"+courseID], nil
}

func (m *mockLedgerRepo) ActiveByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	var list []models.Enrollment
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.Status == models.EnrollmentStatusActive {
			list = append(list, e)
		}
	}
	return list, nil
}

func (m *mockLedgerRepo) CountsByCourse(ctx context.Context, courseID string) (*models.EnrollmentCounts, error) {
	return &models.EnrollmentCounts{CourseID: courseID}, nil
}

func (m *mockLedgerRepo) CreateActive(ctx context.Context, enrollment *models.Enrollment) error {
	if m.seatsLeft <= 0 {
		return repository.ErrNoSeat
	}
	if m.duplicateOnCreate {
		return repository.ErrDuplicateActive
	}
	m.seatsLeft--
	if m.enrollments == nil {
		m.enrollments = make(map[string]models.Enrollment)
	}
	if enrollment.ID == "" {
		enrollment.ID = "new-enroll"
	}
	enrollment.Status = models.EnrollmentStatusActive
	m.enrollments[enrollment.ID] = *enrollment
	m.created = enrollment
	return nil
}

func (m *mockLedgerRepo) MarkWithdrawn(ctx context.Context, id string, withdrawnAt time.Time, reason *string) error {
	e, ok := m.enrollments[id]
	if !ok || e.Status != models.EnrollmentStatusActive {
		return sql.ErrNoRows
	}
	e.Status = models.EnrollmentStatusWithdrawn
	e.WithdrawnAt = &withdrawnAt
	e.Reason = reason
	m.enrollments[id] = e
	m.seatsLeft++
	m.withdrawn = append(m.withdrawn, id)
	return nil
}

func (m *mockLedgerRepo) MarkActive(ctx context.Context, id, courseID string) error {
	if m.seatsLeft <= 0 {
		return repository.ErrNoSeat
	}
	e, ok := m.enrollments[id]
	if !ok || e.Status != models.EnrollmentStatusWithdrawn {
		return sql.ErrNoRows
	}
	m.seatsLeft--
	e.Status = models.EnrollmentStatusActive
	e.WithdrawnAt = nil
	m.enrollments[id] = e
	m.reactivated = append(m.reactivated, id)
	return nil
}

type mockCourseReader struct {
	courses map[string]*models.Course
}

func (m *mockCourseReader) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseReader) SlotsForCourses(ctx context.Context, courseIDs []string) ([]models.ScheduleSlot, error) {
	return nil, nil
}

type mockUserReader struct {
	users map[string]*models.User
}

func (m *mockUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func openCourse(id string, slots ...models.ScheduleSlot) *models.Course {
	return &models.Course{
		ID:       id,
		Name:     "Course " + id,
		Status:   models.CourseStatusOpen,
		Capacity: 30,
		Slots:    slots,
	}
}

func studentActor(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func adminActor() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func newLedgerService(repo *mockLedgerRepo, courses *mockCourseReader, users *mockUserReader, clk clock.Clock) *EnrollmentService {
	return NewEnrollmentService(repo, courses, users, clk, 24*time.Hour, validator.New(), zap.NewNop())
}

func TestEnrollmentServiceEnroll(t *testing.T) {
	repo := &mockLedgerRepo{seatsLeft: 1}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": openCourse("c1")}}
	users := &mockUserReader{users: map[string]*models.User{"s1": {ID: "s1", Role: models.RoleStudent}}}
	svc := newLedgerService(repo, courses, users, nil)

	detail, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "s1", CourseID: "c1"}, studentActor("s1"))
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, detail.Status)
	assert.NotNil(t, repo.created)
}

func TestEnrollmentServiceEnrollCourseFull(t *testing.T) {
	repo := &mockLedgerRepo{seatsLeft: 0}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": openCourse("c1")}}
	users := &mockUserReader{users: map[string]*models.User{"s1": {ID: "s1", Role: models.RoleStudent}}}
	svc := newLedgerService(repo, courses, users, nil)

	_, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "s1", CourseID: "c1"}, studentActor("s1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCapacityExceeded.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceEnrollFullCourseBeatsScheduleConflict(t *testing.T) {
	slotA := models.ScheduleSlot{DayOfWeek: "MONDAY", StartMinute: 840, EndMinute: 960}
	slotB := models.ScheduleSlot{DayOfWeek: "MONDAY", StartMinute: 900, EndMinute: 1020}
	full := openCourse("c2", slotB)
	full.Capacity = 1
	full.EnrolledCount = 1
	repo := &mockLedgerRepo{
		seatsLeft: 0,
		enrollments: map[string]models.Enrollment{
			"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusActive},
		},
	}
	courses := &mockCourseReader{courses: map[string]*models.Course{
		"c1": openCourse("c1", slotA),
		"c2": full,
	}}
	users := &mockUserReader{users: map[string]*models.User{"s1": {ID: "s1", Role: models.RoleStudent}}}
	svc := newLedgerService(repo, courses, users, nil)

	// The candidate course is both full and overlapping; capacity wins.
	_, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "s1", CourseID: "c2"}, studentActor("s1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCapacityExceeded.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceEnrollDuplicate(t *testing.T) {
	repo := &mockLedgerRepo{seatsLeft: 5, activeKeys: map[string]bool{"s1/c1": true}}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": openCourse("c1")}}
	users := &mockUserReader{users: map[string]*models.User{"s1": {ID: "s1", Role: models.RoleStudent}}}
	svc := newLedgerService(repo, courses, users, nil)

	_, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "s1", CourseID: "c1"}, studentActor("s1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyEnrolled.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceEnrollDuplicateRace(t *testing.T) {
	// A concurrent enroll can slip past the existence check and hit the
	// unique-index guard in the insert itself.
	repo := &mockLedgerRepo{seatsLeft: 5, duplicateOnCreate: true}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": openCourse("c1")}}
	users := &mockUserReader{users: map[string]*models.User{"s1": {ID: "s1", Role: models.RoleStudent}}}
	svc := newLedgerService(repo, courses, users, nil)

	_, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "s1", CourseID: "c1"}, studentActor("s1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyEnrolled.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceEnrollScheduleConflict(t *testing.T) {
	slotA := models.ScheduleSlot{DayOfWeek: "MONDAY", StartMinute: 540, EndMinute: 660}
	slotB := models.ScheduleSlot{DayOfWeek: "monday", StartMinute: 600, EndMinute: 720}
	repo := &mockLedgerRepo{
		seatsLeft: 5,
		enrollments: map[string]models.Enrollment{
			"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusActive},
		},
	}
	courses := &mockCourseReader{courses: map[string]*models.Course{
		"c1": openCourse("c1", slotA),
		"c2": openCourse("c2", slotB),
	}}
	users := &mockUserReader{users: map[string]*models.User{"s1": {ID: "s1", Role: models.RoleStudent}}}
	svc := newLedgerService(repo, courses, users, nil)

	_, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "s1", CourseID: "c2"}, studentActor("s1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrScheduleConflict.Code, appErrors.FromError(err).Code)

	var conflictErr *models.ScheduleConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.Len(t, conflictErr.Conflicts, 1)
	assert.Equal(t, "c1", conflictErr.Conflicts[0].CourseID)
}

func TestEnrollmentServiceEnrollForbiddenForOtherStudent(t *testing.T) {
	repo := &mockLedgerRepo{seatsLeft: 5}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": openCourse("c1")}}
	users := &mockUserReader{users: map[string]*models.User{"s1": {ID: "s1", Role: models.RoleStudent}}}
	svc := newLedgerService(repo, courses, users, nil)

	_, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "s1", CourseID: "c1"}, studentActor("s2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceWithdrawWithinWindow(t *testing.T) {
	enrolledAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	repo := &mockLedgerRepo{
		seatsLeft: 0,
		enrollments: map[string]models.Enrollment{
			"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusActive, EnrolledAt: enrolledAt},
		},
	}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": openCourse("c1")}}
	svc := newLedgerService(repo, courses, &mockUserReader{}, clock.Fixed(enrolledAt.Add(6*time.Hour)))

	detail, err := svc.Withdraw(context.Background(), "e1", WithdrawRequest{}, studentActor("s1"))
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWithdrawn, detail.Status)
	assert.Contains(t, repo.withdrawn, "e1")
}

func TestEnrollmentServiceWithdrawWindowExpired(t *testing.T) {
	enrolledAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	repo := &mockLedgerRepo{
		enrollments: map[string]models.Enrollment{
			"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusActive, EnrolledAt: enrolledAt},
		},
	}
	svc := newLedgerService(repo, &mockCourseReader{}, &mockUserReader{}, clock.Fixed(enrolledAt.Add(25*time.Hour)))

	_, err := svc.Withdraw(context.Background(), "e1", WithdrawRequest{}, studentActor("s1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrWithdrawWindowExpired.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.withdrawn)
}

func TestEnrollmentServiceAdminWithdrawIgnoresWindow(t *testing.T) {
	enrolledAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	repo := &mockLedgerRepo{
		enrollments: map[string]models.Enrollment{
			"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusActive, EnrolledAt: enrolledAt},
		},
	}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": openCourse("c1")}}
	svc := newLedgerService(repo, courses, &mockUserReader{}, clock.Fixed(enrolledAt.Add(30*24*time.Hour)))

	detail, err := svc.AdminWithdraw(context.Background(), "e1", WithdrawRequest{}, adminActor())
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWithdrawn, detail.Status)
}

func TestEnrollmentServiceWithdrawNotActive(t *testing.T) {
	repo := &mockLedgerRepo{
		enrollments: map[string]models.Enrollment{
			"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusWithdrawn},
		},
	}
	svc := newLedgerService(repo, &mockCourseReader{}, &mockUserReader{}, nil)

	_, err := svc.Withdraw(context.Background(), "e1", WithdrawRequest{}, studentActor("s1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotActive.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceReactivate(t *testing.T) {
	repo := &mockLedgerRepo{
		seatsLeft: 1,
		enrollments: map[string]models.Enrollment{
			"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusWithdrawn},
		},
	}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": openCourse("c1")}}
	svc := newLedgerService(repo, courses, &mockUserReader{}, nil)

	detail, err := svc.Reactivate(context.Background(), "e1", adminActor())
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, detail.Status)
	assert.Contains(t, repo.reactivated, "e1")
}

func TestEnrollmentServiceReactivateCourseFull(t *testing.T) {
	repo := &mockLedgerRepo{
		seatsLeft: 0,
		enrollments: map[string]models.Enrollment{
			"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusWithdrawn},
		},
	}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": openCourse("c1")}}
	svc := newLedgerService(repo, courses, &mockUserReader{}, nil)

	_, err := svc.Reactivate(context.Background(), "e1", adminActor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCapacityExceeded.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceReactivateNotWithdrawn(t *testing.T) {
	repo := &mockLedgerRepo{
		seatsLeft: 5,
		enrollments: map[string]models.Enrollment{
			"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusActive},
		},
	}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": openCourse("c1")}}
	svc := newLedgerService(repo, courses, &mockUserReader{}, nil)

	_, err := svc.Reactivate(context.Background(), "e1", adminActor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotWithdrawn.Code, appErrors.FromError(err).Code)
}
