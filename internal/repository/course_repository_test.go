package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/edukite/campus-core-api/internal/models"
)

func TestCourseRepositoryCreateWithSlots(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO courses").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO schedule_slots").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO schedule_slots").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	course := &models.Course{
		Name:      "Linear Algebra",
		TeacherID: "tch-1",
		Capacity:  30,
		Modality:  models.ModalityInPerson,
		Slots: []models.ScheduleSlot{
			{DayOfWeek: "MONDAY", StartMinute: 540, EndMinute: 660},
			{DayOfWeek: "WEDNESDAY", StartMinute: 540, EndMinute: 660},
		},
	}
	err := repo.Create(context.Background(), course)
	require.NoError(t, err)
	require.NotEmpty(t, course.ID)
	require.Equal(t, models.CourseStatusOpen, course.Status)
	require.Equal(t, course.ID, course.Slots[0].CourseID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	now := time.Now()
	courseRows := sqlmock.NewRows([]string{"id", "name", "description", "teacher_id", "capacity", "enrolled_count", "modality", "status", "class_minutes", "total_hours", "start_date", "end_date", "created_at", "updated_at"}).
		AddRow("crs-1", "Linear Algebra", "", "tch-1", 30, 12, models.ModalityInPerson, models.CourseStatusOpen, 120, 60, now, now.Add(90*24*time.Hour), now, now)
	mock.ExpectQuery("FROM courses WHERE id = \\$1").
		WithArgs("crs-1").
		WillReturnRows(courseRows)

	slotRows := sqlmock.NewRows([]string{"id", "course_id", "day_of_week", "start_minute", "end_minute"}).
		AddRow("slt-1", "crs-1", "MONDAY", 540, 660)
	mock.ExpectQuery("FROM schedule_slots WHERE course_id IN").
		WithArgs("crs-1").
		WillReturnRows(slotRows)

	course, err := repo.FindByID(context.Background(), "crs-1")
	require.NoError(t, err)
	require.Equal(t, "Linear Algebra", course.Name)
	require.Len(t, course.Slots, 1)
	require.Equal(t, 540, course.Slots[0].StartMinute)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET status = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("crs-1", models.CourseStatusCanceled, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "crs-1", models.CourseStatusCanceled)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryUpdateStatusMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET status = $2, updated_at = $3 WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "missing", models.CourseStatusFinished)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositorySlotsForCoursesEmpty(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	slots, err := repo.SlotsForCourses(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, slots)
	require.NoError(t, mock.ExpectationsWereMet())
}
