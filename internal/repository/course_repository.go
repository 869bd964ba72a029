package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edukite/campus-core-api/internal/models"
)

// ErrNoSeat is returned when a seat increment finds the course full. The
// service layer maps it to the capacity-exceeded domain error.
var ErrNoSeat = errors.New("no seat available")

// CourseRepository handles persistence of courses and their schedule slots.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// Create persists a course together with its schedule slots.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now
	if course.Status == "" {
		course.Status = models.CourseStatusOpen
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	const query = `INSERT INTO courses (id, name, description, teacher_id, capacity, enrolled_count, modality, status, class_minutes, total_hours, start_date, end_date, created_at, updated_at)
        VALUES (:id, :name, :description, :teacher_id, :capacity, :enrolled_count, :modality, :status, :class_minutes, :total_hours, :start_date, :end_date, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, course); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create course: %w", err)
	}
	for i := range course.Slots {
		if course.Slots[i].ID == "" {
			course.Slots[i].ID = uuid.NewString()
		}
		course.Slots[i].CourseID = course.ID
		const slotQuery = `INSERT INTO schedule_slots (id, course_id, day_of_week, start_minute, end_minute)
            VALUES (:id, :course_id, :day_of_week, :start_minute, :end_minute)`
		if _, err := tx.NamedExecContext(ctx, slotQuery, course.Slots[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("create schedule slot: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit course: %w", err)
	}
	return nil
}

// FindByID returns a course with its schedule slots.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, name, description, teacher_id, capacity, enrolled_count, modality, status, class_minutes, total_hours, start_date, end_date, created_at, updated_at
        FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	slots, err := r.SlotsForCourses(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	course.Slots = slots
	return &course, nil
}

// List returns courses matching the filter with pagination.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	base := "FROM courses c"
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("c.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("c.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"name":       "c.name",
		"created_at": "c.created_at",
		"start_date": "c.start_date",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "c.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT c.id, c.name, c.description, c.teacher_id, c.capacity, c.enrolled_count, c.modality, c.status, c.class_minutes, c.total_hours, c.start_date, c.end_date, c.created_at, c.updated_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// SlotsForCourses returns schedule slots for the given course IDs.
func (r *CourseRepository) SlotsForCourses(ctx context.Context, courseIDs []string) ([]models.ScheduleSlot, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(courseIDs))
	args := make([]interface{}, len(courseIDs))
	for i, id := range courseIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, course_id, day_of_week, start_minute, end_minute
        FROM schedule_slots WHERE course_id IN (%s) ORDER BY course_id, day_of_week, start_minute`, strings.Join(placeholders, ","))
	var slots []models.ScheduleSlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list schedule slots: %w", err)
	}
	return slots, nil
}

// UpdateStatus sets the course status. Status is a flat enum; no transition
// checks happen here.
func (r *CourseRepository) UpdateStatus(ctx context.Context, id string, status models.CourseStatus) error {
	const query = `UPDATE courses SET status = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update course status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// incrementSeat claims one seat, failing with ErrNoSeat when the course is
// full. The conditional UPDATE makes the capacity check and the counter
// write a single statement, so concurrent claims cannot overshoot.
func incrementSeat(ctx context.Context, ext sqlx.ExtContext, courseID string) error {
	const query = `UPDATE courses SET enrolled_count = enrolled_count + 1, updated_at = $2
        WHERE id = $1 AND enrolled_count < capacity`
	res, err := ext.ExecContext(ctx, query, courseID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("increment enrolled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment enrolled: %w", err)
	}
	if n == 0 {
		return ErrNoSeat
	}
	return nil
}

// decrementSeat releases one seat, flooring at zero.
func decrementSeat(ctx context.Context, ext sqlx.ExtContext, courseID string) error {
	const query = `UPDATE courses SET enrolled_count = GREATEST(enrolled_count - 1, 0), updated_at = $2 WHERE id = $1`
	if _, err := ext.ExecContext(ctx, query, courseID, time.Now().UTC()); err != nil {
		return fmt.Errorf("decrement enrolled: %w", err)
	}
	return nil
}
