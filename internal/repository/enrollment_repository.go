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

// ErrDuplicateActive is returned when an insert finds the student already
// actively enrolled in the course. Backed by the partial unique index on
// (student_id, course_id) WHERE status = 'ACTIVE', so the guarantee holds
// even when two enrolls race past the service-level check.
var ErrDuplicateActive = errors.New("active enrollment already exists")

// EnrollmentRepository handles persistence of enrollments. Every operation
// that changes an enrollment's status also moves the course seat counter in
// the same transaction, so the two can never diverge.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, course_id, status, enrolled_at, withdrawn_at, reason FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with student and course names.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.course_id, e.status, e.enrolled_at, e.withdrawn_at, e.reason,
        u.full_name AS student_name, c.name AS course_name
        FROM enrollments e
        LEFT JOIN users u ON u.id = e.student_id
        LEFT JOIN courses c ON c.id = e.course_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN users u ON u.id = e.student_id
LEFT JOIN courses c ON c.id = e.course_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "u.full_name",
		"course_name":  "c.name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
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

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.course_id, e.status, e.enrolled_at, e.withdrawn_at, e.reason,
        u.full_name AS student_name, c.name AS course_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// ExistsActive checks whether the student already holds an active
// enrollment for the course.
func (r *EnrollmentRepository) ExistsActive(ctx context.Context, studentID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID, models.EnrollmentStatusActive); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// ActiveByStudent returns the student's active enrollments.
func (r *EnrollmentRepository) ActiveByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	const query = `SELECT id, student_id, course_id, status, enrolled_at, withdrawn_at, reason
        FROM enrollments WHERE student_id = $1 AND status = $2`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("find student enrollments: %w", err)
	}
	return enrollments, nil
}

// CountsByCourse aggregates enrollment counts by status.
func (r *EnrollmentRepository) CountsByCourse(ctx context.Context, courseID string) (*models.EnrollmentCounts, error) {
	const query = `SELECT $1 AS course_id,
        COUNT(*) FILTER (WHERE status = $2) AS active,
        COUNT(*) FILTER (WHERE status = $3) AS withdrawn
        FROM enrollments WHERE course_id = $1`
	var counts models.EnrollmentCounts
	if err := r.db.GetContext(ctx, &counts, query, courseID, models.EnrollmentStatusActive, models.EnrollmentStatusWithdrawn); err != nil {
		return nil, fmt.Errorf("count course enrollments: %w", err)
	}
	return &counts, nil
}

// CreateActive claims a seat and inserts an active enrollment in one
// transaction. Returns ErrNoSeat without inserting when the course is full.
func (r *EnrollmentRepository) CreateActive(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	enrollment.Status = models.EnrollmentStatusActive

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := incrementSeat(ctx, tx, enrollment.CourseID); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	const query = `INSERT INTO enrollments (id, student_id, course_id, status, enrolled_at, withdrawn_at, reason)
        VALUES (:id, :student_id, :course_id, :status, :enrolled_at, :withdrawn_at, :reason)
        ON CONFLICT (student_id, course_id) WHERE status = 'ACTIVE' DO NOTHING`
	res, err := tx.NamedExecContext(ctx, query, enrollment)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create enrollment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create enrollment: %w", err)
	}
	if n == 0 {
		tx.Rollback() //nolint:errcheck
		return ErrDuplicateActive
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment: %w", err)
	}
	return nil
}

// MarkWithdrawn flips an active enrollment to withdrawn and releases its
// seat in one transaction. Returns sql.ErrNoRows when the enrollment is
// missing or no longer active.
func (r *EnrollmentRepository) MarkWithdrawn(ctx context.Context, id string, withdrawnAt time.Time, reason *string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	const query = `UPDATE enrollments SET status = $2, withdrawn_at = $3, reason = $4
        WHERE id = $1 AND status = $5 RETURNING course_id`
	var courseID string
	if err := tx.GetContext(ctx, &courseID, query, id, models.EnrollmentStatusWithdrawn, withdrawnAt, reason, models.EnrollmentStatusActive); err != nil {
		tx.Rollback() //nolint:errcheck
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return fmt.Errorf("withdraw enrollment: %w", err)
	}
	if err := decrementSeat(ctx, tx, courseID); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit withdrawal: %w", err)
	}
	return nil
}

// MarkActive reactivates a withdrawn enrollment, claiming a seat first.
// Returns ErrNoSeat when the course is full, sql.ErrNoRows when the
// enrollment is missing or not withdrawn.
func (r *EnrollmentRepository) MarkActive(ctx context.Context, id, courseID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := incrementSeat(ctx, tx, courseID); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	const query = `UPDATE enrollments SET status = $2, withdrawn_at = NULL, reason = NULL
        WHERE id = $1 AND status = $3`
	res, err := tx.ExecContext(ctx, query, id, models.EnrollmentStatusActive, models.EnrollmentStatusWithdrawn)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("reactivate enrollment: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		tx.Rollback() //nolint:errcheck
		if err != nil {
			return fmt.Errorf("reactivate enrollment: %w", err)
		}
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reactivation: %w", err)
	}
	return nil
}
