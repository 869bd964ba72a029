package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edukite/campus-core-api/internal/models"
)

// GradeRepository handles grade persistence.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository creates a new grade repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// Insert stores a grade, enforcing uniqueness per (student, task). Returns
// false without error when a grade for the pair already exists.
func (r *GradeRepository) Insert(ctx context.Context, grade *models.Grade) (bool, error) {
	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if grade.CreatedAt.IsZero() {
		grade.CreatedAt = now
	}
	grade.UpdatedAt = now
	const query = `INSERT INTO grades (id, student_id, course_id, task_id, score, recorded_by, status, created_at, updated_at)
        VALUES (:id, :student_id, :course_id, :task_id, :score, :recorded_by, :status, :created_at, :updated_at)
        ON CONFLICT (student_id, task_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, grade)
	if err != nil {
		return false, fmt.Errorf("insert grade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert grade: %w", err)
	}
	return n > 0, nil
}

// FindByID returns a grade by its ID.
func (r *GradeRepository) FindByID(ctx context.Context, id string) (*models.Grade, error) {
	const query = `SELECT id, student_id, course_id, task_id, score, recorded_by, status, created_at, updated_at FROM grades WHERE id = $1`
	var grade models.Grade
	if err := r.db.GetContext(ctx, &grade, query, id); err != nil {
		return nil, err
	}
	return &grade, nil
}

// List returns grades matching the filter.
func (r *GradeRepository) List(ctx context.Context, filter models.GradeFilter) ([]models.Grade, error) {
	query := `SELECT id, student_id, course_id, task_id, score, recorded_by, status, created_at, updated_at FROM grades WHERE 1=1`
	var args []interface{}
	if filter.StudentID != "" {
		query += fmt.Sprintf(" AND student_id = $%d", len(args)+1)
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		query += fmt.Sprintf(" AND course_id = $%d", len(args)+1)
		args = append(args, filter.CourseID)
	}
	if filter.TaskID != "" {
		query += fmt.Sprintf(" AND task_id = $%d", len(args)+1)
		args = append(args, filter.TaskID)
	}
	query += " ORDER BY updated_at DESC"
	var grades []models.Grade
	if err := r.db.SelectContext(ctx, &grades, query, args...); err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	return grades, nil
}

// Update patches score and status for a grade.
func (r *GradeRepository) Update(ctx context.Context, id string, score float64, status models.GradeStatus) error {
	const query = `UPDATE grades SET score = $2, status = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, score, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update grade: %w", err)
	}
	return nil
}

// Delete removes a grade.
func (r *GradeRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM grades WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete grade: %w", err)
	}
	return nil
}

// ExistsForTask reports whether any grade references the task. Used as the
// referential-integrity guard before task deletion.
func (r *GradeRepository) ExistsForTask(ctx context.Context, taskID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM grades WHERE task_id = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, taskID); err != nil {
		return false, fmt.Errorf("check task grades: %w", err)
	}
	return exists, nil
}

// FinalWithWeights returns the student's final-state grades in a course
// joined with each task's weight.
func (r *GradeRepository) FinalWithWeights(ctx context.Context, studentID, courseID string) ([]models.GradeWithWeight, error) {
	const query = `SELECT g.id, g.student_id, g.course_id, g.task_id, g.score, g.recorded_by, g.status, g.created_at, g.updated_at, t.weight
        FROM grades g
        JOIN tasks t ON t.id = g.task_id
        WHERE g.student_id = $1 AND g.course_id = $2 AND g.status = $3`
	var grades []models.GradeWithWeight
	if err := r.db.SelectContext(ctx, &grades, query, studentID, courseID, models.GradeStatusFinal); err != nil {
		return nil, fmt.Errorf("fetch final grades: %w", err)
	}
	return grades, nil
}

// CourseReportRows aggregates weighted averages per enrolled student for a
// course report export. Students without final grades appear with a NULL
// average.
func (r *GradeRepository) CourseReportRows(ctx context.Context, courseID string) ([]models.CourseReportRow, error) {
	const query = `SELECT e.student_id, u.full_name AS student_name,
        COUNT(g.id) AS graded_count,
        SUM(g.score * t.weight) / NULLIF(SUM(t.weight), 0) AS average
        FROM enrollments e
        LEFT JOIN users u ON u.id = e.student_id
        LEFT JOIN grades g ON g.student_id = e.student_id AND g.course_id = e.course_id AND g.status = $2
        LEFT JOIN tasks t ON t.id = g.task_id
        WHERE e.course_id = $1 AND e.status = $3
        GROUP BY e.student_id, u.full_name
        ORDER BY u.full_name`
	var rows []models.CourseReportRow
	if err := r.db.SelectContext(ctx, &rows, query, courseID, models.GradeStatusFinal, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("course report rows: %w", err)
	}
	return rows, nil
}
