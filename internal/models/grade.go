package models

import "time"

// GradeStatus marks whether a grade counts toward the course average.
type GradeStatus string

const (
	GradeStatusProvisional GradeStatus = "PROVISIONAL"
	GradeStatusFinal       GradeStatus = "FINAL"
)

// Score bounds for every grade.
const (
	MinScore = 0.0
	MaxScore = 5.0
)

// Grade records a score for one (student, task) pair. At most one grade
// exists per pair, enforced by a unique index and checked on insert.
type Grade struct {
	ID         string      `db:"id" json:"id"`
	StudentID  string      `db:"student_id" json:"student_id"`
	CourseID   string      `db:"course_id" json:"course_id"`
	TaskID     string      `db:"task_id" json:"task_id"`
	Score      float64     `db:"score" json:"score"`
	RecordedBy string      `db:"recorded_by" json:"recorded_by"`
	Status     GradeStatus `db:"status" json:"status"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updated_at"`
}

// GradeWithWeight joins a grade to its task's weight for averaging.
type GradeWithWeight struct {
	Grade
	Weight float64 `db:"weight" json:"weight"`
}

// GradeFilter allows querying of grade entries.
type GradeFilter struct {
	StudentID string
	CourseID  string
	TaskID    string
}

// CourseAverage is the weight-normalised aggregate of a student's final
// grades in a course. Average is nil when no final grades exist.
type CourseAverage struct {
	StudentID   string   `json:"student_id"`
	CourseID    string   `json:"course_id"`
	Average     *float64 `json:"average"`
	Passed      bool     `json:"passed"`
	GradedCount int      `json:"graded_count"`
}

// CourseReportRow is one student line in a course grade report export.
type CourseReportRow struct {
	StudentID   string   `db:"student_id" json:"student_id"`
	StudentName string   `db:"student_name" json:"student_name"`
	GradedCount int      `db:"graded_count" json:"graded_count"`
	Average     *float64 `db:"average" json:"average,omitempty"`
	Passed      bool     `json:"passed"`
}
