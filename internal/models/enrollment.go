package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. Enrollments are never deleted; a withdrawn
// enrollment keeps its record and may be reactivated by staff.
const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusWithdrawn EnrollmentStatus = "WITHDRAWN"
)

// Enrollment captures a student's registration to a course.
type Enrollment struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	CourseID    string           `db:"course_id" json:"course_id"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt  time.Time        `db:"enrolled_at" json:"enrolled_at"`
	WithdrawnAt *time.Time       `db:"withdrawn_at" json:"withdrawn_at,omitempty"`
	Reason      *string          `db:"reason" json:"reason,omitempty"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	CourseName  string `db:"course_name" json:"course_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	CourseID  string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// EnrollmentCounts aggregates enrollments by status for a course.
type EnrollmentCounts struct {
	CourseID  string `db:"course_id" json:"course_id"`
	Active    int    `db:"active" json:"active"`
	Withdrawn int    `db:"withdrawn" json:"withdrawn"`
}

// ConflictDetail describes one overlapping schedule slot discovered while
// checking a candidate course against a student's active enrollments.
type ConflictDetail struct {
	CourseID    string `json:"course_id"`
	CourseName  string `json:"course_name"`
	DayOfWeek   string `json:"day_of_week"`
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
}

// ScheduleConflictError is returned when a candidate enrollment collides
// with the student's existing schedule.
type ScheduleConflictError struct {
	Message   string           `json:"message"`
	Conflicts []ConflictDetail `json:"conflicts"`
}

// Error implements the error interface for conflict errors.
func (e *ScheduleConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
