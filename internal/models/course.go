package models

import "time"

// CourseStatus is the lifecycle state of a course. The status is a flat
// enum with no transition graph; any value may follow any other.
type CourseStatus string

const (
	CourseStatusOpen     CourseStatus = "OPEN"
	CourseStatusStarted  CourseStatus = "STARTED"
	CourseStatusFinished CourseStatus = "FINISHED"
	CourseStatusCanceled CourseStatus = "CANCELED"
)

// CourseModality describes how a course is delivered.
type CourseModality string

const (
	ModalityInPerson CourseModality = "IN_PERSON"
	ModalityVirtual  CourseModality = "VIRTUAL"
	ModalityHybrid   CourseModality = "HYBRID"
)

// Course holds capacity, status and schedule for an offered course.
// Invariant: 0 <= EnrolledCount <= Capacity, and EnrolledCount equals the
// number of ACTIVE enrollments referencing the course.
type Course struct {
	ID            string         `db:"id" json:"id"`
	Name          string         `db:"name" json:"name"`
	Description   string         `db:"description" json:"description"`
	TeacherID     string         `db:"teacher_id" json:"teacher_id"`
	Capacity      int            `db:"capacity" json:"capacity"`
	EnrolledCount int            `db:"enrolled_count" json:"enrolled_count"`
	Modality      CourseModality `db:"modality" json:"modality"`
	Status        CourseStatus   `db:"status" json:"status"`
	ClassMinutes  int            `db:"class_minutes" json:"class_minutes"`
	TotalHours    int            `db:"total_hours" json:"total_hours"`
	StartDate     *time.Time     `db:"start_date" json:"start_date,omitempty"`
	EndDate       *time.Time     `db:"end_date" json:"end_date,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
	Slots         []ScheduleSlot `json:"schedule_slots,omitempty"`
}

// ScheduleSlot is a weekly half-open interval [StartMinute, EndMinute) on a
// day of the week. Minutes count from midnight.
type ScheduleSlot struct {
	ID          string `db:"id" json:"id"`
	CourseID    string `db:"course_id" json:"course_id"`
	DayOfWeek   string `db:"day_of_week" json:"day_of_week"`
	StartMinute int    `db:"start_minute" json:"start_minute"`
	EndMinute   int    `db:"end_minute" json:"end_minute"`
}

// CourseSlots pairs a course's identity with its schedule, the shape the
// conflict detector consumes.
type CourseSlots struct {
	CourseID   string
	CourseName string
	Slots      []ScheduleSlot
}

// CourseFilter defines filter criteria for listing courses.
type CourseFilter struct {
	Status    CourseStatus
	TeacherID string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
