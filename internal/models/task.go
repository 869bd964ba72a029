package models

import "time"

// TaskStatus is the linear lifecycle of a gradable task.
type TaskStatus string

const (
	TaskStatusDraft  TaskStatus = "DRAFT"
	TaskStatusActive TaskStatus = "ACTIVE"
	TaskStatusClosed TaskStatus = "CLOSED"
)

// TaskType categorises gradable items.
type TaskType string

const (
	TaskTypeMidterm    TaskType = "MIDTERM"
	TaskTypeFinal      TaskType = "FINAL"
	TaskTypeQuiz       TaskType = "QUIZ"
	TaskTypeAssignment TaskType = "ASSIGNMENT"
	TaskTypeProject    TaskType = "PROJECT"
)

// Task is a gradable item belonging to a course.
type Task struct {
	ID          string     `db:"id" json:"id"`
	CourseID    string     `db:"course_id" json:"course_id"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	Type        TaskType   `db:"type" json:"type"`
	Weight      float64    `db:"weight" json:"weight"`
	DueAt       *time.Time `db:"due_at" json:"due_at,omitempty"`
	Status      TaskStatus `db:"status" json:"status"`
	CreatedBy   string     `db:"created_by" json:"created_by"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// NextStatus returns the next lifecycle state, or "" when terminal.
func (s TaskStatus) NextStatus() TaskStatus {
	switch s {
	case TaskStatusDraft:
		return TaskStatusActive
	case TaskStatusActive:
		return TaskStatusClosed
	default:
		return ""
	}
}
