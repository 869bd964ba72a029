package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionEnroll        = "ENROLL"
	AuditActionWithdraw      = "WITHDRAW"
	AuditActionAdminWithdraw = "ADMIN_WITHDRAW"
	AuditActionReactivate    = "REACTIVATE"
	AuditActionCourseCreate  = "COURSE_CREATE"
	AuditActionCourseStatus  = "COURSE_STATUS"
	AuditActionTaskCreate    = "TASK_CREATE"
	AuditActionTaskDelete    = "TASK_DELETE"
	AuditActionGradeRecord   = "GRADE_RECORD"
	AuditActionGradeUpdate   = "GRADE_UPDATE"
	AuditActionGradeDelete   = "GRADE_DELETE"
)

// AuditLog represents an audit trail record. Writes are best-effort and
// must never fail the caller's primary operation.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
