package service

import (
	"github.com/edukite/campus-core-api/internal/models"
	appErrors "github.com/edukite/campus-core-api/pkg/errors"
)

// Capability names a guarded operation.
type Capability string

const (
	CapEnrollSelf    Capability = "enroll_self"
	CapWithdrawSelf  Capability = "withdraw_self"
	CapAdminWithdraw Capability = "admin_withdraw"
	CapReactivate    Capability = "reactivate"
	CapManageCourse  Capability = "manage_course"
	CapSetStatus     Capability = "set_course_status"
	CapCreateTask    Capability = "create_task"
	CapRecordGrade   Capability = "record_grade"
	CapMutateGrade   Capability = "mutate_grade"
)

// OwnershipScope carries the identifiers a capability check may compare
// against the actor. Zero values mean "not applicable".
type OwnershipScope struct {
	StudentID       string // owner of the enrollment or grade target
	CourseTeacherID string // instructor assigned to the course
	RecorderID      string // user who recorded the grade
}

// Authorize applies the role capability table. It returns nil when the
// actor may perform the operation and a forbidden error otherwise.
// Admins pass every check; teachers pass course- and recorder-scoped
// checks only for their own courses and records; students act on
// themselves.
func Authorize(actor *models.JWTClaims, cap Capability, scope OwnershipScope) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleAdmin {
		return nil
	}
	switch cap {
	case CapEnrollSelf, CapWithdrawSelf:
		if actor.Role == models.RoleStudent && (scope.StudentID == "" || scope.StudentID == actor.UserID) {
			return nil
		}
	case CapAdminWithdraw, CapReactivate:
		if actor.Role == models.RoleTeacher && scope.CourseTeacherID == actor.UserID {
			return nil
		}
	case CapManageCourse, CapCreateTask, CapRecordGrade:
		if actor.Role == models.RoleTeacher && scope.CourseTeacherID == actor.UserID {
			return nil
		}
	case CapMutateGrade:
		if actor.Role == models.RoleTeacher && scope.RecorderID == actor.UserID {
			return nil
		}
	}
	return appErrors.ErrForbidden
}
