package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edukite/campus-core-api/internal/models"
	appErrors "github.com/edukite/campus-core-api/pkg/errors"
)

func TestAuthorizeNilActor(t *testing.T) {
	err := Authorize(nil, CapEnrollSelf, OwnershipScope{})
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthorizeAdminPassesEverything(t *testing.T) {
	admin := &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}
	caps := []Capability{
		CapEnrollSelf, CapWithdrawSelf, CapAdminWithdraw, CapReactivate,
		CapManageCourse, CapSetStatus, CapCreateTask, CapRecordGrade, CapMutateGrade,
	}
	for _, c := range caps {
		assert.NoError(t, Authorize(admin, c, OwnershipScope{}), string(c))
	}
}

func TestAuthorizeStudentSelfScope(t *testing.T) {
	student := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}

	assert.NoError(t, Authorize(student, CapEnrollSelf, OwnershipScope{StudentID: "s1"}))
	assert.NoError(t, Authorize(student, CapWithdrawSelf, OwnershipScope{StudentID: "s1"}))
	assert.Error(t, Authorize(student, CapEnrollSelf, OwnershipScope{StudentID: "s2"}))
	assert.Error(t, Authorize(student, CapAdminWithdraw, OwnershipScope{StudentID: "s1"}))
	assert.Error(t, Authorize(student, CapRecordGrade, OwnershipScope{StudentID: "s1"}))
}

func TestAuthorizeTeacherCourseScope(t *testing.T) {
	teacher := &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}

	assert.NoError(t, Authorize(teacher, CapAdminWithdraw, OwnershipScope{CourseTeacherID: "t1"}))
	assert.NoError(t, Authorize(teacher, CapReactivate, OwnershipScope{CourseTeacherID: "t1"}))
	assert.NoError(t, Authorize(teacher, CapManageCourse, OwnershipScope{CourseTeacherID: "t1"}))
	assert.NoError(t, Authorize(teacher, CapCreateTask, OwnershipScope{CourseTeacherID: "t1"}))
	assert.NoError(t, Authorize(teacher, CapRecordGrade, OwnershipScope{CourseTeacherID: "t1"}))

	assert.Error(t, Authorize(teacher, CapAdminWithdraw, OwnershipScope{CourseTeacherID: "t2"}))
	assert.Error(t, Authorize(teacher, CapRecordGrade, OwnershipScope{CourseTeacherID: "t2"}))
}

func TestAuthorizeTeacherRecorderScope(t *testing.T) {
	teacher := &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}

	assert.NoError(t, Authorize(teacher, CapMutateGrade, OwnershipScope{RecorderID: "t1"}))
	assert.Error(t, Authorize(teacher, CapMutateGrade, OwnershipScope{RecorderID: "t2"}))
}

func TestAuthorizeSetStatusAdminOnly(t *testing.T) {
	teacher := &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}
	student := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}

	assert.Error(t, Authorize(teacher, CapSetStatus, OwnershipScope{CourseTeacherID: "t1"}))
	assert.Error(t, Authorize(student, CapSetStatus, OwnershipScope{StudentID: "s1"}))
}

func TestAuthorizeUnknownRole(t *testing.T) {
	actor := &models.JWTClaims{UserID: "x1", Role: models.UserRole("AUDITOR")}
	err := Authorize(actor, CapEnrollSelf, OwnershipScope{StudentID: "x1"})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
