package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edukite/campus-core-api/internal/models"
	"github.com/edukite/campus-core-api/internal/repository"
	"github.com/edukite/campus-core-api/pkg/clock"
	appErrors "github.com/edukite/campus-core-api/pkg/errors"
)

type enrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	ExistsActive(ctx context.Context, studentID, courseID string) (bool, error)
	ActiveByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
	CountsByCourse(ctx context.Context, courseID string) (*models.EnrollmentCounts, error)
	CreateActive(ctx context.Context, enrollment *models.Enrollment) error
	MarkWithdrawn(ctx context.Context, id string, withdrawnAt time.Time, reason *string) error
	MarkActive(ctx context.Context, id, courseID string) error
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	SlotsForCourses(ctx context.Context, courseIDs []string) ([]models.ScheduleSlot, error)
}

// EnrollRequest describes enrollment creation payload.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
}

// WithdrawRequest carries an optional withdrawal reason.
type WithdrawRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// EnrollmentService orchestrates the enrollment ledger: enroll, withdraw,
// reactivate and the schedule conflict check.
type EnrollmentService struct {
	repo           enrollmentRepository
	courses        courseReader
	users          userReader
	clock          clock.Clock
	withdrawWindow time.Duration
	validator      *validator.Validate
	logger         *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, courses courseReader, users userReader, clk clock.Clock, withdrawWindow time.Duration, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if clk == nil {
		clk = clock.System()
	}
	if withdrawWindow <= 0 {
		withdrawWindow = 24 * time.Hour
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:           repo,
		courses:        courses,
		users:          users,
		clock:          clk,
		withdrawWindow: withdrawWindow,
		validator:      validate,
		logger:         logger,
	}
}

// Enroll registers a student into a course. Preconditions run in a fixed
// order: course exists, course open, student exists with the student role,
// not already enrolled, seat available, schedule free of conflicts. The
// seat claim and the enrollment insert commit as one transaction, so
// capacity can never be overshot even under concurrent requests.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest, actor *models.JWTClaims) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if err := Authorize(actor, CapEnrollSelf, OwnershipScope{StudentID: req.StudentID}); err != nil {
		return nil, err
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.Status != models.CourseStatusOpen {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course is not open for enrollment")
	}
	student, err := s.users.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user is not a student")
	}
	exists, err := s.repo.ExistsActive(ctx, req.StudentID, req.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "student already enrolled in course")
	}
	// Snapshot check so a full course fails on capacity before the
	// schedule is inspected; the conditional seat claim below stays the
	// authoritative guard under concurrency.
	if course.EnrolledCount >= course.Capacity {
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "course is full")
	}
	conflicts, err := s.conflictsFor(ctx, req.StudentID, course)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, appErrors.Wrap(&models.ScheduleConflictError{Message: "candidate schedule overlaps active enrollments", Conflicts: conflicts},
			appErrors.ErrScheduleConflict.Code, appErrors.ErrScheduleConflict.Status, "schedule conflict detected")
	}

	enrollment := &models.Enrollment{
		StudentID:  req.StudentID,
		CourseID:   req.CourseID,
		EnrolledAt: s.clock.Now(),
	}
	if err := s.repo.CreateActive(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrNoSeat) {
			return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "course is full")
		}
		if errors.Is(err, repository.ErrDuplicateActive) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "student already enrolled in course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	s.logger.Info("student enrolled",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", req.StudentID),
		zap.String("course_id", req.CourseID))
	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// CheckConflicts reports every overlap between a candidate course and the
// student's current active schedule. Read-only.
func (s *EnrollmentService) CheckConflicts(ctx context.Context, studentID, courseID string) ([]models.ConflictDetail, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return s.conflictsFor(ctx, studentID, course)
}

// Withdraw marks an enrollment withdrawn at the student's request. Only
// allowed while the enrollment is active and inside the withdrawal window.
func (s *EnrollmentService) Withdraw(ctx context.Context, id string, req WithdrawRequest, actor *models.JWTClaims) (*models.EnrollmentDetail, error) {
	enrollment, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, CapWithdrawSelf, OwnershipScope{StudentID: enrollment.StudentID}); err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrNotActive, "enrollment is not active")
	}
	now := s.clock.Now()
	if now.Sub(enrollment.EnrolledAt) > s.withdrawWindow {
		return nil, appErrors.Clone(appErrors.ErrWithdrawWindowExpired, "self-withdrawal window has expired")
	}
	return s.withdraw(ctx, enrollment, now, req.Reason)
}

// AdminWithdraw marks an enrollment withdrawn regardless of the window.
// Requires admin, or the teacher assigned to the course.
func (s *EnrollmentService) AdminWithdraw(ctx context.Context, id string, req WithdrawRequest, actor *models.JWTClaims) (*models.EnrollmentDetail, error) {
	enrollment, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	course, err := s.courses.FindByID(ctx, enrollment.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if err := Authorize(actor, CapAdminWithdraw, OwnershipScope{CourseTeacherID: course.TeacherID}); err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrNotActive, "enrollment is not active")
	}
	return s.withdraw(ctx, enrollment, s.clock.Now(), req.Reason)
}

// Reactivate returns a withdrawn enrollment to active, provided a seat is
// still available. The seat claim and the status flip commit atomically.
func (s *EnrollmentService) Reactivate(ctx context.Context, id string, actor *models.JWTClaims) (*models.EnrollmentDetail, error) {
	enrollment, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	course, err := s.courses.FindByID(ctx, enrollment.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if err := Authorize(actor, CapReactivate, OwnershipScope{CourseTeacherID: course.TeacherID}); err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusWithdrawn {
		return nil, appErrors.Clone(appErrors.ErrNotWithdrawn, "enrollment is not withdrawn")
	}
	if err := s.repo.MarkActive(ctx, id, enrollment.CourseID); err != nil {
		if errors.Is(err, repository.ErrNoSeat) {
			return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "course is full")
		}
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotWithdrawn, "enrollment is not withdrawn")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reactivate enrollment")
	}
	s.logger.Info("enrollment reactivated", zap.String("enrollment_id", id))
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// CountsForCourse aggregates a course's enrollments by status.
func (s *EnrollmentService) CountsForCourse(ctx context.Context, courseID string) (*models.EnrollmentCounts, error) {
	counts, err := s.repo.CountsByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	return counts, nil
}

func (s *EnrollmentService) withdraw(ctx context.Context, enrollment *models.Enrollment, at time.Time, reason *string) (*models.EnrollmentDetail, error) {
	if err := s.repo.MarkWithdrawn(ctx, enrollment.ID, at, reason); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotActive, "enrollment is not active")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to withdraw enrollment")
	}
	s.logger.Info("enrollment withdrawn",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("course_id", enrollment.CourseID))
	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

func (s *EnrollmentService) loadEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func (s *EnrollmentService) conflictsFor(ctx context.Context, studentID string, candidate *models.Course) ([]models.ConflictDetail, error) {
	active, err := s.repo.ActiveByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active enrollments")
	}
	existing := make([]models.CourseSlots, 0, len(active))
	for _, enrollment := range active {
		if enrollment.CourseID == candidate.ID {
			continue
		}
		course, err := s.courses.FindByID(ctx, enrollment.CourseID)
		if err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolled course")
		}
		existing = append(existing, models.CourseSlots{CourseID: course.ID, CourseName: course.Name, Slots: course.Slots})
	}
	return DetectConflicts(candidate.Slots, existing), nil
}
