package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edukite/campus-core-api/internal/models"
	"github.com/edukite/campus-core-api/pkg/clock"
	appErrors "github.com/edukite/campus-core-api/pkg/errors"
)

type courseRepository interface {
	Create(ctx context.Context, course *models.Course) error
	FindByID(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	UpdateStatus(ctx context.Context, id string, status models.CourseStatus) error
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// ScheduleSlotRequest is one weekly slot in a course payload.
type ScheduleSlotRequest struct {
	DayOfWeek   string `json:"day_of_week" validate:"required"`
	StartMinute int    `json:"start_minute" validate:"min=0,max=1439"`
	EndMinute   int    `json:"end_minute" validate:"min=1,max=1440"`
}

// CreateCourseRequest describes course creation payload.
type CreateCourseRequest struct {
	Name         string                `json:"name" validate:"required,min=3"`
	Description  string                `json:"description" validate:"required,min=10"`
	TeacherID    string                `json:"teacher_id" validate:"required"`
	Capacity     int                   `json:"capacity" validate:"required,gt=0,lte=100"`
	Modality     models.CourseModality `json:"modality" validate:"required,oneof=IN_PERSON VIRTUAL HYBRID"`
	ClassMinutes int                   `json:"class_minutes" validate:"required,gt=0"`
	TotalHours   int                   `json:"total_hours" validate:"required,gt=0"`
	StartDate    *time.Time            `json:"start_date,omitempty"`
	EndDate      *time.Time            `json:"end_date,omitempty"`
	Slots        []ScheduleSlotRequest `json:"schedule_slots" validate:"dive"`
}

// SetCourseStatusRequest updates the course lifecycle flag.
type SetCourseStatusRequest struct {
	Status models.CourseStatus `json:"status" validate:"required,oneof=OPEN STARTED FINISHED CANCELED"`
}

// CourseService owns course capacity, status and schedule slots.
type CourseService struct {
	repo      courseRepository
	users     userReader
	clock     clock.Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, users userReader, clk clock.Clock, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if clk == nil {
		clk = clock.System()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, users: users, clock: clk, validator: validate, logger: logger}
}

// Create validates and persists a new course with its schedule.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest, actor *models.JWTClaims) (*models.Course, error) {
	if err := Authorize(actor, CapManageCourse, OwnershipScope{CourseTeacherID: req.TeacherID}); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if req.StartDate != nil && req.EndDate != nil {
		if !req.StartDate.Before(*req.EndDate) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "start date must precede end date")
		}
		if req.StartDate.Before(s.clock.Now().Truncate(24 * time.Hour)) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "start date must not be in the past")
		}
	}
	for _, slot := range req.Slots {
		if slot.DayOfWeek == "" || slot.StartMinute >= slot.EndMinute {
			return nil, appErrors.Clone(appErrors.ErrValidation, "schedule slot requires day and a positive time range")
		}
	}
	teacher, err := s.users.FindByID(ctx, req.TeacherID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if teacher.Role != models.RoleTeacher && teacher.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assigned instructor must hold the teacher role")
	}

	course := &models.Course{
		Name:         req.Name,
		Description:  req.Description,
		TeacherID:    req.TeacherID,
		Capacity:     req.Capacity,
		Modality:     req.Modality,
		Status:       models.CourseStatusOpen,
		ClassMinutes: req.ClassMinutes,
		TotalHours:   req.TotalHours,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
	}
	for _, slot := range req.Slots {
		course.Slots = append(course.Slots, models.ScheduleSlot{
			DayOfWeek:   slot.DayOfWeek,
			StartMinute: slot.StartMinute,
			EndMinute:   slot.EndMinute,
		})
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	s.logger.Info("course created", zap.String("course_id", course.ID), zap.Int("capacity", course.Capacity))
	return course, nil
}

// Get returns a course with its schedule slots.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// List returns courses with pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return courses, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// SetStatus changes the course status. Admin only; the enum is flat, so no
// transition restrictions apply.
func (s *CourseService) SetStatus(ctx context.Context, id string, req SetCourseStatusRequest, actor *models.JWTClaims) (*models.Course, error) {
	if err := Authorize(actor, CapSetStatus, OwnershipScope{}); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if err := s.repo.UpdateStatus(ctx, id, req.Status); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course status")
	}
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}
