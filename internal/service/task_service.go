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

type taskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	FindByID(ctx context.Context, id string) (*models.Task, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Task, error)
	UpdateStatus(ctx context.Context, id string, status models.TaskStatus) error
	Delete(ctx context.Context, id string) error
}

type gradeExistenceChecker interface {
	ExistsForTask(ctx context.Context, taskID string) (bool, error)
}

// CreateTaskRequest describes task creation payload.
type CreateTaskRequest struct {
	CourseID    string          `json:"course_id" validate:"required"`
	Title       string          `json:"title" validate:"required,max=100"`
	Description string          `json:"description" validate:"max=500"`
	Type        models.TaskType `json:"type" validate:"required,oneof=MIDTERM FINAL QUIZ ASSIGNMENT PROJECT"`
	Weight      float64         `json:"weight" validate:"required,gt=0"`
	DueAt       *time.Time      `json:"due_at,omitempty"`
}

// TaskService owns gradable task definitions and their linear lifecycle.
type TaskService struct {
	repo      taskRepository
	grades    gradeExistenceChecker
	courses   courseReader
	clock     clock.Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTaskService constructs TaskService.
func NewTaskService(repo taskRepository, grades gradeExistenceChecker, courses courseReader, clk clock.Clock, validate *validator.Validate, logger *zap.Logger) *TaskService {
	if clk == nil {
		clk = clock.System()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskService{repo: repo, grades: grades, courses: courses, clock: clk, validator: validate, logger: logger}
}

// Create validates and persists a new draft task. Only the course's
// assigned instructor or an admin may create tasks.
func (s *TaskService) Create(ctx context.Context, req CreateTaskRequest, actor *models.JWTClaims) (*models.Task, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid task payload")
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if err := Authorize(actor, CapCreateTask, OwnershipScope{CourseTeacherID: course.TeacherID}); err != nil {
		return nil, err
	}
	if req.DueAt != nil && !req.DueAt.After(s.clock.Now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "due date must be in the future")
	}

	task := &models.Task{
		CourseID:    req.CourseID,
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Weight:      req.Weight,
		DueAt:       req.DueAt,
		Status:      models.TaskStatusDraft,
		CreatedBy:   actor.UserID,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create task")
	}
	s.logger.Info("task created", zap.String("task_id", task.ID), zap.String("course_id", task.CourseID))
	return task, nil
}

// ListByCourse returns a course's tasks.
func (s *TaskService) ListByCourse(ctx context.Context, courseID string) ([]models.Task, error) {
	tasks, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tasks")
	}
	return tasks, nil
}

// Advance moves a task to the next lifecycle state (DRAFT to ACTIVE,
// ACTIVE to CLOSED). The lifecycle is linear; no regression is allowed.
func (s *TaskService) Advance(ctx context.Context, id string, actor *models.JWTClaims) (*models.Task, error) {
	task, err := s.loadTask(ctx, id)
	if err != nil {
		return nil, err
	}
	course, err := s.courses.FindByID(ctx, task.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if err := Authorize(actor, CapCreateTask, OwnershipScope{CourseTeacherID: course.TeacherID}); err != nil {
		return nil, err
	}
	next := task.Status.NextStatus()
	if next == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "task is already closed")
	}
	if err := s.repo.UpdateStatus(ctx, id, next); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to advance task")
	}
	task.Status = next
	return task, nil
}

// Delete removes a task unless any grade references it.
func (s *TaskService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	task, err := s.loadTask(ctx, id)
	if err != nil {
		return err
	}
	course, err := s.courses.FindByID(ctx, task.CourseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if err := Authorize(actor, CapCreateTask, OwnershipScope{CourseTeacherID: course.TeacherID}); err != nil {
		return err
	}
	graded, err := s.grades.ExistsForTask(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check task grades")
	}
	if graded {
		return appErrors.Clone(appErrors.ErrValidation, "task has recorded grades and cannot be deleted")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete task")
	}
	s.logger.Info("task deleted", zap.String("task_id", id))
	return nil
}

func (s *TaskService) loadTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task")
	}
	return task, nil
}
