package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edukite/campus-core-api/internal/models"
	appErrors "github.com/edukite/campus-core-api/pkg/errors"
)

type gradeRepository interface {
	Insert(ctx context.Context, grade *models.Grade) (bool, error)
	FindByID(ctx context.Context, id string) (*models.Grade, error)
	List(ctx context.Context, filter models.GradeFilter) ([]models.Grade, error)
	Update(ctx context.Context, id string, score float64, status models.GradeStatus) error
	Delete(ctx context.Context, id string) error
	FinalWithWeights(ctx context.Context, studentID, courseID string) ([]models.GradeWithWeight, error)
	CourseReportRows(ctx context.Context, courseID string) ([]models.CourseReportRow, error)
}

type taskReader interface {
	FindByID(ctx context.Context, id string) (*models.Task, error)
}

type activeEnrollmentChecker interface {
	ExistsActive(ctx context.Context, studentID, courseID string) (bool, error)
}

type averageCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// RecordGradeRequest describes a grade creation payload.
type RecordGradeRequest struct {
	StudentID string  `json:"student_id" validate:"required"`
	CourseID  string  `json:"course_id" validate:"required"`
	TaskID    string  `json:"task_id" validate:"required"`
	Score     float64 `json:"score" validate:"min=0,max=5"`
}

// UpdateGradeRequest patches score and optionally the grade status.
type UpdateGradeRequest struct {
	Score  *float64            `json:"score,omitempty"`
	Status *models.GradeStatus `json:"status,omitempty" validate:"omitempty,oneof=PROVISIONAL FINAL"`
}

// GradeService orchestrates grade recording and weighted averages.
type GradeService struct {
	grades        gradeRepository
	tasks         taskReader
	enrollments   activeEnrollmentChecker
	courses       courseReader
	cache         averageCache
	metrics       *MetricsService
	passThreshold float64
	cacheTTL      time.Duration
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewGradeService constructs GradeService. A nil metrics service disables
// cache instrumentation.
func NewGradeService(grades gradeRepository, tasks taskReader, enrollments activeEnrollmentChecker, courses courseReader, cache averageCache, metrics *MetricsService, passThreshold float64, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *GradeService {
	if passThreshold <= 0 {
		passThreshold = 3.0
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{
		grades:        grades,
		tasks:         tasks,
		enrollments:   enrollments,
		courses:       courses,
		cache:         cache,
		metrics:       metrics,
		passThreshold: passThreshold,
		cacheTTL:      cacheTTL,
		validator:     validate,
		logger:        logger,
	}
}

// Record stores a grade for a (student, task) pair. The uniqueness check
// and the insert are one statement in the repository, so concurrent
// recorders cannot produce duplicates.
func (s *GradeService) Record(ctx context.Context, req RecordGradeRequest, actor *models.JWTClaims) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	task, err := s.tasks.FindByID(ctx, req.TaskID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task")
	}
	if task.CourseID != req.CourseID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "task does not belong to course")
	}
	if err := Authorize(actor, CapRecordGrade, OwnershipScope{CourseTeacherID: task.CreatedBy}); err != nil {
		return nil, err
	}
	enrolled, err := s.enrollments.ExistsActive(ctx, req.StudentID, req.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "student has no active enrollment in course")
	}

	grade := &models.Grade{
		StudentID:  req.StudentID,
		CourseID:   req.CourseID,
		TaskID:     req.TaskID,
		Score:      req.Score,
		RecordedBy: actor.UserID,
		Status:     models.GradeStatusFinal,
	}
	inserted, err := s.grades.Insert(ctx, grade)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record grade")
	}
	if !inserted {
		return nil, appErrors.Clone(appErrors.ErrDuplicateGrade, "grade already recorded for this student and task")
	}
	s.invalidateAverage(ctx, req.StudentID, req.CourseID)
	s.logger.Info("grade recorded",
		zap.String("grade_id", grade.ID),
		zap.String("student_id", req.StudentID),
		zap.String("task_id", req.TaskID))
	return grade, nil
}

// Update patches an existing grade. Only the original recorder or an admin
// may update.
func (s *GradeService) Update(ctx context.Context, id string, req UpdateGradeRequest, actor *models.JWTClaims) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade patch")
	}
	grade, err := s.loadGrade(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, CapMutateGrade, OwnershipScope{RecorderID: grade.RecordedBy}); err != nil {
		return nil, err
	}
	score := grade.Score
	if req.Score != nil {
		if *req.Score < models.MinScore || *req.Score > models.MaxScore {
			return nil, appErrors.Clone(appErrors.ErrValidation, "score must be between 0.0 and 5.0")
		}
		score = *req.Score
	}
	status := grade.Status
	if req.Status != nil {
		status = *req.Status
	}
	if err := s.grades.Update(ctx, id, score, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update grade")
	}
	grade.Score = score
	grade.Status = status
	s.invalidateAverage(ctx, grade.StudentID, grade.CourseID)
	return grade, nil
}

// Delete removes a grade under the same authorization rule as Update.
func (s *GradeService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	grade, err := s.loadGrade(ctx, id)
	if err != nil {
		return err
	}
	if err := Authorize(actor, CapMutateGrade, OwnershipScope{RecorderID: grade.RecordedBy}); err != nil {
		return err
	}
	if err := s.grades.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete grade")
	}
	s.invalidateAverage(ctx, grade.StudentID, grade.CourseID)
	s.logger.Info("grade deleted", zap.String("grade_id", id))
	return nil
}

// List returns grades matching the filter.
func (s *GradeService) List(ctx context.Context, filter models.GradeFilter) ([]models.Grade, error) {
	grades, err := s.grades.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grades")
	}
	return grades, nil
}

// ComputeAverage returns the weight-normalised aggregate of the student's
// final grades in a course: sum(score*weight)/sum(weight). Average is nil
// when no final grades exist. Results are cached briefly; every grade
// mutation invalidates the cached value.
func (s *GradeService) ComputeAverage(ctx context.Context, studentID, courseID string) (*models.CourseAverage, error) {
	key := averageKey(studentID, courseID)
	if s.cache != nil {
		var cached models.CourseAverage
		start := time.Now()
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			s.metrics.RecordCacheOperation(true, time.Since(start))
			return &cached, nil
		}
		s.metrics.RecordCacheOperation(false, time.Since(start))
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("average cache read failed", zap.Error(err))
		}
	}

	grades, err := s.grades.FinalWithWeights(ctx, studentID, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch final grades")
	}
	result := &models.CourseAverage{StudentID: studentID, CourseID: courseID, GradedCount: len(grades)}
	var weightSum, scoreSum float64
	for _, grade := range grades {
		weightSum += grade.Weight
		scoreSum += grade.Score * grade.Weight
	}
	if len(grades) > 0 && weightSum > 0 {
		avg := math.Round(scoreSum/weightSum*100) / 100
		result.Average = &avg
		result.Passed = avg >= s.passThreshold
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, result, s.cacheTTL); err != nil {
			s.logger.Warn("average cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

// CourseReport builds the per-student grade rows for a course export.
func (s *GradeService) CourseReport(ctx context.Context, courseID string) ([]models.CourseReportRow, error) {
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	rows, err := s.grades.CourseReportRows(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build course report")
	}
	for i := range rows {
		if rows[i].Average != nil {
			rows[i].Passed = *rows[i].Average >= s.passThreshold
		}
	}
	return rows, nil
}

func (s *GradeService) loadGrade(ctx context.Context, id string) (*models.Grade, error) {
	grade, err := s.grades.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade")
	}
	return grade, nil
}

func (s *GradeService) invalidateAverage(ctx context.Context, studentID, courseID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, averageKey(studentID, courseID)); err != nil {
		s.logger.Warn("average cache invalidation failed", zap.Error(err))
	}
}

func averageKey(studentID, courseID string) string {
	return fmt.Sprintf("avg:%s:%s", courseID, studentID)
}
