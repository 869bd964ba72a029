package service

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edukite/campus-core-api/internal/models"
	appErrors "github.com/edukite/campus-core-api/pkg/errors"
)

type mockGradeRepo struct {
	grades    map[string]models.Grade
	taken     map[string]bool
	finals    []models.GradeWithWeight
	reportRow []models.CourseReportRow
	inserted  *models.Grade
	updated   map[string]float64
	deleted   []string
}

func (m *mockGradeRepo) Insert(ctx context.Context, grade *models.Grade) (bool, error) {
	key := grade.StudentID + "/" + grade.TaskID
	if m.taken[key] {
		return false, nil
	}
	if m.taken == nil {
		m.taken = make(map[string]bool)
	}
	m.taken[key] = true
	if grade.ID == "" {
		grade.ID = "new-grade"
	}
	m.inserted = grade
	return true, nil
}

func (m *mockGradeRepo) FindByID(ctx context.Context, id string) (*models.Grade, error) {
	if g, ok := m.grades[id]; ok {
		return &g, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockGradeRepo) List(ctx context.Context, filter models.GradeFilter) ([]models.Grade, error) {
	var list []models.Grade
	for _, g := range m.grades {
		list = append(list, g)
	}
	return list, nil
}

func (m *mockGradeRepo) Update(ctx context.Context, id string, score float64, status models.GradeStatus) error {
	if m.updated == nil {
		m.updated = make(map[string]float64)
	}
	m.updated[id] = score
	return nil
}

func (m *mockGradeRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockGradeRepo) FinalWithWeights(ctx context.Context, studentID, courseID string) ([]models.GradeWithWeight, error) {
	return m.finals, nil
}

func (m *mockGradeRepo) CourseReportRows(ctx context.Context, courseID string) ([]models.CourseReportRow, error) {
	return m.reportRow, nil
}

type mockTaskReader struct {
	tasks map[string]*models.Task
}

func (m *mockTaskReader) FindByID(ctx context.Context, id string) (*models.Task, error) {
	if task, ok := m.tasks[id]; ok {
		return task, nil
	}
	return nil, sql.ErrNoRows
}

type mockEnrollmentChecker struct {
	active map[string]bool
}

func (m *mockEnrollmentChecker) ExistsActive(ctx context.Context, studentID, courseID string) (bool, error) {
	return m.active[studentID+"/"+courseID], nil
}

type mockAverageCache struct {
	values      map[string]*models.CourseAverage
	sets        int
	invalidated []string
}

func (m *mockAverageCache) Get(ctx context.Context, key string, dest interface{}) error {
	if v, ok := m.values[key]; ok {
		*dest.(*models.CourseAverage) = *v
		return nil
	}
	return appErrors.ErrCacheMiss
}

func (m *mockAverageCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.values == nil {
		m.values = make(map[string]*models.CourseAverage)
	}
	avg := value.(*models.CourseAverage)
	copied := *avg
	m.values[key] = &copied
	m.sets++
	return nil
}

func (m *mockAverageCache) DeleteByPattern(ctx context.Context, pattern string) error {
	delete(m.values, pattern)
	m.invalidated = append(m.invalidated, pattern)
	return nil
}

func teacherActor(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTeacher}
}

func newGradeServiceForTest(grades *mockGradeRepo, tasks *mockTaskReader, enrollments *mockEnrollmentChecker, cache *mockAverageCache) *GradeService {
	return NewGradeService(grades, tasks, enrollments, &mockCourseReader{}, cache, nil, 3.0, time.Minute, validator.New(), zap.NewNop())
}

func TestGradeServiceRecord(t *testing.T) {
	grades := &mockGradeRepo{}
	tasks := &mockTaskReader{tasks: map[string]*models.Task{"t1": {ID: "t1", CourseID: "c1", CreatedBy: "teach-1"}}}
	enrollments := &mockEnrollmentChecker{active: map[string]bool{"s1/c1": true}}
	cache := &mockAverageCache{}
	svc := newGradeServiceForTest(grades, tasks, enrollments, cache)

	grade, err := svc.Record(context.Background(), RecordGradeRequest{StudentID: "s1", CourseID: "c1", TaskID: "t1", Score: 4.2}, teacherActor("teach-1"))
	require.NoError(t, err)
	assert.Equal(t, models.GradeStatusFinal, grade.Status)
	assert.Equal(t, "teach-1", grade.RecordedBy)
	assert.Contains(t, cache.invalidated, "avg:c1:s1")
}

func TestGradeServiceRecordDuplicate(t *testing.T) {
	grades := &mockGradeRepo{taken: map[string]bool{"s1/t1": true}}
	tasks := &mockTaskReader{tasks: map[string]*models.Task{"t1": {ID: "t1", CourseID: "c1", CreatedBy: "teach-1"}}}
	enrollments := &mockEnrollmentChecker{active: map[string]bool{"s1/c1": true}}
	svc := newGradeServiceForTest(grades, tasks, enrollments, &mockAverageCache{})

	_, err := svc.Record(context.Background(), RecordGradeRequest{StudentID: "s1", CourseID: "c1", TaskID: "t1", Score: 3.0}, teacherActor("teach-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateGrade.Code, appErrors.FromError(err).Code)
}

func TestGradeServiceRecordTaskCourseMismatch(t *testing.T) {
	grades := &mockGradeRepo{}
	tasks := &mockTaskReader{tasks: map[string]*models.Task{"t1": {ID: "t1", CourseID: "other", CreatedBy: "teach-1"}}}
	svc := newGradeServiceForTest(grades, tasks, &mockEnrollmentChecker{}, &mockAverageCache{})

	_, err := svc.Record(context.Background(), RecordGradeRequest{StudentID: "s1", CourseID: "c1", TaskID: "t1", Score: 3.0}, teacherActor("teach-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestGradeServiceRecordNotEnrolled(t *testing.T) {
	grades := &mockGradeRepo{}
	tasks := &mockTaskReader{tasks: map[string]*models.Task{"t1": {ID: "t1", CourseID: "c1", CreatedBy: "teach-1"}}}
	svc := newGradeServiceForTest(grades, tasks, &mockEnrollmentChecker{}, &mockAverageCache{})

	_, err := svc.Record(context.Background(), RecordGradeRequest{StudentID: "s1", CourseID: "c1", TaskID: "t1", Score: 3.0}, teacherActor("teach-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotEnrolled.Code, appErrors.FromError(err).Code)
}

func TestGradeServiceRecordForbiddenForOtherTeacher(t *testing.T) {
	grades := &mockGradeRepo{}
	tasks := &mockTaskReader{tasks: map[string]*models.Task{"t1": {ID: "t1", CourseID: "c1", CreatedBy: "teach-1"}}}
	enrollments := &mockEnrollmentChecker{active: map[string]bool{"s1/c1": true}}
	svc := newGradeServiceForTest(grades, tasks, enrollments, &mockAverageCache{})

	_, err := svc.Record(context.Background(), RecordGradeRequest{StudentID: "s1", CourseID: "c1", TaskID: "t1", Score: 3.0}, teacherActor("teach-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestGradeServiceUpdateByRecorder(t *testing.T) {
	grades := &mockGradeRepo{grades: map[string]models.Grade{
		"g1": {ID: "g1", StudentID: "s1", CourseID: "c1", TaskID: "t1", Score: 3.0, RecordedBy: "teach-1", Status: models.GradeStatusFinal},
	}}
	svc := newGradeServiceForTest(grades, &mockTaskReader{}, &mockEnrollmentChecker{}, &mockAverageCache{})

	score := 4.5
	grade, err := svc.Update(context.Background(), "g1", UpdateGradeRequest{Score: &score}, teacherActor("teach-1"))
	require.NoError(t, err)
	assert.Equal(t, 4.5, grade.Score)
	assert.Equal(t, 4.5, grades.updated["g1"])
}

func TestGradeServiceUpdateScoreOutOfRange(t *testing.T) {
	grades := &mockGradeRepo{grades: map[string]models.Grade{
		"g1": {ID: "g1", StudentID: "s1", CourseID: "c1", RecordedBy: "teach-1"},
	}}
	svc := newGradeServiceForTest(grades, &mockTaskReader{}, &mockEnrollmentChecker{}, &mockAverageCache{})

	score := 5.5
	_, err := svc.Update(context.Background(), "g1", UpdateGradeRequest{Score: &score}, teacherActor("teach-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestGradeServiceDeleteForbiddenForOtherRecorder(t *testing.T) {
	grades := &mockGradeRepo{grades: map[string]models.Grade{
		"g1": {ID: "g1", StudentID: "s1", CourseID: "c1", RecordedBy: "teach-1"},
	}}
	svc := newGradeServiceForTest(grades, &mockTaskReader{}, &mockEnrollmentChecker{}, &mockAverageCache{})

	err := svc.Delete(context.Background(), "g1", teacherActor("teach-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Empty(t, grades.deleted)
}

func TestGradeServiceComputeAverageWeighted(t *testing.T) {
	grades := &mockGradeRepo{finals: []models.GradeWithWeight{
		{Grade: models.Grade{Score: 4.0}, Weight: 0.4},
		{Grade: models.Grade{Score: 3.5}, Weight: 0.6},
	}}
	cache := &mockAverageCache{}
	svc := newGradeServiceForTest(grades, &mockTaskReader{}, &mockEnrollmentChecker{}, cache)

	avg, err := svc.ComputeAverage(context.Background(), "s1", "c1")
	require.NoError(t, err)
	require.NotNil(t, avg.Average)
	assert.InDelta(t, 3.7, *avg.Average, 0.001)
	assert.True(t, avg.Passed)
	assert.Equal(t, 2, avg.GradedCount)
	assert.Equal(t, 1, cache.sets)
}

func TestGradeServiceComputeAverageNoGrades(t *testing.T) {
	svc := newGradeServiceForTest(&mockGradeRepo{}, &mockTaskReader{}, &mockEnrollmentChecker{}, &mockAverageCache{})

	avg, err := svc.ComputeAverage(context.Background(), "s1", "c1")
	require.NoError(t, err)
	assert.Nil(t, avg.Average)
	assert.False(t, avg.Passed)
	assert.Zero(t, avg.GradedCount)
}

func TestGradeServiceComputeAverageBelowThreshold(t *testing.T) {
	grades := &mockGradeRepo{finals: []models.GradeWithWeight{
		{Grade: models.Grade{Score: 2.0}, Weight: 0.5},
		{Grade: models.Grade{Score: 3.0}, Weight: 0.5},
	}}
	svc := newGradeServiceForTest(grades, &mockTaskReader{}, &mockEnrollmentChecker{}, &mockAverageCache{})

	avg, err := svc.ComputeAverage(context.Background(), "s1", "c1")
	require.NoError(t, err)
	require.NotNil(t, avg.Average)
	assert.InDelta(t, 2.5, *avg.Average, 0.001)
	assert.False(t, avg.Passed)
}

func TestGradeServiceComputeAverageUsesCache(t *testing.T) {
	cachedScore := 4.1
	cache := &mockAverageCache{values: map[string]*models.CourseAverage{
		"avg:c1:s1": {StudentID: "s1", CourseID: "c1", Average: &cachedScore, Passed: true, GradedCount: 3},
	}}
	grades := &mockGradeRepo{finals: []models.GradeWithWeight{{Grade: models.Grade{Score: 1.0}, Weight: 1}}}
	svc := newGradeServiceForTest(grades, &mockTaskReader{}, &mockEnrollmentChecker{}, cache)

	avg, err := svc.ComputeAverage(context.Background(), "s1", "c1")
	require.NoError(t, err)
	require.NotNil(t, avg.Average)
	assert.InDelta(t, 4.1, *avg.Average, 0.001)
	assert.Zero(t, cache.sets)
}

func TestGradeServiceComputeAverageRecordsCacheMetrics(t *testing.T) {
	grades := &mockGradeRepo{finals: []models.GradeWithWeight{{Grade: models.Grade{Score: 4.0}, Weight: 1}}}
	cache := &mockAverageCache{}
	metrics := NewMetricsService()
	svc := NewGradeService(grades, &mockTaskReader{}, &mockEnrollmentChecker{}, &mockCourseReader{}, cache, metrics, 3.0, time.Minute, validator.New(), zap.NewNop())

	_, err := svc.ComputeAverage(context.Background(), "s1", "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), atomic.LoadUint64(&metrics.cacheHitCount))
	assert.Equal(t, uint64(1), atomic.LoadUint64(&metrics.cacheMissCount))

	_, err = svc.ComputeAverage(context.Background(), "s1", "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), atomic.LoadUint64(&metrics.cacheHitCount))
	assert.Equal(t, uint64(1), atomic.LoadUint64(&metrics.cacheMissCount))
}
