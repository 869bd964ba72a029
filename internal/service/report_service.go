package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/edukite/campus-core-api/internal/models"
	appErrors "github.com/edukite/campus-core-api/pkg/errors"
	"github.com/edukite/campus-core-api/pkg/export"
)

type courseReportSource interface {
	CourseReport(ctx context.Context, courseID string) ([]models.CourseReportRow, error)
}

// ReportService renders course grade reports as CSV or PDF documents.
type ReportService struct {
	grades  courseReportSource
	courses courseReader
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	logger  *zap.Logger
}

// NewReportService constructs ReportService.
func NewReportService(grades courseReportSource, courses courseReader, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		grades:  grades,
		courses: courses,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		logger:  logger,
	}
}

// Report bundles rendered bytes with download metadata.
type Report struct {
	FileName    string
	ContentType string
	Content     []byte
}

// CourseGradeCSV renders the per-student grade summary as CSV.
func (s *ReportService) CourseGradeCSV(ctx context.Context, courseID string) (*Report, error) {
	course, dataset, err := s.dataset(ctx, courseID)
	if err != nil {
		return nil, err
	}
	content, err := s.csv.Render(*dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv report")
	}
	return &Report{
		FileName:    fmt.Sprintf("course-%s-grades.csv", course.ID),
		ContentType: "text/csv",
		Content:     content,
	}, nil
}

// CourseGradePDF renders the per-student grade summary as PDF.
func (s *ReportService) CourseGradePDF(ctx context.Context, courseID string) (*Report, error) {
	course, dataset, err := s.dataset(ctx, courseID)
	if err != nil {
		return nil, err
	}
	content, err := s.pdf.Render(*dataset, fmt.Sprintf("Grade Report %s", course.Name))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf report")
	}
	return &Report{
		FileName:    fmt.Sprintf("course-%s-grades.pdf", course.ID),
		ContentType: "application/pdf",
		Content:     content,
	}, nil
}

func (s *ReportService) dataset(ctx context.Context, courseID string) (*models.Course, *export.Dataset, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	rows, err := s.grades.CourseReport(ctx, courseID)
	if err != nil {
		return nil, nil, err
	}

	dataset := &export.Dataset{
		Headers: []string{"Student ID", "Student", "Graded Tasks", "Average", "Passed"},
		Rows:    make([]map[string]string, 0, len(rows)),
	}
	for _, row := range rows {
		average := ""
		if row.Average != nil {
			average = strconv.FormatFloat(*row.Average, 'f', 2, 64)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Student ID":   row.StudentID,
			"Student":      row.StudentName,
			"Graded Tasks": strconv.Itoa(row.GradedCount),
			"Average":      average,
			"Passed":       strconv.FormatBool(row.Passed),
		})
	}
	return course, dataset, nil
}
