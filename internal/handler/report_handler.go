package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edukite/campus-core-api/internal/service"
	"github.com/edukite/campus-core-api/pkg/response"
)

// ReportHandler serves downloadable course grade reports.
type ReportHandler struct {
	reports *service.ReportService
}

// NewReportHandler constructs ReportHandler.
func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// CSV godoc
// @Summary Course grade report as CSV
// @Tags Reports
// @Produce text/csv
// @Param id path string true "Course ID"
// @Success 200 {file} file
// @Router /courses/{id}/report.csv [get]
func (h *ReportHandler) CSV(c *gin.Context) {
	report, err := h.reports.CourseGradeCSV(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.serve(c, report)
}

// PDF godoc
// @Summary Course grade report as PDF
// @Tags Reports
// @Produce application/pdf
// @Param id path string true "Course ID"
// @Success 200 {file} file
// @Router /courses/{id}/report.pdf [get]
func (h *ReportHandler) PDF(c *gin.Context) {
	report, err := h.reports.CourseGradePDF(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.serve(c, report)
}

func (h *ReportHandler) serve(c *gin.Context, report *service.Report) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.FileName))
	c.Data(http.StatusOK, report.ContentType, report.Content)
}
