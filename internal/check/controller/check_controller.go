package controller

import (
	"context"

	"gradebox/internal/check/model"
	"gradebox/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ReportReader loads stored reports.
type ReportReader interface {
	Get(ctx context.Context, submissionID string) (model.Report, error)
}

// CheckController handles check report requests.
type CheckController struct {
	reports ReportReader
}

// NewCheckController creates a new controller.
func NewCheckController(reports ReportReader) *CheckController {
	return &CheckController{reports: reports}
}

// GetReport returns the report of one submission.
func (h *CheckController) GetReport(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	report, err := h.reports.Get(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}
