package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/repair-service/internal/api/dto"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/report"
)

// ReportsHandler exposes the supplier daily digest.
type ReportsHandler struct {
	job *report.Job
}

// NewReportsHandler constructs handler.
func NewReportsHandler(job *report.Job) *ReportsHandler {
	return &ReportsHandler{job: job}
}

// Run POST /reports/:supplier/:date/run.
func (h *ReportsHandler) Run(c *fiber.Ctx) error {
	rep, err := h.job.RunDailyReport(c.UserContext(), domain.SupplierKind(c.Params("supplier")), c.Params("date"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewDailyReportResponse(rep)})
}

// Get GET /reports/:supplier/:date.
func (h *ReportsHandler) Get(c *fiber.Ctx) error {
	rep, err := h.job.GetDailyReport(c.UserContext(), domain.SupplierKind(c.Params("supplier")), c.Params("date"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewDailyReportResponse(rep)})
}
