package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apierrors "github.com/stwalsh4118/peritaje/internal/errors"
	"github.com/stwalsh4118/peritaje/internal/services"
)

// ReportRenderer is satisfied by *services.ReportService.
type ReportRenderer interface {
	Render(ctx context.Context, id string) ([]byte, error)
}

// ReportHandler serves the PDF export.
type ReportHandler struct {
	reports ReportRenderer
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(reports ReportRenderer) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// PDF handles GET /api/appraisal/pdf?id=.
func (h *ReportHandler) PDF(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		apierrors.BadRequest(c, msgMissingID, nil)
		return
	}

	data, err := h.reports.Render(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAppraisalNotFound):
			apierrors.NotFound(c, msgNotFound)
		case errors.Is(err, services.ErrNotCompleted):
			apierrors.BadRequest(c, "El peritaje aún no tiene resultados", nil)
		default:
			apierrors.InternalServerError(c, "No se pudo generar el PDF", err)
		}
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="peritaje-%s.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", data)
}
