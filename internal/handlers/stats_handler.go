package handlers

import (
	"fmt"
	"net/http"

	"github.com/SAP-F-2025/workshop-progress/internal/services"
	"github.com/SAP-F-2025/workshop-progress/internal/utils"
	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// StatsHandler serves the trainer screens.
type StatsHandler struct {
	BaseHandler
	stats services.StatsService
}

func NewStatsHandler(stats services.StatsService, logger utils.Logger) *StatsHandler {
	return &StatsHandler{
		BaseHandler: NewBaseHandler(logger),
		stats:       stats,
	}
}

// @Router /workshops/{id}/stats [get]
func (h *StatsHandler) GetWorkshopStats(c *gin.Context) {
	workshopID, ok := ParseUintParam(c, "id")
	if !ok {
		return
	}
	stats, err := h.stats.GetWorkshopStats(c.Request.Context(), currentSession(c).Identity(), workshopID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// @Router /workshops/{id}/analytics [get]
func (h *StatsHandler) GetAnalytics(c *gin.Context) {
	workshopID, ok := ParseUintParam(c, "id")
	if !ok {
		return
	}
	dashboard, err := h.stats.GetAnalytics(c.Request.Context(), currentSession(c).Identity(), workshopID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

// ExportStats downloads stats and analytics as an xlsx workbook
// @Router /workshops/{id}/stats/export [get]
func (h *StatsHandler) ExportStats(c *gin.Context) {
	workshopID, ok := ParseUintParam(c, "id")
	if !ok {
		return
	}
	data, err := h.stats.ExportStatsToExcel(c.Request.Context(), currentSession(c).Identity(), workshopID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("workshop_%d_stats.xlsx", workshopID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}
