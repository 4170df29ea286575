package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/marcelujan/mgq-admin-sub000/internal/api/dto"
)

// DailyRun handles POST /api/v1/pricing/daily-run
// Runs one budget-bounded slice of today's pricing run. The route sits behind
// bearer authentication; re-invoking it resumes where the last slice stopped.
func (h *PricingHandler) DailyRun(c *gin.Context) {
	summary, err := h.orchestrator.ProcessDueWork(c.Request.Context())
	if err != nil {
		h.logger.Error("Daily run failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Daily run failed",
		})
		return
	}

	c.JSON(http.StatusOK, dto.DailyRunResponse{
		RunID:            summary.RunID,
		Date:             summary.Date,
		Status:           summary.Status,
		BatchSize:        summary.BatchSize,
		Seeded:           summary.Seeded,
		OK:               summary.OK,
		Fail:             summary.Fail,
		InsertedRows:     summary.InsertedRows,
		PendingRemaining: summary.PendingRemaining,
		TimeMs:           summary.Elapsed.Milliseconds(),
	})
}

// PriceHistory handles GET /api/v1/items/:item_id/price-history
func (h *PricingHandler) PriceHistory(c *gin.Context) {
	itemID, err := strconv.ParseInt(c.Param("item_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "item_id must be an integer",
		})
		return
	}

	days := 30
	if raw := c.Query("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "days must be a positive integer",
			})
			return
		}
	}

	points, err := h.storage.PriceHistory(c.Request.Context(), itemID, days)
	if err != nil {
		h.logger.Error("Failed to read price history",
			slog.Int64("item_id", itemID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read price history",
		})
		return
	}

	resp := dto.PriceHistoryResponse{
		ItemID: itemID,
		Days:   days,
		Points: make([]dto.PricePointDTO, len(points)),
	}
	for i, p := range points {
		resp.Points[i] = dto.PricePointDTO{
			AsOf:         p.AsOf.Format("2006-01-02"),
			Presentation: p.Presentation,
			Price:        p.Price,
			SourceURL:    p.SourceURL,
			RunID:        p.RunID,
		}
	}
	c.JSON(http.StatusOK, resp)
}
