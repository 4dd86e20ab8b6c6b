package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pollmarket/internal/calendar"
	"pollmarket/internal/market"
	"pollmarket/internal/service"
)

type SettlementHandler struct {
	Settlement *service.SettlementService
	Logger     *zap.Logger
}

func (h *SettlementHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/settlement")
	group.POST("/settle", h.settle)
}

type settleRequest struct {
	Market   string `json:"market" binding:"required"`
	PollDate string `json:"poll_date" binding:"required"`
	// WindowStart narrows the run to one window of the day; empty settles
	// every window of the date.
	WindowStart string `json:"window_start"`
}

// @Summary Settle a poll date's windows for one market
// @Description Idempotent: settled and missing polls report as no-op outcomes, unsettleable ones can be retried.
// @Tags settlement
// @Param request body settleRequest true "market, poll date (YYYY-MM-DD), optional RFC3339 window start"
// @Success 200 {object} apiResponse
// @Router /api/v1/settlement/settle [post]
func (h *SettlementHandler) settle(c *gin.Context) {
	if h.Settlement == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	m, err := market.Parse(strings.TrimSpace(req.Market))
	if err != nil {
		Error(c, http.StatusBadRequest, "unknown market", nil)
		return
	}
	date, err := calendar.ParseCivilDate(strings.TrimSpace(req.PollDate))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid poll_date, want YYYY-MM-DD", nil)
		return
	}

	if ws := strings.TrimSpace(req.WindowStart); ws != "" {
		start, err := time.Parse(time.RFC3339, ws)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid window_start, want RFC3339", nil)
			return
		}
		res, err := h.Settlement.Settle(c.Request.Context(), m, start.UTC())
		if err != nil {
			h.logErr("settle window failed", err)
			Error(c, http.StatusBadGateway, "settlement failed, safe to retry", nil)
			return
		}
		Ok(c, []service.SettlementResult{res}, nil)
		return
	}

	results, err := h.Settlement.SettleDay(c.Request.Context(), m, date)
	if err != nil {
		h.logErr("settle day failed", err)
		Error(c, http.StatusBadGateway, "settlement failed, safe to retry", nil)
		return
	}
	Ok(c, results, map[string]any{"windows": len(results)})
}

func (h *SettlementHandler) logErr(msg string, err error) {
	if h.Logger != nil {
		h.Logger.Warn(msg, zap.Error(err))
	}
}
