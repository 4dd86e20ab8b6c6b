package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pollmarket/internal/auth"
	"pollmarket/internal/config"
	"pollmarket/internal/market"
	"pollmarket/internal/season"
	"pollmarket/internal/service"
)

type RankHandler struct {
	Ranking *service.RankingService
	Auth    *auth.Service
	Config  config.RankingConfig
	Logger  *zap.Logger
}

func (h *RankHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/rank")
	group.POST("/refresh", h.refresh)
	group.GET("/leaderboard", h.leaderboard)
	if h.Auth.Enabled() {
		group.GET("/me", h.Auth.Middleware(), h.me)
	}
}

// @Summary My season standing per market group
// @Tags rank
// @Security BearerAuth
// @Success 200 {object} apiResponse
// @Router /api/v1/rank/me [get]
func (h *RankHandler) me(c *gin.Context) {
	if h.Ranking == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	userID, ok := auth.UserID(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "unauthenticated", nil)
		return
	}
	stats, err := h.Ranking.MyStats(c.Request.Context(), userID)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, stats, nil)
}

// @Summary Recompute season snapshots for one market group
// @Tags rank
// @Param market_group query string true "btc|us|kr|all"
// @Param season query string false "season id YYYY-Q, defaults to current"
// @Success 200 {object} apiResponse
// @Router /api/v1/rank/refresh [post]
func (h *RankHandler) refresh(c *gin.Context) {
	if h.Ranking == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	g, err := market.ParseGroup(strings.TrimSpace(c.Query("market_group")))
	if err != nil {
		Error(c, http.StatusBadRequest, "unknown market_group", nil)
		return
	}
	sid, err := h.seasonOrCurrent(c.Query("season"))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid season, want YYYY-Q", nil)
		return
	}
	n, err := h.Ranking.Refresh(c.Request.Context(), g, sid)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("rank refresh failed", zap.Error(err))
		}
		Error(c, http.StatusBadGateway, "refresh failed, safe to retry", nil)
		return
	}
	Ok(c, gin.H{"market_group": g, "season": sid, "refreshed": n}, nil)
}

// @Summary Season leaderboard for one market group
// @Tags rank
// @Param market_group query string true "btc|us|kr|all"
// @Param season query string false "season id YYYY-Q, defaults to current"
// @Param limit query int false "top N"
// @Success 200 {object} apiResponse
// @Router /api/v1/rank/leaderboard [get]
func (h *RankHandler) leaderboard(c *gin.Context) {
	if h.Ranking == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	g, err := market.ParseGroup(strings.TrimSpace(c.Query("market_group")))
	if err != nil {
		Error(c, http.StatusBadRequest, "unknown market_group", nil)
		return
	}
	sid, err := h.seasonOrCurrent(c.Query("season"))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid season, want YYYY-Q", nil)
		return
	}
	limit := h.Config.LeaderboardLimit
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	entries, err := h.Ranking.Leaderboard(c.Request.Context(), g, sid, limit)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, entries, map[string]any{"market_group": g, "season": sid})
}

func (h *RankHandler) seasonOrCurrent(raw string) (season.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return h.Ranking.CurrentSeason(), nil
	}
	return season.Parse(raw)
}
