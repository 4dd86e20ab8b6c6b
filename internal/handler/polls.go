package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pollmarket/internal/auth"
	"pollmarket/internal/market"
	"pollmarket/internal/service"
)

type PollHandler struct {
	Voting *service.VotingService
	Auth   *auth.Service
	Logger *zap.Logger
}

func (h *PollHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/polls")
	group.GET("/current", h.current)
	if h.Auth.Enabled() {
		authed := group.Group("", h.Auth.Middleware())
		authed.POST("/vote", h.vote)
		authed.POST("/vote/cancel", h.cancel)
	}
}

type voteRequest struct {
	Market string `json:"market" binding:"required"`
	Side   string `json:"side" binding:"required"`
	Stake  string `json:"stake" binding:"required"`
}

type cancelRequest struct {
	PollID string `json:"poll_id" binding:"required"`
}

// @Summary Stake on the current window of a market
// @Tags polls
// @Security BearerAuth
// @Param request body voteRequest true "market, side (long|short), stake"
// @Success 200 {object} apiResponse
// @Router /api/v1/polls/vote [post]
func (h *PollHandler) vote(c *gin.Context) {
	if h.Voting == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	userID, ok := auth.UserID(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "unauthenticated", nil)
		return
	}
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	m, err := market.Parse(strings.TrimSpace(req.Market))
	if err != nil {
		Error(c, http.StatusBadRequest, "unknown market", nil)
		return
	}
	stake, err := decimal.NewFromString(strings.TrimSpace(req.Stake))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid stake", nil)
		return
	}
	vote, err := h.Voting.Vote(c.Request.Context(), userID, m, market.Side(req.Side), stake)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, vote, nil)
}

// @Summary Cancel an active vote before settlement
// @Tags polls
// @Security BearerAuth
// @Param request body cancelRequest true "poll id"
// @Success 200 {object} apiResponse
// @Router /api/v1/polls/vote/cancel [post]
func (h *PollHandler) cancel(c *gin.Context) {
	if h.Voting == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	userID, ok := auth.UserID(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "unauthenticated", nil)
		return
	}
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := h.Voting.Cancel(c.Request.Context(), userID, strings.TrimSpace(req.PollID)); err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, gin.H{"cancelled": true}, nil)
}

// @Summary List every market's in-progress poll window
// @Tags polls
// @Success 200 {object} apiResponse
// @Router /api/v1/polls/current [get]
func (h *PollHandler) current(c *gin.Context) {
	if h.Voting == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	// Own votes are attached when a valid token is presented; the route
	// itself stays public.
	userID := ""
	if h.Auth.Enabled() {
		header := c.GetHeader("Authorization")
		if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			if claims, err := h.Auth.ValidateToken(strings.TrimSpace(parts[1])); err == nil {
				userID = claims.UserID
			}
		}
	}
	views, err := h.Voting.CurrentPolls(c.Request.Context(), userID)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, views, map[string]any{"markets": len(views)})
}
