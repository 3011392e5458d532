package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"greencycle-platform/pkg/config"
	"greencycle-platform/pkg/errutil"
	"greencycle-platform/pkg/middleware"
	"greencycle-platform/services/award"
	"greencycle-platform/services/ledger"
	"greencycle-platform/services/reporting"
	"greencycle-platform/services/reward"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler, NewRouter),
)

// Actor identity headers. Authentication happens upstream; the gateway
// forwards the verified identity in these headers.
const (
	HeaderActorID       = "X-Actor-ID"
	HeaderActorCenterID = "X-Actor-Center-ID"
	HeaderActorAdmin    = "X-Actor-Admin"
)

type Handler struct {
	ledger    *ledger.Service
	award     *award.Service
	reward    *reward.Service
	reporting *reporting.Service
}

type Params struct {
	fx.In
	Ledger    *ledger.Service
	Award     *award.Service
	Reward    *reward.Service
	Reporting *reporting.Service
}

func NewHandler(p Params) *Handler {
	return &Handler{
		ledger:    p.Ledger,
		award:     p.Award,
		reward:    p.Reward,
		reporting: p.Reporting,
	}
}

func NewRouter(cfg *config.Config, h *Handler) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(), middleware.Error())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/recycling/awards", h.awardRecycling)
		v1.POST("/points/manual", h.awardManual)

		v1.GET("/users/:user_id/balance", h.userBalance)
		v1.GET("/users/:user_id/transactions", h.userTransactions)
		v1.GET("/users/:user_id/summary", h.userSummary)
		v1.GET("/users/:user_id/streak", h.userStreak)

		v1.GET("/leaderboard", h.leaderboard)

		v1.GET("/rewards", h.listRewards)
		v1.POST("/rewards/:reward_id/redeem", h.redeemReward)

		v1.GET("/redemptions", h.listRedemptions)
		v1.GET("/redemptions/:redemption_id", h.getRedemption)
		v1.POST("/redemptions/:redemption_id/process", h.processRedemption)
		v1.POST("/redemptions/process-batch", h.processRedemptionBatch)

		v1.PUT("/centers/:center_id/material-points", h.configureMaterialPoints)
		v1.GET("/centers/:center_id/summary", h.centerSummary)
		v1.GET("/centers/:center_id/trends", h.centerTrends)
	}

	return r
}

func actorFrom(c *gin.Context) reward.Actor {
	return reward.Actor{
		ID:       c.GetHeader(HeaderActorID),
		CenterID: c.GetHeader(HeaderActorCenterID),
		IsAdmin:  c.GetHeader(HeaderActorAdmin) == "true",
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func timeframeQuery(c *gin.Context) ledger.Timeframe {
	tf := ledger.Timeframe(c.DefaultQuery("timeframe", string(ledger.TimeframeAll)))
	return tf
}

type awardRecyclingRequest struct {
	UserID     string    `json:"user_id" binding:"required"`
	CenterID   string    `json:"center_id" binding:"required"`
	MaterialID string    `json:"material_id" binding:"required"`
	Quantity   float64   `json:"quantity" binding:"required"`
	EventID    string    `json:"event_id"`
	RecycledAt time.Time `json:"recycled_at"`
}

func (h *Handler) awardRecycling(c *gin.Context) {
	var req awardRecyclingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	result, err := h.award.AwardRecycling(c.Request.Context(), award.AwardRequest{
		UserID:     req.UserID,
		CenterID:   req.CenterID,
		MaterialID: req.MaterialID,
		Quantity:   req.Quantity,
		EventID:    req.EventID,
		RecycledAt: req.RecycledAt,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type manualAwardRequest struct {
	UserID      string          `json:"user_id" binding:"required"`
	Points      int64           `json:"points" binding:"required"`
	Category    ledger.Category `json:"category"`
	Description string          `json:"description"`
}

func (h *Handler) awardManual(c *gin.Context) {
	var req manualAwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	entry, err := h.award.AwardManual(c.Request.Context(), award.ManualAwardRequest{
		ActorCenterID: c.GetHeader(HeaderActorCenterID),
		UserID:        req.UserID,
		Points:        req.Points,
		Category:      req.Category,
		Description:   req.Description,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) userBalance(c *gin.Context) {
	userID := c.Param("user_id")

	balance, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "balance": balance})
}

func (h *Handler) userTransactions(c *gin.Context) {
	entries, pageInfo, err := h.ledger.Query(c.Request.Context(), ledger.Filter{
		UserID:   c.Param("user_id"),
		Type:     ledger.TransactionType(c.Query("type")),
		Category: ledger.Category(c.Query("category")),
		Cursor:   c.Query("cursor"),
		Limit:    intQuery(c, "limit", 20),
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries, "page_info": pageInfo})
}

func (h *Handler) userSummary(c *gin.Context) {
	userID := c.Param("user_id")

	summary, err := h.ledger.SummaryByCategory(c.Request.Context(), userID, timeframeQuery(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "summary": summary})
}

func (h *Handler) userStreak(c *gin.Context) {
	userID := c.Param("user_id")
	centerID := c.Query("center_id")
	if centerID == "" {
		c.Error(errutil.ValidationFailed("center_id is required"))
		return
	}

	days, err := h.award.ConsecutiveDays(c.Request.Context(), userID, centerID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "center_id": centerID, "consecutive_days": days})
}

func (h *Handler) leaderboard(c *gin.Context) {
	rows, err := h.reporting.TopUsers(c.Request.Context(), intQuery(c, "limit", 10), timeframeQuery(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (h *Handler) listRewards(c *gin.Context) {
	rewards, err := h.reward.ListRewards(c.Request.Context(), reward.ListFilter{
		CenterID:      c.Query("center_id"),
		OnlyAvailable: c.Query("available") == "true",
		Featured:      c.Query("featured") == "true",
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rewards})
}

func (h *Handler) redeemReward(c *gin.Context) {
	actor := actorFrom(c)
	if actor.ID == "" {
		c.Error(errutil.Unauthorized("missing actor identity"))
		return
	}

	result, err := h.reward.Redeem(c.Request.Context(), actor.ID, c.Param("reward_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) listRedemptions(c *gin.Context) {
	redemptions, pageInfo, err := h.reward.ListRedemptions(c.Request.Context(), reward.RedemptionFilter{
		UserID:   c.Query("user_id"),
		CenterID: c.Query("center_id"),
		Status:   reward.RedemptionStatus(c.Query("status")),
		Cursor:   c.Query("cursor"),
		Limit:    intQuery(c, "limit", 20),
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": redemptions, "page_info": pageInfo})
}

func (h *Handler) getRedemption(c *gin.Context) {
	redemption, err := h.reward.GetRedemption(c.Request.Context(), c.Param("redemption_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, redemption)
}

type processRequest struct {
	Decision reward.Decision `json:"decision" binding:"required"`
	Notes    string          `json:"notes"`
}

func (h *Handler) processRedemption(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	redemption, err := h.reward.Process(c.Request.Context(), actorFrom(c), c.Param("redemption_id"), req.Decision, req.Notes)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, redemption)
}

type processBatchRequest struct {
	RedemptionIDs []string        `json:"redemption_ids" binding:"required"`
	Decision      reward.Decision `json:"decision" binding:"required"`
	Notes         string          `json:"notes"`
}

func (h *Handler) processRedemptionBatch(c *gin.Context) {
	var req processBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	results, err := h.reward.ProcessBatch(c.Request.Context(), actorFrom(c), req.RedemptionIDs, req.Decision, req.Notes)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type materialPointsRequest struct {
	Materials        []award.MaterialPointInput `json:"materials" binding:"required"`
	GlobalMultiplier *float64                   `json:"global_multiplier"`
}

func (h *Handler) configureMaterialPoints(c *gin.Context) {
	var req materialPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	if err := h.award.ConfigureMaterialPoints(c.Request.Context(), c.Param("center_id"), req.Materials, req.GlobalMultiplier); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) centerSummary(c *gin.Context) {
	summary, err := h.reporting.Summary(c.Request.Context(), c.Param("center_id"), timeframeQuery(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) centerTrends(c *gin.Context) {
	totals, err := h.reporting.MonthlyTotals(c.Request.Context(), c.Param("center_id"), intQuery(c, "months", 6))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": totals})
}
