// Package assignment exposes the engine over HTTP for operator consoles and
// carrier portals.
package assignment

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	coreassignment "github.com/hfujita/wastematch/core/assignment"
	"github.com/hfujita/wastematch/core/audit"
	"github.com/hfujita/wastematch/core/auction"
	"github.com/hfujita/wastematch/core/errs"
	corelogger "github.com/hfujita/wastematch/core/logger"
	"github.com/hfujita/wastematch/core/matching"
	"github.com/hfujita/wastematch/core/model"
)

// Handler wires the engine operations to gin routes.
type Handler struct {
	coord   *coreassignment.Coordinator
	engine  *matching.Engine
	ledger  *auction.Ledger
	manager *auction.Manager
	audit   audit.Store
	crit    matching.Criteria
	log     corelogger.Logger
}

// NewHandler creates a Handler.
func NewHandler(
	coord *coreassignment.Coordinator,
	engine *matching.Engine,
	ledger *auction.Ledger,
	manager *auction.Manager,
	auditStore audit.Store,
	crit matching.Criteria,
	log corelogger.Logger,
) *Handler {
	if auditStore == nil {
		auditStore = audit.NopStore{}
	}
	return &Handler{
		coord:   coord,
		engine:  engine,
		ledger:  ledger,
		manager: manager,
		audit:   auditStore,
		crit:    crit,
		log:     log,
	}
}

// Register mounts the routes on the router.
func (h *Handler) Register(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/cases", h.createCase)
	api.GET("/cases/:id/matches", h.listMatches)
	api.PATCH("/cases/:id/status", h.updateStatus)
	api.POST("/cases/:id/assign", h.assign)
	api.POST("/cases/:id/bids", h.submitBid)
	api.GET("/cases/:id/auction", h.auctionStatus)
	api.POST("/cases/:id/auction/close", h.closeAuction)
	api.DELETE("/bids/:id", h.cancelBid)
	api.GET("/audit", h.queryAudit)
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
}

type createCaseRequest struct {
	Site              model.Point `json:"site" binding:"required"`
	WasteType         string      `json:"waste_type" binding:"required"`
	WasteCategory     string      `json:"waste_category"`
	EstimatedWeightKg *float64    `json:"estimated_weight_kg"`
	EstimatedVolumeM3 *float64    `json:"estimated_volume_m3"`
	ScheduledDate     time.Time   `json:"scheduled_date"`
	Priority          string      `json:"priority"`
	AutoAssign        bool        `json:"auto_assign"`
	AuctionEnabled    bool        `json:"auction_enabled"`
	AuctionStartAt    *time.Time  `json:"auction_start_at"`
	AuctionEndAt      *time.Time  `json:"auction_end_at"`
}

func (h *Handler) createCase(c *gin.Context) {
	var req createCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := h.coord.CreateCase(c.Request.Context(), &model.Case{
		Site:              req.Site,
		WasteType:         req.WasteType,
		WasteCategory:     req.WasteCategory,
		EstimatedWeightKg: req.EstimatedWeightKg,
		EstimatedVolumeM3: req.EstimatedVolumeM3,
		ScheduledDate:     req.ScheduledDate,
		Priority:          model.CasePriority(req.Priority),
		AutoAssign:        req.AutoAssign,
		AuctionEnabled:    req.AuctionEnabled,
		AuctionStartAt:    req.AuctionStartAt,
		AuctionEndAt:      req.AuctionEndAt,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) listMatches(c *gin.Context) {
	results, err := h.engine.FindMatchingCarriers(c.Request.Context(), c.Param("id"), &h.crit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": results})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (h *Handler) updateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cs, err := h.coord.UpdateStatus(c.Request.Context(), c.Param("id"),
		model.CaseStatus(req.Status), actorOr(req.Actor, "operator"), req.Reason)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

type assignRequest struct {
	CarrierID string `json:"carrier_id" binding:"required"`
	Actor     string `json:"actor"`
}

func (h *Handler) assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cs, err := h.coord.Assign(c.Request.Context(), c.Param("id"), req.CarrierID,
		actorOr(req.Actor, "operator"), "manual")
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

type submitBidRequest struct {
	CarrierID string  `json:"carrier_id" binding:"required"`
	Amount    float64 `json:"amount"`
	Message   string  `json:"message"`
}

func (h *Handler) submitBid(c *gin.Context) {
	var req submitBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bid, err := h.ledger.SubmitBid(c.Request.Context(), c.Param("id"), req.CarrierID, req.Amount, req.Message)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bid)
}

func (h *Handler) cancelBid(c *gin.Context) {
	bid, err := h.ledger.CancelBid(c.Request.Context(), c.Param("id"), c.Query("carrier_id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, bid)
}

func (h *Handler) auctionStatus(c *gin.Context) {
	summary, err := h.manager.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	bids, err := h.ledger.ListBids(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "bids": bids})
}

func (h *Handler) closeAuction(c *gin.Context) {
	winner, err := h.manager.Close(c.Request.Context(), c.Param("id"), actorOr(c.Query("actor"), "operator"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"winning_bid": winner})
}

func (h *Handler) queryAudit(c *gin.Context) {
	q := audit.Query{CaseID: c.Query("case_id"), Action: c.Query("action")}
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start"})
			return
		}
		q.Start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end"})
			return
		}
		q.End = t
	}
	records, err := h.audit.Query(c.Request.Context(), q)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// handleError maps the domain error taxonomy onto HTTP statuses.
func (h *Handler) handleError(c *gin.Context, err error) {
	code := errs.CodeOf(err)
	switch code {
	case errs.CodeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"code": code, "error": err.Error()})
	case errs.CodeValidation:
		c.JSON(http.StatusBadRequest, gin.H{"code": code, "error": err.Error()})
	case errs.CodeInvalidState, errs.CodeInvalidTransition, errs.CodeConflict:
		c.JSON(http.StatusConflict, gin.H{"code": code, "error": err.Error()})
	default:
		h.log.Errorf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func actorOr(actor, fallback string) string {
	if actor != "" {
		return actor
	}
	return fallback
}
