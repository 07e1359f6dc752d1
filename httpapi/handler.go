// Package httpapi exposes the checkout flows as a JSON API for the web client.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/slashbinslashnoname/hire-checkout/card"
	"github.com/slashbinslashnoname/hire-checkout/checkout"
	"github.com/slashbinslashnoname/hire-checkout/fees"
	"github.com/slashbinslashnoname/hire-checkout/logger"
	"github.com/slashbinslashnoname/hire-checkout/models"
)

// Checkout is the part of the checkout service the API drives
type Checkout interface {
	Refresh(ctx context.Context, jobID int64) ([]checkout.ProposalView, error)
	Proposal(ctx context.Context, id int64) (checkout.ProposalView, error)
	Open(ctx context.Context, proposalID int64) (*checkout.Session, error)
	Submit(ctx context.Context, sess *checkout.Session) (*models.Contract, error)
	Discard(ctx context.Context, proposalID int64, reason string) (models.Proposal, error)
	Decline(ctx context.Context, proposalID int64) (models.Proposal, error)
}

// Ledger lists checkout attempts awaiting an operator
type Ledger interface {
	ListPartialFailures(limit int) ([]models.Attempt, error)
}

type Handler struct {
	svc      Checkout
	sessions *checkout.Registry
	ledger   Ledger
}

// NewHandler serves checkout sessions from sessions. The caller owns the
// registry's sweep loop.
func NewHandler(svc Checkout, ledger Ledger, sessions *checkout.Registry) *Handler {
	return &Handler{
		svc:      svc,
		sessions: sessions,
		ledger:   ledger,
	}
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// ListProposals reloads a job's proposals and returns them with their controls
func (h *Handler) ListProposals(c *gin.Context) {
	jobID, ok := idParam(c, "jobId")
	if !ok {
		return
	}
	views, err := h.svc.Refresh(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobId": jobID, "proposals": views})
}

// OpenCheckout starts a session for a SUBMITTED proposal
func (h *Handler) OpenCheckout(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	sess, err := h.svc.Open(c.Request.Context(), id)
	if err == nil {
		err = h.sessions.Put(sess.ID(), sess)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	logger.Info(c.Request.Context(), "checkout opened", "proposal_id", id, "session_id", sess.ID())
	c.JSON(http.StatusCreated, sess.View())
}

func (h *Handler) session(c *gin.Context) (*checkout.Session, bool) {
	sess, err := h.sessions.Get(c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return sess, true
}

// GetCheckout returns the masked session state
func (h *Handler) GetCheckout(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.View())
}

// UpdateCheckout sets any of the card fields
func (h *Handler) UpdateCheckout(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var u checkout.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if err := sess.Apply(u); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.View())
}

// SubmitCheckout runs the payment and contract creation
func (h *Handler) SubmitCheckout(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	contract, err := h.svc.Submit(c.Request.Context(), sess)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.sessions.Close(sess.ID()); err != nil {
		logger.Warn(c.Request.Context(), "failed to close checkout session", "session_id", sess.ID(), "error", err)
	}

	resp := gin.H{"contract": contract}
	if p, err := h.svc.Proposal(c.Request.Context(), sess.Proposal().ID); err == nil {
		resp["proposal"] = p
	}
	c.JSON(http.StatusOK, resp)
}

// CloseCheckout discards a session that has not started processing
func (h *Handler) CloseCheckout(c *gin.Context) {
	if err := h.sessions.Close(c.Param("sessionId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type discardRequest struct {
	Reason string `json:"reason"`
}

// Discard cancels a CONTRACTED proposal and refunds its escrow
func (h *Handler) Discard(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req discardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	p, err := h.svc.Discard(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Decline rejects a SUBMITTED proposal
func (h *Handler) Decline(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := h.svc.Decline(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// DiscardReasons lists the predefined cancellation reasons
func (h *Handler) DiscardReasons(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"reasons": checkout.DiscardReasons})
}

// Fees returns the breakdown for ?rate=
func (h *Handler) Fees(c *gin.Context) {
	rate, err := decimal.NewFromString(c.Query("rate"))
	if err != nil || !rate.IsPositive() {
		badRequest(c, "rate must be a positive number")
		return
	}
	b := fees.Calculate(rate)
	c.JSON(http.StatusOK, gin.H{
		"projectCost":   b.ProjectCost,
		"platformFee":   b.PlatformFee,
		"processingFee": b.ProcessingFee,
		"total":         b.Total,
		"totalCents":    b.TotalCents(),
	})
}

type classifyRequest struct {
	Number string `json:"number" binding:"required"`
}

// ClassifyCard returns the brand and display form of a card number
func (h *Handler) ClassifyCard(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "number is required")
		return
	}
	brand := card.Classify(req.Number)
	c.JSON(http.StatusOK, gin.H{
		"brand":           brand,
		"label":           brand.Label(),
		"display":         card.Format(req.Number),
		"paymentMethodId": brand.PaymentMethodID(),
	})
}

// PartialFailures lists funded attempts that never got a contract
func (h *Handler) PartialFailures(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	attempts, err := h.ledger.ListPartialFailures(limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if attempts == nil {
		attempts = []models.Attempt{}
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}
