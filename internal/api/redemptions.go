package api

import (
	"net/http"

	"levelup-loyalty/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listRedemptions(c *gin.Context) {
	c.JSON(http.StatusOK, h.redemptions.List(c.Request.Context()))
}

func (h *Handler) listUserRedemptions(c *gin.Context) {
	c.JSON(http.StatusOK, h.redemptions.FindByUser(c.Request.Context(), c.Param("id")))
}

// createRedemption exchanges points for a product and returns the receipt
func (h *Handler) createRedemption(c *gin.Context) {
	var req service.RedemptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, receipt, err := h.redemptions.Create(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err, "Create redemption")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order":   order,
		"receipt": receipt,
	})
}

func (h *Handler) getRedemption(c *gin.Context) {
	order, err := h.redemptions.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Get redemption")
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) updateRedemption(c *gin.Context) {
	var patch service.RedemptionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.redemptions.Update(c.Request.Context(), c.Param("id"), &patch)
	if err != nil {
		h.writeError(c, err, "Update redemption")
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) deleteRedemption(c *gin.Context) {
	if err := h.redemptions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err, "Delete redemption")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) transitionRedemption(c *gin.Context) {
	var req statusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.redemptions.Transition(c.Request.Context(), c.Param("id"), req.Estado)
	if err != nil {
		h.writeError(c, err, "Change redemption status")
		return
	}
	c.JSON(http.StatusOK, order)
}
