package api

import (
	"net/http"
	"strconv"

	"levelup-loyalty/internal/service"

	"github.com/gin-gonic/gin"
)

const defaultRecentLimit = 10

func (h *Handler) listOrders(c *gin.Context) {
	c.JSON(http.StatusOK, h.purchases.List(c.Request.Context()))
}

func (h *Handler) listUserOrders(c *gin.Context) {
	c.JSON(http.StatusOK, h.purchases.FindByUser(c.Request.Context(), c.Param("id")))
}

// createOrder handles purchase order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.purchases.Create(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err, "Create order")
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.purchases.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Get order")
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) orderStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.purchases.Stats(c.Request.Context()))
}

func (h *Handler) recentOrders(c *gin.Context) {
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid limit",
			})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, h.purchases.Recent(c.Request.Context(), limit))
}

func (h *Handler) updateOrder(c *gin.Context) {
	var patch service.PurchasePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.purchases.Update(c.Request.Context(), c.Param("id"), &patch)
	if err != nil {
		h.writeError(c, err, "Update order")
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) deleteOrder(c *gin.Context) {
	if err := h.purchases.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err, "Delete order")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) transitionOrder(c *gin.Context) {
	var req statusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.purchases.Transition(c.Request.Context(), c.Param("id"), req.Estado)
	if err != nil {
		h.writeError(c, err, "Change order status")
		return
	}
	c.JSON(http.StatusOK, order)
}
