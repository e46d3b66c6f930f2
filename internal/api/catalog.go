package api

import (
	"net/http"

	"levelup-loyalty/internal/models"
	"levelup-loyalty/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listProducts(c *gin.Context) {
	c.JSON(http.StatusOK, h.catalog.List(c.Request.Context()))
}

func (h *Handler) listRedeemable(c *gin.Context) {
	c.JSON(http.StatusOK, h.catalog.ListRedeemable(c.Request.Context()))
}

func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.catalog.Get(c.Request.Context(), c.Param("codigo"))
	if err != nil {
		h.writeError(c, err, "Get product")
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) createProduct(c *gin.Context) {
	var product models.Product
	if err := c.ShouldBindJSON(&product); err != nil {
		badRequest(c, err)
		return
	}

	created, err := h.catalog.Create(c.Request.Context(), product)
	if err != nil {
		h.writeError(c, err, "Create product")
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) updateProduct(c *gin.Context) {
	var patch service.ProductPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}

	updated, err := h.catalog.Update(c.Request.Context(), c.Param("codigo"), &patch)
	if err != nil {
		h.writeError(c, err, "Update product")
		return
	}
	c.JSON(http.StatusOK, updated)
}
