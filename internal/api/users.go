package api

import (
	"net/http"

	"levelup-loyalty/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listUsers(c *gin.Context) {
	c.JSON(http.StatusOK, h.users.List(c.Request.Context()))
}

func (h *Handler) createUser(c *gin.Context) {
	var req service.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.users.Create(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err, "Create user")
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) getUser(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Get user")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) getPoints(c *gin.Context) {
	id := c.Param("id")
	balance, err := h.users.Balance(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "Get points")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId": id,
		"puntos": balance,
	})
}

// grantPoints applies an admin correction to a balance
func (h *Handler) grantPoints(c *gin.Context) {
	var req service.GrantPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.users.GrantPoints(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.writeError(c, err, "Grant points")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) getHistory(c *gin.Context) {
	entries, err := h.users.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Get history")
		return
	}
	c.JSON(http.StatusOK, entries)
}
