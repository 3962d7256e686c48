package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"venue-orders/internal/models"
	"venue-orders/internal/service"
)

type transitionBody struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

type cashbackBody struct {
	Amount decimal.Decimal `json:"amount"`
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	actor := actorFrom(c)
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"), actor.ID, actor.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"next":  h.orders.NextStatuses(order),
	})
}

// transitionOrder moves an order to the requested status on behalf of the caller
func (h *Handler) transitionOrder(c *gin.Context) {
	var body transitionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	actor := actorFrom(c)
	order, err := h.orders.Transition(c.Request.Context(), service.TransitionRequest{
		OrderID:   c.Param("id"),
		Status:    body.Status,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// subscribe joins the caller's live stream to an order's channel
func (h *Handler) subscribe(c *gin.Context) {
	actor := actorFrom(c)
	orderID := c.Param("id")
	if _, err := h.orders.GetOrder(c.Request.Context(), orderID, actor.ID, actor.Role); err != nil {
		writeError(c, err)
		return
	}
	if err := h.router.SubscribeOrder(actor.ID, orderID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// unsubscribe leaves an order's channel
func (h *Handler) unsubscribe(c *gin.Context) {
	if err := h.router.UnsubscribeOrder(actorFrom(c).ID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// subscribeTable joins a table's channel; floor staff use this to follow a section
func (h *Handler) subscribeTable(c *gin.Context) {
	if err := h.router.SubscribeTable(actorFrom(c).ID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) unsubscribeTable(c *gin.Context) {
	if err := h.router.UnsubscribeTable(actorFrom(c).ID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// redeemCashback applies the caller's cashback balance to an open order
func (h *Handler) redeemCashback(c *gin.Context) {
	var body cashbackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	actor := actorFrom(c)
	order, redeemed, err := h.orders.RedeemCashback(c.Request.Context(), c.Param("id"), actor.ID, actor.Role, body.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order":    order,
		"redeemed": redeemed,
	})
}
