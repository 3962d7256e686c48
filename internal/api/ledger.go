package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"venue-orders/internal/ledger"
	"venue-orders/internal/models"
)

type bonusBody struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" binding:"required"`
}

type adjustmentBody struct {
	Type   string `json:"type" binding:"required"`
	Delta  int64  `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// idempotencyKey returns the client supplied key, or a fresh one
func idempotencyKey(c *gin.Context) string {
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		return key
	}
	return uuid.New().String()
}

// listLoyalty returns a customer's balance and a page of their entries.
// Customers may only read their own ledger.
func (h *Handler) listLoyalty(c *gin.Context) {
	actor := actorFrom(c)
	customerID := c.Param("id")
	if actor.Role == models.RoleCustomer && actor.ID != customerID {
		writeError(c, models.ErrForbidden)
		return
	}

	page, err := pageFrom(c)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	entries, err := h.loyalty.List(ctx, customerID, page)
	if err != nil {
		writeError(c, err)
		return
	}
	balance, err := h.loyalty.Balance(ctx, customerID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"customer_id": customerID,
		"balance":     balance,
		"entries":     entries,
		"limit":       page.Limit,
		"offset":      page.Offset,
	})
}

// grantBonus credits a manual loyalty bonus
func (h *Handler) grantBonus(c *gin.Context) {
	var body bonusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if !body.Amount.IsPositive() {
		writeError(c, models.ErrInvalidInput)
		return
	}

	entry, balance, err := h.loyalty.Apply(c.Request.Context(), ledger.LoyaltyOp{
		CustomerID: c.Param("id"),
		Amount:     body.Amount,
		Type:       models.LoyaltyBonus,
		Reason:     body.Reason,
		Key:        idempotencyKey(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"entry":   entry,
		"balance": balance,
	})
}

// getStock returns a product's level and a page of its movements
func (h *Handler) getStock(c *gin.Context) {
	page, err := pageFrom(c)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	productID := c.Param("id")
	movements, err := h.stock.List(ctx, productID, page)
	if err != nil {
		writeError(c, err)
		return
	}
	level, err := h.stock.Level(ctx, productID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id": productID,
		"stock":      level,
		"movements":  movements,
		"limit":      page.Limit,
		"offset":     page.Offset,
	})
}

// adjustStock records a manual adjustment, loss or restock
func (h *Handler) adjustStock(c *gin.Context) {
	var body adjustmentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	movement, err := h.stock.Adjust(c.Request.Context(), ledger.StockOp{
		ProductID: c.Param("id"),
		Delta:     body.Delta,
		Type:      body.Type,
		ActorID:   actorFrom(c).ID,
		Reason:    body.Reason,
		Key:       idempotencyKey(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, movement)
}
