package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Loyalty entry types
const (
	LoyaltyEarned   = "earned"
	LoyaltyRedeemed = "redeemed"
	LoyaltyBonus    = "bonus"
)

// Stock movement types
const (
	StockSale       = "sale"
	StockAdjustment = "adjustment"
	StockLoss       = "loss"
	StockRestock    = "restock"
)

// LoyaltyEntry is an immutable cashback balance change.
// BalanceAfter always equals BalanceBefore + Amount.
type LoyaltyEntry struct {
	ID             string          `db:"id" json:"id"`
	Seq            int64           `db:"seq" json:"seq"`
	CustomerID     string          `db:"customer_id" json:"customer_id"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Type           string          `db:"type" json:"type"`
	BalanceBefore  decimal.Decimal `db:"balance_before" json:"balance_before"`
	BalanceAfter   decimal.Decimal `db:"balance_after" json:"balance_after"`
	OrderID        *string         `db:"order_id" json:"order_id,omitempty"`
	Reason         string          `db:"reason" json:"reason"`
	IdempotencyKey string          `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// StockMovement is an immutable stock level change.
// StockAfter always equals StockBefore + Delta.
type StockMovement struct {
	ID             string    `db:"id" json:"id"`
	Seq            int64     `db:"seq" json:"seq"`
	ProductID      string    `db:"product_id" json:"product_id"`
	Type           string    `db:"type" json:"type"`
	Delta          int64     `db:"delta" json:"delta"`
	StockBefore    int64     `db:"stock_before" json:"stock_before"`
	StockAfter     int64     `db:"stock_after" json:"stock_after"`
	OrderID        *string   `db:"order_id" json:"order_id,omitempty"`
	ActorID        string    `db:"actor_id" json:"actor_id"`
	Reason         string    `db:"reason" json:"reason"`
	IdempotencyKey string    `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Page selects a window of a ledger ordered by creation
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to sane bounds
func (p Page) Normalize() Page {
	switch {
	case p.Limit <= 0:
		p.Limit = 50
	case p.Limit > 200:
		p.Limit = 200
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
