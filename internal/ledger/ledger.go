package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"venue-orders/internal/models"
)

// LoyaltyState is the customer row written together with a loyalty entry
type LoyaltyState struct {
	Balance       decimal.Decimal
	LifetimeSpend decimal.Decimal
	Tier          string
}

// LoyaltyRepository persists the loyalty ledger.
// AppendLoyaltyEntry must insert the entry and update the customer atomically,
// and must reject a second entry with the same (customer, idempotency key).
type LoyaltyRepository interface {
	GetCustomer(ctx context.Context, customerID string) (*models.Customer, error)
	FindLoyaltyEntry(ctx context.Context, customerID, key string) (*models.LoyaltyEntry, error)
	AppendLoyaltyEntry(ctx context.Context, entry *models.LoyaltyEntry, state LoyaltyState) error
	ListLoyaltyEntries(ctx context.Context, customerID string, page models.Page) ([]models.LoyaltyEntry, error)
}

// StockRepository persists the stock ledger.
// AppendStockMovements must insert every movement and set each product's stock
// to its last StockAfter in a single transaction.
type StockRepository interface {
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	FindStockMovement(ctx context.Context, productID, key string) (*models.StockMovement, error)
	AppendStockMovements(ctx context.Context, movements []*models.StockMovement) error
	ListStockMovements(ctx context.Context, productID string, page models.Page) ([]models.StockMovement, error)
}

// Key builds the idempotency key of a side effect of an order transition
func Key(orderID, transition string) string {
	return fmt.Sprintf("order:%s:%s", orderID, transition)
}

// LineKey builds the idempotency key of a per-line side effect of an order transition
func LineKey(orderID, transition string, line int) string {
	return fmt.Sprintf("order:%s:%s:%d", orderID, transition, line)
}

func loyaltyLockKey(customerID string) string {
	return "loyalty:" + customerID
}

func stockLockKey(productID string) string {
	return "stock:" + productID
}
