package store

import (
	"context"
	"fmt"

	"venue-orders/internal/ledger"
	"venue-orders/internal/models"
)

const loyaltyColumns = `id, seq, customer_id, amount, type, balance_before, balance_after, order_id, reason,
	COALESCE(idempotency_key, '') AS idempotency_key, created_at`

const stockColumns = `id, seq, product_id, type, delta, stock_before, stock_after, order_id, actor_id, reason,
	COALESCE(idempotency_key, '') AS idempotency_key, created_at`

// FindLoyaltyEntry returns the entry recorded under key, or nil
func (s *Store) FindLoyaltyEntry(ctx context.Context, customerID, key string) (*models.LoyaltyEntry, error) {
	var entries []models.LoyaltyEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT "+loyaltyColumns+" FROM loyalty_entries WHERE customer_id = $1 AND idempotency_key = $2",
		customerID, key)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// AppendLoyaltyEntry inserts the entry and updates the customer in one transaction
func (s *Store) AppendLoyaltyEntry(ctx context.Context, entry *models.LoyaltyEntry, state ledger.LoyaltyState) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var balance models.Customer
	err = tx.GetContext(ctx, &balance,
		"SELECT id, loyalty_balance FROM customers WHERE id = $1 FOR UPDATE", entry.CustomerID)
	if err != nil {
		return notFound(err, "customer", entry.CustomerID)
	}
	if !balance.LoyaltyBalance.Equal(entry.BalanceBefore) {
		return fmt.Errorf("customer %s balance is %s, entry expects %s: %w",
			entry.CustomerID, balance.LoyaltyBalance, entry.BalanceBefore, models.ErrVersionConflict)
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO loyalty_entries (id, customer_id, amount, type, balance_before, balance_after,
		                             order_id, reason, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
		RETURNING seq`,
		entry.ID, entry.CustomerID, entry.Amount, entry.Type, entry.BalanceBefore, entry.BalanceAfter,
		entry.OrderID, entry.Reason, entry.IdempotencyKey, entry.CreatedAt,
	).Scan(&entry.Seq)
	if isUniqueViolation(err) {
		return fmt.Errorf("loyalty key %s: %w", entry.IdempotencyKey, models.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to insert loyalty entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE customers
		SET loyalty_balance = $1, lifetime_spend = $2, loyalty_tier = $3, updated_at = NOW()
		WHERE id = $4`,
		state.Balance, state.LifetimeSpend, state.Tier, entry.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to update customer balance: %w", err)
	}

	return tx.Commit()
}

// ListLoyaltyEntries returns a customer's entries ordered by sequence
func (s *Store) ListLoyaltyEntries(ctx context.Context, customerID string, page models.Page) ([]models.LoyaltyEntry, error) {
	page = page.Normalize()
	entries := []models.LoyaltyEntry{}
	err := s.db.SelectContext(ctx, &entries,
		"SELECT "+loyaltyColumns+" FROM loyalty_entries WHERE customer_id = $1 ORDER BY seq LIMIT $2 OFFSET $3",
		customerID, page.Limit, page.Offset)
	return entries, err
}

// FindStockMovement returns the movement recorded under key, or nil
func (s *Store) FindStockMovement(ctx context.Context, productID, key string) (*models.StockMovement, error) {
	var movements []models.StockMovement
	err := s.db.SelectContext(ctx, &movements,
		"SELECT "+stockColumns+" FROM stock_movements WHERE product_id = $1 AND idempotency_key = $2",
		productID, key)
	if err != nil || len(movements) == 0 {
		return nil, err
	}
	return &movements[0], nil
}

// AppendStockMovements inserts every movement and moves each product's stock in one transaction
func (s *Store) AppendStockMovements(ctx context.Context, movements []*models.StockMovement) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	levels := make(map[string]int64)
	for _, m := range movements {
		current, seen := levels[m.ProductID]
		if !seen {
			if err := tx.GetContext(ctx, &current,
				"SELECT stock FROM products WHERE id = $1 FOR UPDATE", m.ProductID); err != nil {
				return notFound(err, "product", m.ProductID)
			}
		}
		if current != m.StockBefore {
			return fmt.Errorf("product %s stock is %d, movement expects %d: %w",
				m.ProductID, current, m.StockBefore, models.ErrVersionConflict)
		}

		err := tx.QueryRowxContext(ctx, `
			INSERT INTO stock_movements (id, product_id, type, delta, stock_before, stock_after,
			                             order_id, actor_id, reason, idempotency_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11)
			RETURNING seq`,
			m.ID, m.ProductID, m.Type, m.Delta, m.StockBefore, m.StockAfter,
			m.OrderID, m.ActorID, m.Reason, m.IdempotencyKey, m.CreatedAt,
		).Scan(&m.Seq)
		if isUniqueViolation(err) {
			return fmt.Errorf("stock key %s: %w", m.IdempotencyKey, models.ErrDuplicateKey)
		}
		if err != nil {
			return fmt.Errorf("failed to insert stock movement: %w", err)
		}
		levels[m.ProductID] = m.StockAfter
	}

	for productID, stock := range levels {
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = $1, updated_at = NOW() WHERE id = $2", stock, productID); err != nil {
			return fmt.Errorf("failed to update product stock: %w", err)
		}
	}

	return tx.Commit()
}

// ListStockMovements returns a product's movements ordered by sequence
func (s *Store) ListStockMovements(ctx context.Context, productID string, page models.Page) ([]models.StockMovement, error) {
	page = page.Normalize()
	movements := []models.StockMovement{}
	err := s.db.SelectContext(ctx, &movements,
		"SELECT "+stockColumns+" FROM stock_movements WHERE product_id = $1 ORDER BY seq LIMIT $2 OFFSET $3",
		productID, page.Limit, page.Offset)
	return movements, err
}

var (
	_ ledger.LoyaltyRepository = (*Store)(nil)
	_ ledger.StockRepository   = (*Store)(nil)
)
