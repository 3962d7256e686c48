package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"venue-orders/internal/models"
)

// CreateOrder inserts an order with its items, assigning id, number and item ids
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	order.RecalculateTotal()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (id, status, payment_method, payment_status, subtotal, service_fee, taxes,
		                    cashback_used, other_discount, total, customer_id, table_id, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING number, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.ID, order.Status, order.PaymentMethod, order.PaymentStatus,
		order.Subtotal, order.ServiceFee, order.Taxes, order.CashbackUsed, order.OtherDiscount, order.Total,
		order.CustomerID, order.TableID, order.Version,
	).Scan(&order.Number, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := tx.GetContext(ctx, &item.ID, `
			INSERT INTO order_items (order_id, product_id, product_name, category, unit_price, quantity, stock_tracked)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			item.OrderID, item.ProductID, item.ProductName, item.Category, item.UnitPrice, item.Quantity, item.StockTracked)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrder retrieves an order with its items
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id); err != nil {
		return nil, notFound(err, "order", id)
	}

	if err := s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", id); err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	return &order, nil
}

// UpdateOrder writes the mutable order fields if the stored version equals expectedVersion
func (s *Store) UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) error {
	query := `
		UPDATE orders
		SET status = $1, payment_status = $2, cashback_used = $3, other_discount = $4, total = $5,
		    kitchen_actor_id = $6, floor_actor_id = $7,
		    confirmed_at = $8, started_at = $9, finished_at = $10, picked_up_at = $11,
		    delivered_at = $12, cancelled_at = $13,
		    version = $14, updated_at = NOW()
		WHERE id = $15 AND version = $16
		RETURNING updated_at`

	rows, err := s.db.QueryxContext(ctx, query,
		order.Status, order.PaymentStatus, order.CashbackUsed, order.OtherDiscount, order.Total,
		order.KitchenActorID, order.FloorActorID,
		order.ConfirmedAt, order.StartedAt, order.FinishedAt, order.PickedUpAt,
		order.DeliveredAt, order.CancelledAt,
		order.Version, order.ID, expectedVersion)
	if err != nil {
		return err
	}
	defer rows.Close()

	if rows.Next() {
		return rows.Scan(&order.UpdatedAt)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var current int64
	if err := s.db.GetContext(ctx, &current, "SELECT version FROM orders WHERE id = $1", order.ID); err != nil {
		return notFound(err, "order", order.ID)
	}
	return fmt.Errorf("order %s at version %d, expected %d: %w",
		order.ID, current, expectedVersion, models.ErrVersionConflict)
}
