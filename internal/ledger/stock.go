package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"venue-orders/internal/lock"
	"venue-orders/internal/models"
	"venue-orders/internal/util"
)

// StockOp is one requested stock movement
type StockOp struct {
	ProductID string
	Delta     int64
	Type      string
	OrderID   *string
	ActorID   string
	Reason    string
	Key       string
}

// Stock is the product inventory ledger
type Stock struct {
	repo    StockRepository
	locker  lock.Locker
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewStock creates a stock ledger serialized per product by locker
func NewStock(repo StockRepository, locker lock.Locker, timeout time.Duration) *Stock {
	return &Stock{
		repo:    repo,
		locker:  locker,
		timeout: timeout,
		now:     time.Now,
		logger:  util.GetLogger(),
	}
}

// Apply records every op or none of them. Products are locked in sorted order.
// A tracked product that would go below zero fails the whole batch with
// models.ErrInsufficientStock. Ops whose key was already recorded return the
// recorded movement instead of moving stock again.
func (s *Stock) Apply(ctx context.Context, ops []StockOp) ([]*models.StockMovement, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	ctx, span := util.StartSpan(ctx, "Stock.Apply", attribute.Int("ops", len(ops)))
	defer span.End()

	keys := make([]string, 0, len(ops))
	for _, op := range ops {
		if op.Delta == 0 {
			return nil, fmt.Errorf("stock movement for %s has zero delta: %w", op.ProductID, models.ErrInvalidInput)
		}
		keys = append(keys, stockLockKey(op.ProductID))
	}

	release, err := lock.AcquireAll(ctx, s.locker, keys, s.timeout)
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}
	defer release()

	result, err := s.applyLocked(ctx, ops)
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}
	return result, nil
}

func (s *Stock) applyLocked(ctx context.Context, ops []StockOp) ([]*models.StockMovement, error) {
	result := make([]*models.StockMovement, len(ops))
	pending := make([]*models.StockMovement, 0, len(ops))
	products := make(map[string]*models.Product)
	levels := make(map[string]int64)

	for i, op := range ops {
		if op.Key != "" {
			existing, err := s.repo.FindStockMovement(ctx, op.ProductID, op.Key)
			if err != nil {
				return nil, fmt.Errorf("failed to check stock idempotency: %w", err)
			}
			if existing != nil {
				util.LedgerReplaysTotal.WithLabelValues("stock").Inc()
				result[i] = existing
				continue
			}
		}

		product, ok := products[op.ProductID]
		if !ok {
			p, err := s.repo.GetProduct(ctx, op.ProductID)
			if err != nil {
				return nil, err
			}
			product = p
			products[op.ProductID] = p
			levels[op.ProductID] = p.Stock
		}

		before := levels[op.ProductID]
		after := before + op.Delta
		if product.TrackStock && after < 0 {
			util.StockRejectionsTotal.Inc()
			s.logger.Warn("Stock movement rejected",
				zap.String("product_id", op.ProductID),
				zap.Int64("stock", before),
				zap.Int64("delta", op.Delta))
			return nil, fmt.Errorf("product %s has %d, needs %d: %w", op.ProductID, before, -op.Delta, models.ErrInsufficientStock)
		}
		levels[op.ProductID] = after

		movement := &models.StockMovement{
			ID:             uuid.New().String(),
			ProductID:      op.ProductID,
			Type:           op.Type,
			Delta:          op.Delta,
			StockBefore:    before,
			StockAfter:     after,
			OrderID:        op.OrderID,
			ActorID:        op.ActorID,
			Reason:         op.Reason,
			IdempotencyKey: op.Key,
			CreatedAt:      s.now(),
		}
		result[i] = movement
		pending = append(pending, movement)
	}

	if len(pending) == 0 {
		return result, nil
	}

	if err := s.repo.AppendStockMovements(ctx, pending); err != nil {
		return nil, fmt.Errorf("failed to append stock movements: %w", err)
	}

	for _, m := range pending {
		util.LedgerEntriesTotal.WithLabelValues("stock", m.Type).Inc()
		s.logger.Info("Stock movement appended",
			zap.String("product_id", m.ProductID),
			zap.String("type", m.Type),
			zap.Int64("delta", m.Delta),
			zap.Int64("stock_after", m.StockAfter))
	}

	return result, nil
}

// Adjust records a manual movement (adjustment, loss or restock) for one product
func (s *Stock) Adjust(ctx context.Context, op StockOp) (*models.StockMovement, error) {
	switch op.Type {
	case models.StockAdjustment:
	case models.StockLoss:
		if op.Delta >= 0 {
			return nil, fmt.Errorf("loss must decrease stock: %w", models.ErrInvalidInput)
		}
	case models.StockRestock:
		if op.Delta <= 0 {
			return nil, fmt.Errorf("restock must increase stock: %w", models.ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("movement type %q cannot be recorded manually: %w", op.Type, models.ErrInvalidInput)
	}

	movements, err := s.Apply(ctx, []StockOp{op})
	if err != nil {
		return nil, err
	}
	return movements[0], nil
}

// Level returns the current stock of a product
func (s *Stock) Level(ctx context.Context, productID string) (int64, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return product.Stock, nil
}

// List returns a product's movements in creation order
func (s *Stock) List(ctx context.Context, productID string, page models.Page) ([]models.StockMovement, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListStockMovements(ctx, productID, page.Normalize())
}
