package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"venue-orders/internal/lock"
	"venue-orders/internal/models"
	"venue-orders/internal/statemachine"
	"venue-orders/internal/util"
)

// LoyaltyOp is one requested cashback balance change
type LoyaltyOp struct {
	CustomerID string
	Amount     decimal.Decimal
	Type       string
	OrderID    *string
	Reason     string
	Key        string
	SpendDelta decimal.Decimal
}

// Loyalty is the customer cashback ledger
type Loyalty struct {
	repo    LoyaltyRepository
	locker  lock.Locker
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewLoyalty creates a loyalty ledger serialized per customer by locker
func NewLoyalty(repo LoyaltyRepository, locker lock.Locker, timeout time.Duration) *Loyalty {
	return &Loyalty{
		repo:    repo,
		locker:  locker,
		timeout: timeout,
		now:     time.Now,
		logger:  util.GetLogger(),
	}
}

// Apply appends one entry and returns it with the resulting balance.
// An op whose key was already recorded returns the recorded entry unchanged.
func (l *Loyalty) Apply(ctx context.Context, op LoyaltyOp) (*models.LoyaltyEntry, decimal.Decimal, error) {
	ctx, span := util.StartSpan(ctx, "Loyalty.Apply",
		attribute.String("customer_id", op.CustomerID),
		attribute.String("type", op.Type))
	defer span.End()

	switch op.Type {
	case models.LoyaltyEarned, models.LoyaltyRedeemed, models.LoyaltyBonus:
	default:
		return nil, decimal.Zero, fmt.Errorf("unknown loyalty entry type %q: %w", op.Type, models.ErrInvalidInput)
	}

	release, err := l.locker.Acquire(ctx, loyaltyLockKey(op.CustomerID), l.timeout)
	if err != nil {
		util.SpanError(span, err)
		return nil, decimal.Zero, err
	}
	defer release()

	entry, customer, err := l.applyLocked(ctx, op)
	if err != nil {
		util.SpanError(span, err)
		return nil, decimal.Zero, err
	}
	if customer == nil {
		balance, err := l.Balance(ctx, op.CustomerID)
		return entry, balance, err
	}
	return entry, customer.LoyaltyBalance, nil
}

// Redeem takes up to requested from the balance and returns the amount actually taken.
// The balance never goes negative; a zero balance redeems nothing and records no entry.
func (l *Loyalty) Redeem(ctx context.Context, customerID string, requested decimal.Decimal, orderID *string, key string) (decimal.Decimal, *models.LoyaltyEntry, error) {
	ctx, span := util.StartSpan(ctx, "Loyalty.Redeem", attribute.String("customer_id", customerID))
	defer span.End()

	if requested.IsNegative() {
		return decimal.Zero, nil, fmt.Errorf("redeem amount must not be negative: %w", models.ErrInvalidInput)
	}

	release, err := l.locker.Acquire(ctx, loyaltyLockKey(customerID), l.timeout)
	if err != nil {
		util.SpanError(span, err)
		return decimal.Zero, nil, err
	}
	defer release()

	if key != "" {
		existing, err := l.repo.FindLoyaltyEntry(ctx, customerID, key)
		if err != nil {
			return decimal.Zero, nil, fmt.Errorf("failed to check loyalty idempotency: %w", err)
		}
		if existing != nil {
			util.LedgerReplaysTotal.WithLabelValues("loyalty").Inc()
			return existing.Amount.Neg(), existing, nil
		}
	}

	customer, err := l.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return decimal.Zero, nil, err
	}

	redeemed := decimal.Min(requested, customer.LoyaltyBalance)
	if !redeemed.IsPositive() {
		return decimal.Zero, nil, nil
	}

	entry, _, err := l.appendLocked(ctx, customer, LoyaltyOp{
		CustomerID: customerID,
		Amount:     redeemed.Neg(),
		Type:       models.LoyaltyRedeemed,
		OrderID:    orderID,
		Reason:     "cashback redeemed",
		Key:        key,
	})
	if err != nil {
		util.SpanError(span, err)
		return decimal.Zero, nil, err
	}

	return redeemed, entry, nil
}

// Balance returns the current cashback balance of a customer
func (l *Loyalty) Balance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	customer, err := l.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	return customer.LoyaltyBalance, nil
}

// List returns a customer's entries in creation order
func (l *Loyalty) List(ctx context.Context, customerID string, page models.Page) ([]models.LoyaltyEntry, error) {
	if _, err := l.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return l.repo.ListLoyaltyEntries(ctx, customerID, page.Normalize())
}

// applyLocked runs with the customer lock held. customer is nil on an idempotent replay.
func (l *Loyalty) applyLocked(ctx context.Context, op LoyaltyOp) (*models.LoyaltyEntry, *models.Customer, error) {
	if op.Key != "" {
		existing, err := l.repo.FindLoyaltyEntry(ctx, op.CustomerID, op.Key)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check loyalty idempotency: %w", err)
		}
		if existing != nil {
			util.LedgerReplaysTotal.WithLabelValues("loyalty").Inc()
			l.logger.Debug("Loyalty op already applied",
				zap.String("customer_id", op.CustomerID),
				zap.String("key", op.Key))
			return existing, nil, nil
		}
	}

	customer, err := l.repo.GetCustomer(ctx, op.CustomerID)
	if err != nil {
		return nil, nil, err
	}

	return l.appendLocked(ctx, customer, op)
}

func (l *Loyalty) appendLocked(ctx context.Context, customer *models.Customer, op LoyaltyOp) (*models.LoyaltyEntry, *models.Customer, error) {
	before := customer.LoyaltyBalance
	after := before.Add(op.Amount)
	if after.IsNegative() {
		return nil, nil, fmt.Errorf("entry of %s would drive balance %s negative: %w", op.Amount, before, models.ErrInvalidInput)
	}

	spend := customer.LifetimeSpend.Add(op.SpendDelta)
	state := LoyaltyState{
		Balance:       after,
		LifetimeSpend: spend,
		Tier:          statemachine.TierFor(spend),
	}

	entry := &models.LoyaltyEntry{
		ID:             uuid.New().String(),
		CustomerID:     customer.ID,
		Amount:         op.Amount,
		Type:           op.Type,
		BalanceBefore:  before,
		BalanceAfter:   after,
		OrderID:        op.OrderID,
		Reason:         op.Reason,
		IdempotencyKey: op.Key,
		CreatedAt:      l.now(),
	}

	if err := l.repo.AppendLoyaltyEntry(ctx, entry, state); err != nil {
		return nil, nil, fmt.Errorf("failed to append loyalty entry: %w", err)
	}

	util.LedgerEntriesTotal.WithLabelValues("loyalty", op.Type).Inc()
	l.logger.Info("Loyalty entry appended",
		zap.String("customer_id", customer.ID),
		zap.String("type", op.Type),
		zap.String("amount", op.Amount.String()),
		zap.String("balance_after", after.String()))

	updated := *customer
	updated.LoyaltyBalance = after
	updated.LifetimeSpend = spend
	updated.LoyaltyTier = state.Tier
	return entry, &updated, nil
}
