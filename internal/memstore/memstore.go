// Package memstore keeps orders, customers, products and both ledgers in process memory.
// It backs STORE_DRIVER=memory and the package tests.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"venue-orders/internal/ledger"
	"venue-orders/internal/models"
)

type Store struct {
	mu sync.RWMutex

	orders       map[string]*models.Order
	nextNumber   int64
	nextItemID   int64
	customers    map[string]*models.Customer
	products     map[string]*models.Product
	loyalty      []models.LoyaltyEntry
	loyaltyKeys  map[string]int
	stock        []models.StockMovement
	stockKeys    map[string]int
	nextLoyalty  int64
	nextMovement int64
	processed    map[string]string
}

// New creates an empty store
func New() *Store {
	return &Store{
		orders:      make(map[string]*models.Order),
		customers:   make(map[string]*models.Customer),
		products:    make(map[string]*models.Product),
		loyaltyKeys: make(map[string]int),
		stockKeys:   make(map[string]int),
		processed:   make(map[string]string),
	}
}

func ownerKey(owner, key string) string {
	return owner + "|" + key
}

// CreateOrder stores a new order, assigning its id, number and item ids
func (s *Store) CreateOrder(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}

	s.nextNumber++
	order.Number = s.nextNumber
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		s.nextItemID++
		order.Items[i].ID = s.nextItemID
		order.Items[i].OrderID = order.ID
	}

	s.orders[order.ID] = order.Clone()
	return nil
}

// GetOrder returns a copy of the order with its items
func (s *Store) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	return order.Clone(), nil
}

// UpdateOrder replaces the order if its stored version still equals expectedVersion
func (s *Store) UpdateOrder(_ context.Context, order *models.Order, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", order.ID, models.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("order %s at version %d, expected %d: %w",
			order.ID, current.Version, expectedVersion, models.ErrVersionConflict)
	}

	order.UpdatedAt = time.Now()
	s.orders[order.ID] = order.Clone()
	return nil
}

// PutCustomer inserts or replaces a customer
func (s *Store) PutCustomer(customer *models.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *customer
	s.customers[c.ID] = &c
}

// GetCustomer returns a copy of a customer
func (s *Store) GetCustomer(_ context.Context, customerID string) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[customerID]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", customerID, models.ErrNotFound)
	}
	out := *c
	return &out, nil
}

// PutProduct inserts or replaces a product
func (s *Store) PutProduct(product *models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := *product
	s.products[p.ID] = &p
}

// GetProduct returns a copy of a product
func (s *Store) GetProduct(_ context.Context, productID string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, models.ErrNotFound)
	}
	out := *p
	return &out, nil
}

// FindLoyaltyEntry returns the entry recorded under key, or nil
func (s *Store) FindLoyaltyEntry(_ context.Context, customerID, key string) (*models.LoyaltyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.loyaltyKeys[ownerKey(customerID, key)]
	if !ok {
		return nil, nil
	}
	e := s.loyalty[idx]
	return &e, nil
}

// AppendLoyaltyEntry records the entry and the new customer state together
func (s *Store) AppendLoyaltyEntry(_ context.Context, entry *models.LoyaltyEntry, state ledger.LoyaltyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[entry.CustomerID]
	if !ok {
		return fmt.Errorf("customer %s: %w", entry.CustomerID, models.ErrNotFound)
	}
	if entry.IdempotencyKey != "" {
		if _, dup := s.loyaltyKeys[ownerKey(entry.CustomerID, entry.IdempotencyKey)]; dup {
			return fmt.Errorf("loyalty key %s: %w", entry.IdempotencyKey, models.ErrDuplicateKey)
		}
	}

	s.nextLoyalty++
	entry.Seq = s.nextLoyalty
	s.loyalty = append(s.loyalty, *entry)
	if entry.IdempotencyKey != "" {
		s.loyaltyKeys[ownerKey(entry.CustomerID, entry.IdempotencyKey)] = len(s.loyalty) - 1
	}

	c.LoyaltyBalance = state.Balance
	c.LifetimeSpend = state.LifetimeSpend
	c.LoyaltyTier = state.Tier
	c.UpdatedAt = entry.CreatedAt
	return nil
}

// ListLoyaltyEntries returns a customer's entries ordered by sequence
func (s *Store) ListLoyaltyEntries(_ context.Context, customerID string, page models.Page) ([]models.LoyaltyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owned []models.LoyaltyEntry
	for _, e := range s.loyalty {
		if e.CustomerID == customerID {
			owned = append(owned, e)
		}
	}
	return window(owned, page), nil
}

// FindStockMovement returns the movement recorded under key, or nil
func (s *Store) FindStockMovement(_ context.Context, productID, key string) (*models.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.stockKeys[ownerKey(productID, key)]
	if !ok {
		return nil, nil
	}
	m := s.stock[idx]
	return &m, nil
}

// AppendStockMovements records every movement or none
func (s *Store) AppendStockMovements(_ context.Context, movements []*models.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(movements))
	for _, m := range movements {
		if _, ok := s.products[m.ProductID]; !ok {
			return fmt.Errorf("product %s: %w", m.ProductID, models.ErrNotFound)
		}
		if m.IdempotencyKey == "" {
			continue
		}
		k := ownerKey(m.ProductID, m.IdempotencyKey)
		if _, dup := s.stockKeys[k]; dup || seen[k] {
			return fmt.Errorf("stock key %s: %w", m.IdempotencyKey, models.ErrDuplicateKey)
		}
		seen[k] = true
	}

	for _, m := range movements {
		s.nextMovement++
		m.Seq = s.nextMovement
		s.stock = append(s.stock, *m)
		if m.IdempotencyKey != "" {
			s.stockKeys[ownerKey(m.ProductID, m.IdempotencyKey)] = len(s.stock) - 1
		}
		p := s.products[m.ProductID]
		p.Stock = m.StockAfter
		p.UpdatedAt = m.CreatedAt
	}
	return nil
}

// ListStockMovements returns a product's movements ordered by sequence
func (s *Store) ListStockMovements(_ context.Context, productID string, page models.Page) ([]models.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owned []models.StockMovement
	for _, m := range s.stock {
		if m.ProductID == productID {
			owned = append(owned, m)
		}
	}
	return window(owned, page), nil
}

// IsEventProcessed reports whether an inbound event was already handled
func (s *Store) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[eventID]
	return ok, nil
}

// MarkEventProcessed records an inbound event as handled
func (s *Store) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[eventID] = eventType
	return nil
}

func window[T any](rows []T, page models.Page) []T {
	page = page.Normalize()
	if page.Offset >= len(rows) {
		return []T{}
	}
	end := page.Offset + page.Limit
	if end > len(rows) {
		end = len(rows)
	}
	out := make([]T, end-page.Offset)
	copy(out, rows[page.Offset:end])
	return out
}

var (
	_ ledger.LoyaltyRepository = (*Store)(nil)
	_ ledger.StockRepository   = (*Store)(nil)
)
