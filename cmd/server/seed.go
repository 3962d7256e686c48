package main

import (
	"context"

	"github.com/shopspring/decimal"

	"venue-orders/internal/memstore"
	"venue-orders/internal/models"
)

// seedDemo loads a small menu, two customers and a couple of open orders into an in-memory store
func seedDemo(mem *memstore.Store) error {
	products := []*models.Product{
		{ID: "draft-beer", Name: "Draft Beer", Category: "drinks", Price: decimal.RequireFromString("14.90"), TrackStock: true, Stock: 120},
		{ID: "caipirinha", Name: "Caipirinha", Category: "drinks", Price: decimal.RequireFromString("22.00"), TrackStock: false},
		{ID: "burger", Name: "House Burger", Category: "food", Price: decimal.RequireFromString("38.50"), TrackStock: false},
		{ID: "fries", Name: "Fries", Category: "food", Price: decimal.RequireFromString("19.00"), TrackStock: true, Stock: 60},
	}
	for _, p := range products {
		mem.PutProduct(p)
	}

	mem.PutCustomer(&models.Customer{ID: "cust-demo-1", Name: "Ana", LoyaltyTier: models.TierBronze})
	mem.PutCustomer(&models.Customer{ID: "cust-demo-2", Name: "Bruno", LoyaltyTier: models.TierSilver, LifetimeSpend: decimal.NewFromInt(1500)})

	table := "T12"
	orders := []*models.Order{
		{
			ID:            "demo-order-1",
			Status:        models.OrderStatusConfirmed,
			PaymentMethod: models.PaymentMethodCard,
			PaymentStatus: models.PaymentStatusCompleted,
			Subtotal:      decimal.RequireFromString("68.30"),
			CustomerID:    "cust-demo-1",
			TableID:       &table,
			Items: []models.OrderItem{
				{ProductID: "draft-beer", ProductName: "Draft Beer", Category: "drinks", UnitPrice: decimal.RequireFromString("14.90"), Quantity: 2, StockTracked: true},
				{ProductID: "burger", ProductName: "House Burger", Category: "food", UnitPrice: decimal.RequireFromString("38.50"), Quantity: 1},
			},
		},
		{
			ID:            "demo-order-2",
			Status:        models.OrderStatusPendingPayment,
			PaymentMethod: models.PaymentMethodOnline,
			PaymentStatus: models.PaymentStatusPending,
			Subtotal:      decimal.RequireFromString("19.00"),
			CustomerID:    "cust-demo-2",
			Items: []models.OrderItem{
				{ProductID: "fries", ProductName: "Fries", Category: "food", UnitPrice: decimal.RequireFromString("19.00"), Quantity: 1, StockTracked: true},
			},
		},
	}
	for _, o := range orders {
		o.RecalculateTotal()
		if err := mem.CreateOrder(context.Background(), o); err != nil {
			return err
		}
	}
	return nil
}
