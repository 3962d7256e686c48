package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue-orders/internal/ledger"
	"venue-orders/internal/lock"
	"venue-orders/internal/memstore"
	"venue-orders/internal/models"
)

func newStock(t *testing.T) (*ledger.Stock, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.PutProduct(&models.Product{ID: "beer", TrackStock: true, Stock: 2})
	store.PutProduct(&models.Product{ID: "wine", TrackStock: true, Stock: 10})
	store.PutProduct(&models.Product{ID: "burger", TrackStock: false, Stock: 0})
	return ledger.NewStock(store, lock.NewLocal(), time.Second), store
}

func TestStock_RejectsGoingNegative(t *testing.T) {
	s, store := newStock(t)
	ctx := context.Background()

	_, err := s.Apply(ctx, []ledger.StockOp{{ProductID: "beer", Delta: -3, Type: models.StockSale}})
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	level, err := s.Level(ctx, "beer")
	require.NoError(t, err)
	assert.Equal(t, int64(2), level)

	movements, err := store.ListStockMovements(ctx, "beer", models.Page{})
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestStock_BatchIsAllOrNothing(t *testing.T) {
	s, store := newStock(t)
	ctx := context.Background()

	_, err := s.Apply(ctx, []ledger.StockOp{
		{ProductID: "wine", Delta: -4, Type: models.StockSale, Key: "order:o1:confirmed:0"},
		{ProductID: "beer", Delta: -1, Type: models.StockSale, Key: "order:o1:confirmed:1"},
		{ProductID: "beer", Delta: -2, Type: models.StockSale, Key: "order:o1:confirmed:2"},
	})
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	wine, err := s.Level(ctx, "wine")
	require.NoError(t, err)
	assert.Equal(t, int64(10), wine)

	movements, err := store.ListStockMovements(ctx, "wine", models.Page{})
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestStock_SameProductTwiceInBatchAccumulates(t *testing.T) {
	s, _ := newStock(t)
	ctx := context.Background()

	movements, err := s.Apply(ctx, []ledger.StockOp{
		{ProductID: "wine", Delta: -4, Type: models.StockSale},
		{ProductID: "wine", Delta: -5, Type: models.StockSale},
	})
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, int64(10), movements[0].StockBefore)
	assert.Equal(t, int64(6), movements[0].StockAfter)
	assert.Equal(t, int64(6), movements[1].StockBefore)
	assert.Equal(t, int64(1), movements[1].StockAfter)
}

func TestStock_UntrackedProductMayGoNegative(t *testing.T) {
	s, _ := newStock(t)
	movements, err := s.Apply(context.Background(), []ledger.StockOp{{ProductID: "burger", Delta: -1, Type: models.StockSale}})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), movements[0].StockAfter)
}

func TestStock_IdempotentUnderConcurrency(t *testing.T) {
	s, store := newStock(t)
	ctx := context.Background()
	op := ledger.StockOp{ProductID: "wine", Delta: -1, Type: models.StockSale, Key: ledger.LineKey("o1", "confirmed", 0)}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Apply(ctx, []ledger.StockOp{op})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	level, err := s.Level(ctx, "wine")
	require.NoError(t, err)
	assert.Equal(t, int64(9), level)

	movements, err := store.ListStockMovements(ctx, "wine", models.Page{})
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestStock_Adjust(t *testing.T) {
	cases := map[string]struct {
		op        ledger.StockOp
		expectErr error
		expectLvl int64
	}{
		"restock": {
			op:        ledger.StockOp{ProductID: "beer", Delta: 5, Type: models.StockRestock},
			expectLvl: 7,
		},
		"loss": {
			op:        ledger.StockOp{ProductID: "beer", Delta: -1, Type: models.StockLoss},
			expectLvl: 1,
		},
		"adjustment down": {
			op:        ledger.StockOp{ProductID: "beer", Delta: -2, Type: models.StockAdjustment},
			expectLvl: 0,
		},
		"loss beyond stock": {
			op:        ledger.StockOp{ProductID: "beer", Delta: -5, Type: models.StockLoss},
			expectErr: models.ErrInsufficientStock,
			expectLvl: 2,
		},
		"restock with negative delta": {
			op:        ledger.StockOp{ProductID: "beer", Delta: -5, Type: models.StockRestock},
			expectErr: models.ErrInvalidInput,
			expectLvl: 2,
		},
		"manual sale": {
			op:        ledger.StockOp{ProductID: "beer", Delta: -1, Type: models.StockSale},
			expectErr: models.ErrInvalidInput,
			expectLvl: 2,
		},
		"zero delta": {
			op:        ledger.StockOp{ProductID: "beer", Delta: 0, Type: models.StockAdjustment},
			expectErr: models.ErrInvalidInput,
			expectLvl: 2,
		},
		"unknown product": {
			op:        ledger.StockOp{ProductID: "nope", Delta: 1, Type: models.StockRestock},
			expectErr: models.ErrNotFound,
			expectLvl: 2,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s, _ := newStock(t)
			ctx := context.Background()

			_, err := s.Adjust(ctx, tc.op)
			if tc.expectErr != nil {
				assert.ErrorIs(t, err, tc.expectErr)
			} else {
				assert.NoError(t, err)
			}

			level, err := s.Level(ctx, "beer")
			require.NoError(t, err)
			assert.Equal(t, tc.expectLvl, level)
		})
	}
}

func TestStock_ListPaginates(t *testing.T) {
	s, _ := newStock(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Adjust(ctx, ledger.StockOp{ProductID: "wine", Delta: 1, Type: models.StockRestock})
		require.NoError(t, err)
	}

	page, err := s.List(ctx, "wine", models.Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(12), page[0].StockBefore)
	assert.Equal(t, int64(14), page[1].StockAfter)

	_, err = s.List(ctx, "nope", models.Page{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}
