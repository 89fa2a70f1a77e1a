package carts

import (
	"context"
	"sync"
	"testing"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"github.com/food-bundles/food-bundles-bn-sub001/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddItemMergesLinesAndTotals(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db)
	ctx := context.Background()
	r := testutil.CreateRestaurant(t, db, "Kigali Bistro")
	a := testutil.CreateProduct(t, db, "Carrots", 1000, 10)
	b := testutil.CreateProduct(t, db, "Leeks", 500, 10)

	_, err := svc.AddItem(ctx, r.ID, a.ID, 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, r.ID, b.ID, 1)
	require.NoError(t, err)
	cart, err := svc.AddItem(ctx, r.ID, a.ID, 1)
	require.NoError(t, err)

	require.Len(t, cart.Items, 2)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.True(t, testutil.Money(2000).Equal(cart.Items[0].Subtotal))
	assert.True(t, testutil.Money(2500).Equal(cart.TotalAmount), cart.TotalAmount.String())
	assert.Equal(t, 3, cart.Revision)

	// Adding to the cart never moves stock.
	assert.Equal(t, 10, testutil.Stock(t, db, a.ID))
}

func TestAddItemChecksCombinedQuantity(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db)
	ctx := context.Background()
	r := testutil.CreateRestaurant(t, db, "Nyamirambo Grill")
	p := testutil.CreateProduct(t, db, "Avocado", 300, 5)

	_, err := svc.AddItem(ctx, r.ID, p.ID, 4)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, r.ID, p.ID, 2)
	assert.True(t, apperr.Is(err, apperr.CodeInsufficientStock), err)

	cart, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, cart.Items[0].Quantity)
}

func TestConcurrentAddsOfSameProduct(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db)
	ctx := context.Background()
	r := testutil.CreateRestaurant(t, db, "Kimihurura Deli")
	p := testutil.CreateProduct(t, db, "Passion fruit", 200, 5)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddItem(ctx, r.ID, p.ID, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case apperr.Is(err, apperr.CodeInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	assert.Equal(t, 3, rejected)
	cart, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.True(t, testutil.Money(1000).Equal(cart.Items[0].Subtotal))
	assert.True(t, testutil.Money(1000).Equal(cart.TotalAmount))
}

func TestAddItemValidation(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db)
	ctx := context.Background()
	r := testutil.CreateRestaurant(t, db, "Remera Kitchen")
	p := testutil.CreateProduct(t, db, "Maize", 400, 5)
	inactive := testutil.CreateProduct(t, db, "Cassava", 400, 5)
	require.NoError(t, db.Model(&inactive).Update("status", models.ProductInactive).Error)

	tests := []struct {
		name         string
		restaurantID uint
		productID    uint
		quantity     int
		code         apperr.Code
	}{
		{"zero quantity", r.ID, p.ID, 0, apperr.CodeValidation},
		{"missing restaurant", 999, p.ID, 1, apperr.CodeNotFound},
		{"missing product", r.ID, 999, 1, apperr.CodeNotFound},
		{"inactive product", r.ID, inactive.ID, 1, apperr.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddItem(ctx, tt.restaurantID, tt.productID, tt.quantity)
			assert.Equal(t, tt.code, apperr.CodeOf(err), err)
		})
	}
}

func TestUpdateAndRemoveRequireOwnership(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db)
	ctx := context.Background()
	owner := testutil.CreateRestaurant(t, db, "Owner")
	other := testutil.CreateRestaurant(t, db, "Other")
	p := testutil.CreateProduct(t, db, "Peppers", 200, 20)

	cart, err := svc.AddItem(ctx, owner.ID, p.ID, 2)
	require.NoError(t, err)
	itemID := cart.Items[0].ID

	_, err = svc.UpdateItem(ctx, other.ID, itemID, 5)
	assert.True(t, apperr.Is(err, apperr.CodeOwnership))
	_, err = svc.RemoveItem(ctx, other.ID, itemID)
	assert.True(t, apperr.Is(err, apperr.CodeOwnership))

	cart, err = svc.UpdateItem(ctx, owner.ID, itemID, 5)
	require.NoError(t, err)
	assert.True(t, testutil.Money(1000).Equal(cart.TotalAmount))

	_, err = svc.UpdateItem(ctx, owner.ID, itemID, 21)
	assert.True(t, apperr.Is(err, apperr.CodeInsufficientStock))

	cart, err = svc.RemoveItem(ctx, owner.ID, itemID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.True(t, cart.TotalAmount.IsZero())

	_, err = svc.RemoveItem(ctx, owner.ID, itemID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestClearKeepsActiveCart(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db)
	ctx := context.Background()
	r := testutil.CreateRestaurant(t, db, "Gisozi Cafe")
	p := testutil.CreateProduct(t, db, "Eggs", 150, 100)

	before, err := svc.AddItem(ctx, r.ID, p.ID, 12)
	require.NoError(t, err)

	after, err := svc.Clear(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, models.CartActive, after.Status)
	assert.Empty(t, after.Items)
	assert.True(t, after.TotalAmount.IsZero())

	// The product can be added again after a clear.
	again, err := svc.AddItem(ctx, r.ID, p.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, before.ID, again.ID)
	assert.Len(t, again.Items, 1)
}
