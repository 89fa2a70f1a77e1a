package orders

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/carts"
	"github.com/food-bundles/food-bundles-bn-sub001/events"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"github.com/food-bundles/food-bundles-bn-sub001/notifications"
	"github.com/food-bundles/food-bundles-bn-sub001/testutil"
	"github.com/food-bundles/food-bundles-bn-sub001/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type refundCall struct {
	restaurantID uint
	amount       decimal.Decimal
	reference    string
}

type fakeRefunder struct{ calls []refundCall }

func (f *fakeRefunder) RefundTx(_ context.Context, _ *gorm.DB, restaurantID uint, amount decimal.Decimal, reference string, _ map[string]any) error {
	f.calls = append(f.calls, refundCall{restaurantID, amount, reference})
	return nil
}

var fixedNow = time.Date(2025, 10, 15, 9, 30, 0, 0, time.UTC)

func newService(t *testing.T, db *gorm.DB, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewService(db, opts...)
}

func placeDirect(t *testing.T, svc *Service, restaurantID uint, lines ...LineInput) *models.Order {
	t.Helper()
	o, err := svc.CreateDirect(context.Background(), DirectInput{
		RestaurantID:  restaurantID,
		Items:         lines,
		PaymentMethod: models.MethodMobileMoney,
	})
	require.NoError(t, err)
	return o
}

func forceStatus(t *testing.T, db *gorm.DB, orderID uint, status models.OrderStatus, payment models.PaymentStatus) {
	t.Helper()
	require.NoError(t, db.Model(&models.Order{}).Where("id = ?", orderID).
		Updates(map[string]any{"status": status, "payment_status": payment}).Error)
}

func reload(t *testing.T, db *gorm.DB, id uint) models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, db.Preload("OrderItems").First(&o, id).Error)
	return o
}

func TestOrderNumbersAreSequentialPerDay(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newService(t, db)
	r := testutil.CreateRestaurant(t, db, "Bistro")
	p := testutil.CreateProduct(t, db, "Rice", 1500, 100)

	first := placeDirect(t, svc, r.ID, LineInput{ProductID: p.ID, Quantity: 1})
	second := placeDirect(t, svc, r.ID, LineInput{ProductID: p.ID, Quantity: 1})

	assert.Equal(t, "ORD2510150001", first.OrderNumber)
	assert.Equal(t, "ORD2510150002", second.OrderNumber)

	next, err := NextOrderNumber(db, fixedNow.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, "ORD2510160001", next)
}

func TestCreateFromCartIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	rec := &events.Recorder{}
	svc := newService(t, db, WithEvents(rec))
	cartSvc := carts.NewService(db)
	ctx := context.Background()
	r := testutil.CreateRestaurant(t, db, "Bistro")
	a := testutil.CreateProduct(t, db, "Tomatoes", 1000, 10)
	b := testutil.CreateProduct(t, db, "Onions", 500, 10)

	_, err := cartSvc.AddItem(ctx, r.ID, a.ID, 2)
	require.NoError(t, err)
	cart, err := cartSvc.AddItem(ctx, r.ID, b.ID, 1)
	require.NoError(t, err)

	in := CheckoutInput{
		RestaurantID:  r.ID,
		CartID:        cart.ID,
		PaymentMethod: models.MethodMobileMoney,
		Billing:       models.Billing{BillingName: "Chef", BillingPhone: "0788123456"},
	}
	first, reused, err := svc.CreateFromCart(ctx, in)
	require.NoError(t, err)
	assert.False(t, reused)
	in.PaymentMethod = models.MethodCash
	in.Billing.BillingName = "Head Chef"
	second, reused, err := svc.CreateFromCart(ctx, in)
	require.NoError(t, err)
	assert.True(t, reused)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.MethodCash, second.PaymentMethod)
	assert.True(t, testutil.Money(2500).Equal(first.TotalAmount))
	assert.Equal(t, 8, testutil.Stock(t, db, a.ID))
	assert.Equal(t, 9, testutil.Stock(t, db, b.ID))

	var orders, items int64
	require.NoError(t, db.Model(&models.Order{}).Count(&orders).Error)
	require.NoError(t, db.Model(&models.OrderItem{}).Count(&items).Error)
	assert.EqualValues(t, 1, orders)
	assert.EqualValues(t, 2, items)
	assert.Equal(t, "Head Chef", reload(t, db, first.ID).BillingName)
	assert.Equal(t, []string{events.OrderCreated}, rec.Types())

	emptied, err := cartSvc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, emptied.ID)
	assert.Empty(t, emptied.Items)
	assert.True(t, emptied.TotalAmount.IsZero())

	// A new mutation starts a new checkout.
	_, err = cartSvc.AddItem(ctx, r.ID, a.ID, 1)
	require.NoError(t, err)
	third, reused, err := svc.CreateFromCart(ctx, in)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, 7, testutil.Stock(t, db, a.ID))
}

func TestCreateFromCartValidation(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newService(t, db)
	cartSvc := carts.NewService(db)
	ctx := context.Background()
	owner := testutil.CreateRestaurant(t, db, "Owner")
	other := testutil.CreateRestaurant(t, db, "Other")
	p := testutil.CreateProduct(t, db, "Beans", 900, 3)

	cart, err := cartSvc.Get(ctx, owner.ID)
	require.NoError(t, err)

	_, _, err = svc.CreateFromCart(ctx, CheckoutInput{RestaurantID: owner.ID, CartID: cart.ID, PaymentMethod: models.MethodCash})
	assert.True(t, apperr.Is(err, apperr.CodeValidation), "empty cart: %v", err)

	_, err = cartSvc.AddItem(ctx, owner.ID, p.ID, 3)
	require.NoError(t, err)

	_, _, err = svc.CreateFromCart(ctx, CheckoutInput{RestaurantID: other.ID, CartID: cart.ID, PaymentMethod: models.MethodCash})
	assert.True(t, apperr.Is(err, apperr.CodeOwnership))
	_, _, err = svc.CreateFromCart(ctx, CheckoutInput{RestaurantID: owner.ID, CartID: 999, PaymentMethod: models.MethodCash})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	_, _, err = svc.CreateFromCart(ctx, CheckoutInput{RestaurantID: owner.ID, CartID: cart.ID, PaymentMethod: "BARTER"})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	// Stock sold elsewhere after the item went into the cart.
	require.NoError(t, db.Model(&models.Product{}).Where("id = ?", p.ID).Update("quantity", 2).Error)
	_, _, err = svc.CreateFromCart(ctx, CheckoutInput{RestaurantID: owner.ID, CartID: cart.ID, PaymentMethod: models.MethodCash})
	assert.True(t, apperr.Is(err, apperr.CodeInsufficientStock), err)

	var count int64
	require.NoError(t, db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, 2, testutil.Stock(t, db, p.ID))
}

func TestCreateDirectFailsFast(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newService(t, db)
	ctx := context.Background()
	r := testutil.CreateRestaurant(t, db, "Bistro")
	a := testutil.CreateProduct(t, db, "Milk", 800, 10)
	b := testutil.CreateProduct(t, db, "Butter", 2000, 1)

	_, err := svc.CreateDirect(ctx, DirectInput{
		RestaurantID:  r.ID,
		PaymentMethod: models.MethodCard,
		Items:         []LineInput{{ProductID: a.ID, Quantity: 5}, {ProductID: b.ID, Quantity: 2}},
	})
	assert.True(t, apperr.Is(err, apperr.CodeInsufficientStock))
	assert.Equal(t, 10, testutil.Stock(t, db, a.ID))

	_, err = svc.CreateDirect(ctx, DirectInput{RestaurantID: r.ID, PaymentMethod: models.MethodCard})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
	_, err = svc.CreateDirect(ctx, DirectInput{
		RestaurantID:  r.ID,
		PaymentMethod: models.MethodCard,
		Items:         []LineInput{{ProductID: 404, Quantity: 1}},
	})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	o, err := svc.CreateDirect(ctx, DirectInput{
		RestaurantID:  r.ID,
		PaymentMethod: models.MethodCard,
		Items:         []LineInput{{ProductID: a.ID, Quantity: 2}, {ProductID: a.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Len(t, o.OrderItems, 1)
	assert.Equal(t, 3, o.OrderItems[0].Quantity)
	assert.Nil(t, o.CartID)
	assert.Equal(t, models.OrderPending, o.Status)
	assert.Equal(t, models.PaymentPending, o.PaymentStatus)
	assert.Equal(t, 7, testutil.Stock(t, db, a.ID))
}

func TestStatusTransitionClosure(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newService(t, db)
	ctx := context.Background()
	r := testutil.CreateRestaurant(t, db, "Bistro")
	p := testutil.CreateProduct(t, db, "Flour", 100, 10000)

	for _, from := range AllStatuses() {
		for _, to := range AllStatuses() {
			t.Run(fmt.Sprintf("%s_to_%s", from, to), func(t *testing.T) {
				o := placeDirect(t, svc, r.ID, LineInput{ProductID: p.ID, Quantity: 1})
				forceStatus(t, db, o.ID, from, models.PaymentCompleted)

				_, err := svc.UpdateStatus(ctx, o.ID, to, "")
				if CanTransition(from, to) {
					require.NoError(t, err)
					assert.Equal(t, to, reload(t, db, o.ID).Status)
					return
				}
				assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition), "err = %v", err)
				assert.Equal(t, from, reload(t, db, o.ID).Status)
			})
		}
	}
}

func TestDeliveryProgressRequiresPayment(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newService(t, db)
	r := testutil.CreateRestaurant(t, db, "Bistro")
	p := testutil.CreateProduct(t, db, "Sugar", 1200, 10)
	o := placeDirect(t, svc, r.ID, LineInput{ProductID: p.ID, Quantity: 1})
	forceStatus(t, db, o.ID, models.OrderConfirmed, models.PaymentProcessing)

	_, err := svc.UpdateStatus(context.Background(), o.ID, models.OrderPreparing, "")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition))

	forceStatus(t, db, o.ID, models.OrderReady, models.PaymentCompleted)
	updated, err := svc.UpdateStatus(context.Background(), o.ID, models.OrderDelivered, "")
	require.NoError(t, err)
	require.NotNil(t, updated.ActualDelivery)
	assert.True(t, fixedNow.Equal(*reload(t, db, o.ID).ActualDelivery))
}

func TestCancelReadyOrderRestoresStock(t *testing.T) {
	db := testutil.NewDB(t)
	notes := &notifications.Recorder{}
	svc := newService(t, db, WithNotifier(notes))
	r := testutil.CreateRestaurant(t, db, "Bistro")
	a := testutil.CreateProduct(t, db, "Potatoes", 600, 20)
	b := testutil.CreateProduct(t, db, "Cabbage", 400, 20)
	o := placeDirect(t, svc, r.ID, LineInput{ProductID: a.ID, Quantity: 5}, LineInput{ProductID: b.ID, Quantity: 3})
	forceStatus(t, db, o.ID, models.OrderReady, models.PaymentCompleted)
	require.Equal(t, 15, testutil.Stock(t, db, a.ID))

	cancelled, err := svc.Cancel(context.Background(), o.ID, Actor{RestaurantID: r.ID}, "kitchen closed")
	require.NoError(t, err)

	assert.Equal(t, models.OrderCancelled, cancelled.Status)
	stored := reload(t, db, o.ID)
	assert.Equal(t, models.OrderCancelled, stored.Status)
	assert.Contains(t, stored.Notes, "kitchen closed")
	assert.Equal(t, 20, testutil.Stock(t, db, a.ID))
	assert.Equal(t, 20, testutil.Stock(t, db, b.ID))
	assert.True(t, notes.Has(notifications.KindOrderCancelled))

	// A second cancel must not release stock again.
	_, err = svc.Cancel(context.Background(), o.ID, Actor{RestaurantID: r.ID}, "again")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition))
	assert.Equal(t, 20, testutil.Stock(t, db, a.ID))
}

func TestCancelChecksOwnershipAndTerminalStates(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newService(t, db)
	owner := testutil.CreateRestaurant(t, db, "Owner")
	other := testutil.CreateRestaurant(t, db, "Other")
	p := testutil.CreateProduct(t, db, "Garlic", 300, 10)
	o := placeDirect(t, svc, owner.ID, LineInput{ProductID: p.ID, Quantity: 2})

	_, err := svc.Cancel(context.Background(), o.ID, Actor{RestaurantID: other.ID}, "nope")
	assert.True(t, apperr.Is(err, apperr.CodeOwnership))

	forceStatus(t, db, o.ID, models.OrderDelivered, models.PaymentCompleted)
	_, err = svc.Cancel(context.Background(), o.ID, Actor{Admin: true}, "too late")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition))
	assert.Equal(t, 8, testutil.Stock(t, db, p.ID))
}

func TestCancelRefundsPaidWalletOrder(t *testing.T) {
	db := testutil.NewDB(t)
	refunder := &fakeRefunder{}
	svc := newService(t, db, WithWalletRefunder(refunder))
	r := testutil.CreateRestaurant(t, db, "Bistro")
	p := testutil.CreateProduct(t, db, "Oil", 2500, 10)

	o, err := svc.CreateDirect(context.Background(), DirectInput{
		RestaurantID:  r.ID,
		PaymentMethod: models.MethodCash,
		Items:         []LineInput{{ProductID: p.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	forceStatus(t, db, o.ID, models.OrderConfirmed, models.PaymentCompleted)

	_, err = svc.Cancel(context.Background(), o.ID, Actor{Admin: true}, "customer request")
	require.NoError(t, err)
	require.Len(t, refunder.calls, 1)
	assert.Equal(t, r.ID, refunder.calls[0].restaurantID)
	assert.True(t, testutil.Money(5000).Equal(refunder.calls[0].amount))
	assert.Equal(t, "REF_"+o.OrderNumber, refunder.calls[0].reference)
}

func TestStockConservation(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newService(t, db)
	cartSvc := carts.NewService(db)
	ctx := context.Background()
	r := testutil.CreateRestaurant(t, db, "Bistro")
	const initial = 30
	p := testutil.CreateProduct(t, db, "Bananas", 250, initial)

	reserved := func() int {
		var sum int
		require.NoError(t, db.Model(&models.OrderItem{}).
			Joins("JOIN orders ON orders.id = order_items.order_id").
			Where("order_items.product_id = ? AND orders.status <> ?", p.ID, models.OrderCancelled).
			Select("COALESCE(SUM(order_items.quantity), 0)").Scan(&sum).Error)
		return sum
	}
	check := func() {
		assert.Equal(t, initial, testutil.Stock(t, db, p.ID)+reserved())
	}

	var placed []uint
	for _, qty := range []int{4, 7, 2} {
		cart, err := cartSvc.AddItem(ctx, r.ID, p.ID, qty)
		require.NoError(t, err)
		check()
		o, _, err := svc.CreateFromCart(ctx, CheckoutInput{RestaurantID: r.ID, CartID: cart.ID, PaymentMethod: models.MethodMobileMoney})
		require.NoError(t, err)
		placed = append(placed, o.ID)
		check()
	}
	_, err := svc.Cancel(ctx, placed[1], Actor{RestaurantID: r.ID}, "changed mind")
	require.NoError(t, err)
	check()

	o := placeDirect(t, svc, r.ID, LineInput{ProductID: p.ID, Quantity: 10})
	check()
	_, err = svc.UpdateStatus(ctx, o.ID, models.OrderCancelled, "")
	require.NoError(t, err)
	check()
	assert.Equal(t, initial-6, testutil.Stock(t, db, p.ID))
}

func TestDeleteOnlyCancelledOrders(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newService(t, db)
	ctx := context.Background()
	r := testutil.CreateRestaurant(t, db, "Bistro")
	p := testutil.CreateProduct(t, db, "Salt", 100, 10)
	o := placeDirect(t, svc, r.ID, LineInput{ProductID: p.ID, Quantity: 1})

	assert.True(t, apperr.Is(svc.Delete(ctx, o.ID), apperr.CodeInvalidTransition))

	_, err := svc.Cancel(ctx, o.ID, Actor{Admin: true}, "cleanup")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, o.ID))

	var orders, items int64
	require.NoError(t, db.Unscoped().Model(&models.Order{}).Count(&orders).Error)
	require.NoError(t, db.Unscoped().Model(&models.OrderItem{}).Count(&items).Error)
	assert.Zero(t, orders)
	assert.Zero(t, items)
	assert.True(t, apperr.Is(svc.Delete(ctx, o.ID), apperr.CodeNotFound))
}

func TestApplyPaymentCoupling(t *testing.T) {
	db := testutil.NewDB(t)
	rec := &events.Recorder{}
	svc := newService(t, db, WithEvents(rec))
	ctx := context.Background()
	r := testutil.CreateRestaurant(t, db, "Bistro")
	p := testutil.CreateProduct(t, db, "Cheese", 5000, 10)

	apply := func(orderID uint, u PaymentUpdate) (*PaymentTransition, error) {
		var tr *PaymentTransition
		err := db.Transaction(func(tx *gorm.DB) error {
			var err error
			tr, err = svc.ApplyPayment(ctx, tx, orderID, u)
			return err
		})
		return tr, err
	}

	t.Run("completed confirms once", func(t *testing.T) {
		o := placeDirect(t, svc, r.ID, LineInput{ProductID: p.ID, Quantity: 1})
		_, err := svc.BeginPayment(ctx, o.ID, Actor{RestaurantID: r.ID}, models.MethodMobileMoney, "ORD_TEST1")
		require.NoError(t, err)

		tr, err := apply(o.ID, PaymentUpdate{Status: models.PaymentCompleted, Provider: "flutterwave", ProviderReference: "FLW-1"})
		require.NoError(t, err)
		assert.True(t, tr.Applied)
		assert.Equal(t, EffectConfirmed, tr.Effect)
		svc.AfterPayment(ctx, tr)

		stored := reload(t, db, o.ID)
		assert.Equal(t, models.OrderConfirmed, stored.Status)
		assert.Equal(t, models.PaymentCompleted, stored.PaymentStatus)
		assert.Equal(t, "flutterwave", stored.PaymentProvider)
		assert.Equal(t, "FLW-1", stored.ProviderReference)

		replay, err := apply(o.ID, PaymentUpdate{Status: models.PaymentCompleted})
		require.NoError(t, err)
		assert.False(t, replay.Applied)
		svc.AfterPayment(ctx, replay)
		assert.Equal(t, []string{events.OrderCreated, events.PaymentCompleted, events.OrderConfirmed}, rec.Types()[len(rec.Types())-3:])
	})

	t.Run("failed cancels and restores stock", func(t *testing.T) {
		o := placeDirect(t, svc, r.ID, LineInput{ProductID: p.ID, Quantity: 3})
		before := testutil.Stock(t, db, p.ID)
		_, err := svc.BeginPayment(ctx, o.ID, Actor{RestaurantID: r.ID}, models.MethodCard, "ORD_TEST2")
		require.NoError(t, err)

		tr, err := apply(o.ID, PaymentUpdate{Status: models.PaymentFailed, Message: "card declined"})
		require.NoError(t, err)
		assert.Equal(t, EffectCancelled, tr.Effect)

		stored := reload(t, db, o.ID)
		assert.Equal(t, models.OrderCancelled, stored.Status)
		assert.Equal(t, models.PaymentFailed, stored.PaymentStatus)
		assert.True(t, strings.Contains(stored.Notes, "card declined"))
		assert.Equal(t, before+3, testutil.Stock(t, db, p.ID))

		_, err = apply(o.ID, PaymentUpdate{Status: models.PaymentCompleted})
		assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition))
	})

	t.Run("pending settles through processing", func(t *testing.T) {
		o := placeDirect(t, svc, r.ID, LineInput{ProductID: p.ID, Quantity: 1})
		tr, err := apply(o.ID, PaymentUpdate{Status: models.PaymentCompleted})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPending, tr.From)
		assert.Equal(t, models.OrderConfirmed, reload(t, db, o.ID).Status)
	})

	t.Run("processing keeps order pending", func(t *testing.T) {
		o := placeDirect(t, svc, r.ID, LineInput{ProductID: p.ID, Quantity: 1})
		_, err := svc.BeginPayment(ctx, o.ID, Actor{RestaurantID: r.ID}, models.MethodMobileMoney, "ORD_TEST4")
		require.NoError(t, err)
		tr, err := apply(o.ID, PaymentUpdate{Status: models.PaymentProcessing, Provider: "paypack", ProviderReference: "PP-9"})
		require.NoError(t, err)
		assert.Equal(t, EffectNone, tr.Effect)
		stored := reload(t, db, o.ID)
		assert.Equal(t, models.OrderPending, stored.Status)
		assert.Equal(t, "paypack", stored.PaymentProvider)

		found, err := svc.FindByReference(ctx, db, "PP-9")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, o.ID, found.ID)
		found, err = svc.FindByReference(ctx, db, "ORD_TEST4")
		require.NoError(t, err)
		assert.Equal(t, o.ID, found.ID)
		missing, err := svc.FindByReference(ctx, db, "nothing")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("processing after settlement is ignored", func(t *testing.T) {
		o := placeDirect(t, svc, r.ID, LineInput{ProductID: p.ID, Quantity: 1})
		_, err := svc.BeginPayment(ctx, o.ID, Actor{RestaurantID: r.ID}, models.MethodMobileMoney, "ORD_TEST5")
		require.NoError(t, err)
		_, err = apply(o.ID, PaymentUpdate{Status: models.PaymentCompleted, Provider: "paypack"})
		require.NoError(t, err)

		tr, err := apply(o.ID, PaymentUpdate{Status: models.PaymentProcessing, Provider: "paypack", ProviderReference: "PP-10"})
		require.NoError(t, err)
		assert.False(t, tr.Applied)
		assert.Equal(t, models.OrderConfirmed, tr.Order.Status)
		assert.Equal(t, models.PaymentCompleted, tr.Order.PaymentStatus)
		assert.Equal(t, models.PaymentCompleted, reload(t, db, o.ID).PaymentStatus)
	})
}

func TestBeginPaymentRequiresOpenPayment(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newService(t, db)
	ctx := context.Background()
	r := testutil.CreateRestaurant(t, db, "Bistro")
	p := testutil.CreateProduct(t, db, "Yoghurt", 700, 10)
	o := placeDirect(t, svc, r.ID, LineInput{ProductID: p.ID, Quantity: 1})

	first, err := svc.BeginPayment(ctx, o.ID, Actor{RestaurantID: r.ID}, models.MethodMobileMoney, "ORD_A")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentProcessing, first.PaymentStatus)

	// Re-attempt while processing refreshes the reference.
	second, err := svc.BeginPayment(ctx, o.ID, Actor{RestaurantID: r.ID}, models.MethodCard, "ORD_B")
	require.NoError(t, err)
	assert.Equal(t, "ORD_B", *second.TransactionReference)

	forceStatus(t, db, o.ID, models.OrderConfirmed, models.PaymentCompleted)
	_, err = svc.BeginPayment(ctx, o.ID, Actor{RestaurantID: r.ID}, models.MethodCard, "ORD_C")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition))
}

func TestReorderStoresEncryptedCard(t *testing.T) {
	db := testutil.NewDB(t)
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	cipher, err := utils.NewCardCipher(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	svc := newService(t, db, WithCardCipher(cipher))
	ctx := context.Background()
	r := testutil.CreateRestaurant(t, db, "Bistro")
	p := testutil.CreateProduct(t, db, "Honey", 3000, 10)
	prev := placeDirect(t, svc, r.ID, LineInput{ProductID: p.ID, Quantity: 2})
	require.NoError(t, db.Model(&models.Product{}).Where("id = ?", p.ID).Update("unit_price", testutil.Money(3500)).Error)

	o, err := svc.Reorder(ctx, ReorderInput{
		OrderID:       prev.ID,
		Actor:         Actor{RestaurantID: r.ID},
		PaymentMethod: models.MethodCard,
		Card:          &CardInput{Number: "4242 4242 4242 4242", Expiry: "09/32"},
	})
	require.NoError(t, err)
	assert.True(t, testutil.Money(7000).Equal(o.TotalAmount))
	assert.Equal(t, "4242", o.CardLast4)
	assert.NotContains(t, o.EncryptedCardNumber, "4242")
	assert.Equal(t, 6, testutil.Stock(t, db, p.ID))

	card, err := svc.StoredCard(o)
	require.NoError(t, err)
	assert.Equal(t, "4242424242424242", card.Number)
	assert.Equal(t, "09/32", card.Expiry)

	_, err = svc.Reorder(ctx, ReorderInput{
		OrderID:       prev.ID,
		Actor:         Actor{RestaurantID: r.ID},
		PaymentMethod: models.MethodMobileMoney,
		Card:          &CardInput{Number: "4242424242424242", Expiry: "09/32"},
	})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = svc.Reorder(ctx, ReorderInput{OrderID: prev.ID, Actor: Actor{RestaurantID: r.ID + 100}})
	assert.True(t, apperr.Is(err, apperr.CodeOwnership))
}
