package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/food-bundles/food-bundles-bn-sub001/carts"
	"github.com/food-bundles/food-bundles-bn-sub001/idempotency"
	"github.com/food-bundles/food-bundles-bn-sub001/middlewares"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"github.com/food-bundles/food-bundles-bn-sub001/orders"
	"github.com/food-bundles/food-bundles-bn-sub001/payments"
	"github.com/food-bundles/food-bundles-bn-sub001/subscriptions"
	"github.com/food-bundles/food-bundles-bn-sub001/testutil"
	"github.com/food-bundles/food-bundles-bn-sub001/wallets"
	"github.com/food-bundles/food-bundles-bn-sub001/webhooks"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	jwtSecret     = "test-secret"
	paypackSecret = "paypack-webhook-secret"
)

// pendingMomo answers every mobile money request with a pending cash-in.
type pendingMomo struct {
	ref   string
	calls atomic.Int32
}

func (p *pendingMomo) Name() string { return "paypack" }

func (p *pendingMomo) InitiateMobileMoney(context.Context, payments.MobileMoneyRequest) (*payments.ProviderResponse, error) {
	p.calls.Add(1)
	return &payments.ProviderResponse{Status: payments.StatusPending, ProviderReference: p.ref}, nil
}

type api struct {
	db      *gorm.DB
	engine  *gin.Engine
	rest    models.Restaurant
	product models.Product
	wallet  models.Wallet
	token   string
	momo    *pendingMomo
}

func newAPI(t *testing.T, balance int64) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	momo := &pendingMomo{ref: "pp-5521"}
	walletSvc := wallets.NewService(db)
	orderSvc := orders.NewService(db, orders.WithWalletRefunder(walletSvc))
	dispatcher := payments.NewDispatcher(db, orderSvc, payments.Providers{
		MobileMoney: []payments.MobileMoneyProvider{momo},
	}, walletSvc, payments.Config{Timeout: time.Second})
	walletSvc.SetCharger(dispatcher)
	subSvc := subscriptions.NewService(db, dispatcher)

	Setup(Services{
		Carts:         carts.NewService(db),
		Orders:        orderSvc,
		Payments:      dispatcher,
		Wallets:       walletSvc,
		Subscriptions: subSvc,
		Webhooks: webhooks.NewReconciler(webhooks.Deps{
			DB:            db,
			Orders:        orderSvc,
			Wallets:       walletSvc,
			Subscriptions: subSvc,
			Verifier:      dispatcher,
			Signatures: map[string]webhooks.SignatureVerifier{
				"paypack": webhooks.PaypackHMAC{Secret: paypackSecret},
			},
		}),
		Idempotency: idempotency.NewRedisStore(rdb, time.Hour),
	})

	engine := gin.New()
	auth := middlewares.RequireAuth(jwtSecret)
	engine.POST("/cart/items", auth, AddCartItem)
	engine.GET("/cart", auth, GetCart)
	engine.POST("/checkouts", auth, Checkout)
	engine.POST("/checkouts/:id/payment", auth, PayCheckout)
	engine.GET("/orders/:id", auth, GetOrder)
	engine.PATCH("/orders/:id/status", auth, middlewares.RequireAdmin(), UpdateOrderStatus)
	engine.POST("/orders/:id/cancel", auth, CancelOrder)
	engine.GET("/wallets/me", auth, GetMyWallet)
	engine.POST("/payments/webhook", HandlePaymentWebhook)

	rest := testutil.CreateRestaurant(t, db, "Route Bistro")
	token, err := middlewares.IssueToken(jwtSecret, rest.ID, "restaurant", time.Hour)
	require.NoError(t, err)
	return &api{
		db:      db,
		engine:  engine,
		rest:    rest,
		product: testutil.CreateProduct(t, db, "Maize", 1000, 10),
		wallet:  testutil.CreateWallet(t, db, rest.ID, balance),
		token:   token,
		momo:    momo,
	}
}

func (a *api) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *api) fillCart(t *testing.T, qty int) {
	t.Helper()
	w := a.do(t, http.MethodPost, "/cart/items", a.token, gin.H{"productId": a.product.ID, "quantity": qty})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

type paymentReply struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Order   models.Order    `json:"order"`
	Payment json.RawMessage `json:"payment"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestCheckoutPaysFromWallet(t *testing.T) {
	a := newAPI(t, 5000)
	a.fillCart(t, 2)

	w := a.do(t, http.MethodPost, "/checkouts", a.token, gin.H{"paymentMethod": "CASH", "billingName": "Chef"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	reply := decode[paymentReply](t, w)
	assert.True(t, reply.Success)
	assert.Equal(t, models.OrderConfirmed, reply.Order.Status)
	assert.Equal(t, models.PaymentCompleted, reply.Order.PaymentStatus)
	assert.Equal(t, 8, testutil.Stock(t, a.db, a.product.ID))
	assert.True(t, testutil.ReloadWallet(t, a.db, a.wallet.ID).Balance.Equal(testutil.Money(3000)))
}

func TestCheckoutIdempotencyKeyReplaysOrder(t *testing.T) {
	a := newAPI(t, 5000)
	a.fillCart(t, 1)

	first := a.do(t, http.MethodPost, "/checkouts", a.token, gin.H{"paymentMethod": "CASH"}, IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := a.do(t, http.MethodPost, "/checkouts", a.token, gin.H{"paymentMethod": "CASH"}, IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	replay := decode[struct {
		Replayed bool         `json:"replayed"`
		Order    models.Order `json:"order"`
	}](t, second)
	assert.True(t, replay.Replayed)
	assert.Equal(t, decode[paymentReply](t, first).Order.ID, replay.Order.ID)
	assert.True(t, testutil.ReloadWallet(t, a.db, a.wallet.ID).Balance.Equal(testutil.Money(4000)))

	var count int64
	require.NoError(t, a.db.Model(&models.Order{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestCheckoutFailedPaymentIsNotAnHTTPError(t *testing.T) {
	a := newAPI(t, 100)
	a.fillCart(t, 2)

	w := a.do(t, http.MethodPost, "/checkouts", a.token, gin.H{"paymentMethod": "CASH"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	reply := decode[paymentReply](t, w)
	assert.False(t, reply.Success)
	assert.NotEmpty(t, reply.Error)
	assert.Equal(t, models.OrderCancelled, reply.Order.Status)
	assert.Equal(t, 10, testutil.Stock(t, a.db, a.product.ID))
}

func TestCheckoutRejectsBadPhoneBeforeReserving(t *testing.T) {
	a := newAPI(t, 0)
	a.fillCart(t, 2)

	w := a.do(t, http.MethodPost, "/checkouts", a.token, gin.H{"paymentMethod": "MOBILE_MONEY", "phoneNumber": "0711"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 10, testutil.Stock(t, a.db, a.product.ID))

	var count int64
	require.NoError(t, a.db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestMobileMoneyCheckoutSettledByWebhook(t *testing.T) {
	a := newAPI(t, 0)
	a.fillCart(t, 3)

	w := a.do(t, http.MethodPost, "/checkouts", a.token, gin.H{"paymentMethod": "MOBILE_MONEY", "phoneNumber": "0788123456"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	reply := decode[paymentReply](t, w)
	assert.True(t, reply.Success)
	assert.Equal(t, models.PaymentProcessing, reply.Order.PaymentStatus)

	body := []byte(`{"event_id":"ev-9","kind":"transaction:processed","data":{"ref":"pp-5521","kind":"CASHIN","status":"successful"}}`)
	bad := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
	bad.Header.Set("X-Paypack-Signature", "forged")
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
	req.Header.Set("X-Paypack-Signature", webhooks.PaypackSignature(paypackSecret, body))
	rec = httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	g := a.do(t, http.MethodGet, "/orders/"+itoa(reply.Order.ID), a.token, nil)
	require.Equal(t, http.StatusOK, g.Code)
	got := decode[struct {
		Order models.Order `json:"order"`
	}](t, g)
	assert.Equal(t, models.OrderConfirmed, got.Order.Status)
	assert.Equal(t, models.PaymentCompleted, got.Order.PaymentStatus)
}

func TestRepeatedCheckoutDoesNotChargeTwice(t *testing.T) {
	a := newAPI(t, 0)
	a.fillCart(t, 2)
	checkout := gin.H{"paymentMethod": "MOBILE_MONEY", "phoneNumber": "0788123456"}

	first := a.do(t, http.MethodPost, "/checkouts", a.token, checkout)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	placed := decode[paymentReply](t, first).Order

	second := a.do(t, http.MethodPost, "/checkouts", a.token, checkout)
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	replay := decode[struct {
		Replayed bool         `json:"replayed"`
		Order    models.Order `json:"order"`
	}](t, second)
	assert.True(t, replay.Replayed)
	assert.Equal(t, placed.ID, replay.Order.ID)
	assert.Equal(t, models.PaymentProcessing, replay.Order.PaymentStatus)
	assert.Equal(t, placed.TransactionReference, replay.Order.TransactionReference)
	assert.EqualValues(t, 1, a.momo.calls.Load())

	var count int64
	require.NoError(t, a.db.Model(&models.Order{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, 8, testutil.Stock(t, a.db, a.product.ID))

	// An explicit retry on the order still reaches the provider.
	retry := a.do(t, http.MethodPost, "/checkouts/"+itoa(placed.ID)+"/payment", a.token, gin.H{"phoneNumber": "0788123456"})
	require.Equal(t, http.StatusOK, retry.Code, retry.Body.String())
	assert.EqualValues(t, 2, a.momo.calls.Load())
}

func TestRepeatedCheckoutAfterWalletPaymentReplays(t *testing.T) {
	a := newAPI(t, 5000)
	a.fillCart(t, 1)

	first := a.do(t, http.MethodPost, "/checkouts", a.token, gin.H{"paymentMethod": "CASH"})
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := a.do(t, http.MethodPost, "/checkouts", a.token, gin.H{"paymentMethod": "CASH"})
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	assert.Equal(t, decode[paymentReply](t, first).Order.ID, decode[paymentReply](t, second).Order.ID)
	assert.True(t, testutil.ReloadWallet(t, a.db, a.wallet.ID).Balance.Equal(testutil.Money(4000)))
}

func TestOrderAccessControl(t *testing.T) {
	a := newAPI(t, 5000)
	a.fillCart(t, 1)
	w := a.do(t, http.MethodPost, "/checkouts", a.token, gin.H{"paymentMethod": "CASH"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := itoa(decode[paymentReply](t, w).Order.ID)

	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/orders/"+id, "", nil).Code)

	other := testutil.CreateRestaurant(t, a.db, "Other Place")
	otherToken, err := middlewares.IssueToken(jwtSecret, other.ID, "restaurant", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodGet, "/orders/"+id, otherToken, nil).Code)

	assert.Equal(t, http.StatusForbidden,
		a.do(t, http.MethodPatch, "/orders/"+id+"/status", a.token, gin.H{"status": "PREPARING"}).Code)

	admin, err := middlewares.IssueToken(jwtSecret, 0, middlewares.RoleAdmin, time.Hour)
	require.NoError(t, err)
	up := a.do(t, http.MethodPatch, "/orders/"+id+"/status", admin, gin.H{"status": "preparing"})
	require.Equal(t, http.StatusOK, up.Code, up.Body.String())

	bad := a.do(t, http.MethodPatch, "/orders/"+id+"/status", admin, gin.H{"status": "PENDING"})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode[gin.H](t, bad)["code"])
}

func TestCancelRefundsWalletPayment(t *testing.T) {
	a := newAPI(t, 5000)
	a.fillCart(t, 2)
	w := a.do(t, http.MethodPost, "/checkouts", a.token, gin.H{"paymentMethod": "CASH"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := itoa(decode[paymentReply](t, w).Order.ID)

	c := a.do(t, http.MethodPost, "/orders/"+id+"/cancel", a.token, gin.H{"reason": "changed menu"})
	require.Equal(t, http.StatusOK, c.Code, c.Body.String())
	assert.Equal(t, 10, testutil.Stock(t, a.db, a.product.ID))
	assert.True(t, testutil.ReloadWallet(t, a.db, a.wallet.ID).Balance.Equal(testutil.Money(5000)))

	again := a.do(t, http.MethodPost, "/orders/"+id+"/cancel", a.token, nil)
	assert.Equal(t, http.StatusBadRequest, again.Code)
}

func TestRestaurantRoutesNeedRestaurantClaim(t *testing.T) {
	a := newAPI(t, 0)
	admin, err := middlewares.IssueToken(jwtSecret, 0, middlewares.RoleAdmin, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodGet, "/wallets/me", admin, nil).Code)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/wallets/me", a.token, nil).Code)
}

func itoa(id uint) string { return strconv.FormatUint(uint64(id), 10) }
