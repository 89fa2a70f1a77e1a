package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/logging"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"github.com/food-bundles/food-bundles-bn-sub001/orders"
	"github.com/food-bundles/food-bundles-bn-sub001/payments"
	"github.com/gin-gonic/gin"
)

const IdempotencyHeader = "X-Idempotency-Key"

type checkoutRequest struct {
	models.Billing
	CartID            uint                 `json:"cartId"`
	PaymentMethod     models.PaymentMethod `json:"paymentMethod" binding:"required"`
	PhoneNumber       string               `json:"phoneNumber"`
	Card              *payments.CardInput  `json:"card"`
	Notes             string               `json:"notes"`
	RequestedDelivery *time.Time           `json:"requestedDelivery"`
}

type payRequest struct {
	PaymentMethod models.PaymentMethod `json:"paymentMethod"`
	PhoneNumber   string               `json:"phoneNumber"`
	Card          *payments.CardInput  `json:"card"`
}

type directOrderRequest struct {
	models.Billing
	RestaurantID      uint                 `json:"restaurantId"`
	Items             []orders.LineInput   `json:"items" binding:"required,min=1,dive"`
	PaymentMethod     models.PaymentMethod `json:"paymentMethod" binding:"required"`
	Notes             string               `json:"notes"`
	RequestedDelivery *time.Time           `json:"requestedDelivery"`
}

type reorderRequest struct {
	PaymentMethod     models.PaymentMethod `json:"paymentMethod"`
	Billing           *models.Billing      `json:"billing"`
	Card              *orders.CardInput    `json:"card"`
	RequestedDelivery *time.Time           `json:"requestedDelivery"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Checkout creates the order from the cart and dispatches its payment in
// one call. An X-Idempotency-Key replays the first order for the same key.
func Checkout(ctx *gin.Context) {
	restaurantID, ok := requireRestaurant(ctx)
	if !ok {
		return
	}
	var body checkoutRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		sendErrorResponse(ctx, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := checkPaymentInput(body.PaymentMethod, firstNonEmpty(body.PhoneNumber, body.BillingPhone), body.Card); err != nil {
		sendAppError(ctx, err)
		return
	}

	c := ctx.Request.Context()
	log := logging.From(ctx)
	scope := "checkout:" + strconv.FormatUint(uint64(restaurantID), 10)
	key := strings.TrimSpace(ctx.GetHeader(IdempotencyHeader))
	if key != "" {
		if replayed := replayCheckout(ctx, scope, key); replayed {
			return
		}
		locked, err := svc.Idempotency.TryLock(c, scope, key)
		switch {
		case err != nil:
			log.Warn("idempotency store unavailable, continuing without it", "err", err)
		case !locked:
			sendErrorResponse(ctx, http.StatusConflict, "A checkout with this idempotency key is already in progress")
			return
		default:
			defer func() {
				if err := svc.Idempotency.Unlock(c, scope, key); err != nil {
					log.Warn("idempotency unlock failed", "err", err)
				}
			}()
		}
	}

	cartID := body.CartID
	if cartID == 0 {
		cart, err := svc.Carts.Get(c, restaurantID)
		if err != nil {
			sendAppError(ctx, err)
			return
		}
		cartID = cart.ID
	}
	order, reused, err := svc.Orders.CreateFromCart(c, orders.CheckoutInput{
		RestaurantID:      restaurantID,
		CartID:            cartID,
		PaymentMethod:     body.PaymentMethod,
		Billing:           body.Billing,
		Notes:             body.Notes,
		RequestedDelivery: body.RequestedDelivery,
	})
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	if key != "" {
		if err := svc.Idempotency.Remember(c, scope, key, strconv.FormatUint(uint64(order.ID), 10)); err != nil {
			log.Warn("idempotency key not stored", "order_id", order.ID, "err", err)
		}
	}
	if reused && !awaitingFirstAttempt(order) {
		// The earlier submission already dispatched this payment. Further
		// attempts go through POST /checkouts/:id/payment.
		sendJSONResponse(ctx, http.StatusOK, gin.H{"replayed": true, "order": order})
		return
	}

	res, paid, err := svc.Payments.Pay(c, payments.PayRequest{
		OrderID: order.ID,
		Actor:   orders.Actor{RestaurantID: restaurantID},
		Method:  body.PaymentMethod,
		Phone:   body.PhoneNumber,
		Card:    body.Card,
	})
	if err != nil {
		_ = ctx.Error(err)
		sendJSONResponse(ctx, apperr.HTTPStatus(apperr.CodeOf(err)), gin.H{
			"message": apperr.PublicMessage(err),
			"code":    apperr.CodeOf(err),
			"order":   order,
		})
		return
	}
	out := paymentBody(res)
	out["order"] = paid
	sendJSONResponse(ctx, http.StatusCreated, out)
}

func awaitingFirstAttempt(o *models.Order) bool {
	return o.Status == models.OrderPending && o.PaymentStatus == models.PaymentPending
}

// replayCheckout answers with the order a finished request created for key.
func replayCheckout(ctx *gin.Context, scope, key string) bool {
	c := ctx.Request.Context()
	raw, found, err := svc.Idempotency.Recall(c, scope, key)
	if err != nil || !found {
		return false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return false
	}
	order, err := svc.Orders.Get(c, uint(id), actorOf(ctx))
	if err != nil {
		sendAppError(ctx, err)
		return true
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"replayed": true, "order": order})
	return true
}

// PayCheckout re-attempts payment for an order still awaiting it.
func PayCheckout(ctx *gin.Context) {
	orderID, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	var body payRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		sendErrorResponse(ctx, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, order, err := svc.Payments.Pay(ctx.Request.Context(), payments.PayRequest{
		OrderID: orderID,
		Actor:   actorOf(ctx),
		Method:  body.PaymentMethod,
		Phone:   body.PhoneNumber,
		Card:    body.Card,
	})
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	out := paymentBody(res)
	out["order"] = order
	sendJSONResponse(ctx, http.StatusOK, out)
}

// CreateDirectOrder places an order from an explicit item list. Admins may
// place it for any restaurant.
func CreateDirectOrder(ctx *gin.Context) {
	var body directOrderRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		sendErrorResponse(ctx, http.StatusBadRequest, "Invalid request body")
		return
	}
	actor := actorOf(ctx)
	restaurantID := actor.RestaurantID
	if actor.Admin && body.RestaurantID != 0 {
		restaurantID = body.RestaurantID
	}
	if restaurantID == 0 {
		sendErrorResponse(ctx, http.StatusBadRequest, "restaurantId is required")
		return
	}
	order, err := svc.Orders.CreateDirect(ctx.Request.Context(), orders.DirectInput{
		RestaurantID:      restaurantID,
		Items:             body.Items,
		PaymentMethod:     body.PaymentMethod,
		Billing:           body.Billing,
		Notes:             body.Notes,
		RequestedDelivery: body.RequestedDelivery,
	})
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusCreated, gin.H{"message": "Order created successfully.", "order": order})
}

func GetOrder(ctx *gin.Context) {
	orderID, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	order, err := svc.Orders.Get(ctx.Request.Context(), orderID, actorOf(ctx))
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"order": order})
}

func UpdateOrderStatus(ctx *gin.Context) {
	orderID, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	var body statusRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		sendErrorResponse(ctx, http.StatusBadRequest, "Failed to parse request body")
		return
	}
	next, ok := orders.ParseStatus(strings.ToUpper(strings.TrimSpace(body.Status)))
	if !ok {
		sendErrorResponse(ctx, http.StatusBadRequest, "Unknown order status "+body.Status)
		return
	}
	order, err := svc.Orders.UpdateStatus(ctx.Request.Context(), orderID, next, body.Reason)
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"message": "Order status updated successfully.", "order": order})
}

func CancelOrder(ctx *gin.Context) {
	orderID, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	var body cancelRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&body); err != nil {
			sendErrorResponse(ctx, http.StatusBadRequest, "Failed to parse request body")
			return
		}
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "cancelled by customer"
	}
	order, err := svc.Orders.Cancel(ctx.Request.Context(), orderID, actorOf(ctx), reason)
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"message": "Order cancelled.", "order": order})
}

func DeleteOrder(ctx *gin.Context) {
	orderID, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	if err := svc.Orders.Delete(ctx.Request.Context(), orderID); err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"message": "Order deleted successfully."})
}

func ReorderOrder(ctx *gin.Context) {
	orderID, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	var body reorderRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&body); err != nil {
			sendErrorResponse(ctx, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	order, err := svc.Orders.Reorder(ctx.Request.Context(), orders.ReorderInput{
		OrderID:           orderID,
		Actor:             actorOf(ctx),
		PaymentMethod:     body.PaymentMethod,
		Billing:           body.Billing,
		Card:              body.Card,
		RequestedDelivery: body.RequestedDelivery,
	})
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusCreated, gin.H{"message": "Order placed again.", "order": order})
}

// VerifyOrderPayment asks the provider for the payment state and applies it.
func VerifyOrderPayment(ctx *gin.Context) {
	orderID, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	res, order, err := svc.Webhooks.VerifyOrder(ctx.Request.Context(), orderID, actorOf(ctx))
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"result": res, "order": order})
}

// checkPaymentInput rejects checkouts whose payment could never be
// dispatched, before any stock is reserved.
func checkPaymentInput(method models.PaymentMethod, phone string, card *payments.CardInput) error {
	if !method.Valid() {
		return apperr.Validation("unsupported payment method %q", method)
	}
	switch method {
	case models.MethodMobileMoney:
		if _, _, err := payments.NormalizePhone(phone); err != nil {
			return err
		}
	case models.MethodCard:
		if card == nil || strings.TrimSpace(card.Number) == "" || card.Expiry == "" {
			return apperr.Validation("card number and expiry are required")
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
