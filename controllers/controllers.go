package controllers

import (
	"net/http"
	"strconv"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/carts"
	"github.com/food-bundles/food-bundles-bn-sub001/idempotency"
	"github.com/food-bundles/food-bundles-bn-sub001/logging"
	"github.com/food-bundles/food-bundles-bn-sub001/middlewares"
	"github.com/food-bundles/food-bundles-bn-sub001/orders"
	"github.com/food-bundles/food-bundles-bn-sub001/payments"
	"github.com/food-bundles/food-bundles-bn-sub001/subscriptions"
	"github.com/food-bundles/food-bundles-bn-sub001/wallets"
	"github.com/food-bundles/food-bundles-bn-sub001/webhooks"
	"github.com/gin-gonic/gin"
)

// Services are the collaborators the handlers call into.
type Services struct {
	Carts         *carts.Service
	Orders        *orders.Service
	Payments      *payments.Dispatcher
	Wallets       *wallets.Service
	Subscriptions *subscriptions.Service
	Webhooks      *webhooks.Reconciler
	Idempotency   idempotency.Store
}

var svc Services

// Setup must run before routes are served.
func Setup(s Services) {
	if s.Idempotency == nil {
		s.Idempotency = idempotency.Disabled{}
	}
	svc = s
}

func sendJSONResponse(ctx *gin.Context, status int, data gin.H) {
	ctx.JSON(status, data)
}

func sendErrorResponse(ctx *gin.Context, status int, message string) {
	sendJSONResponse(ctx, status, gin.H{"message": message})
}

// sendAppError answers with the status of err's code. Internal details are
// logged, never returned.
func sendAppError(ctx *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		logging.From(ctx).Error("request failed", "code", code, "err", err)
	}
	_ = ctx.Error(err)
	sendJSONResponse(ctx, status, gin.H{"message": apperr.PublicMessage(err), "code": code})
}

func actorOf(ctx *gin.Context) orders.Actor {
	return orders.Actor{
		RestaurantID: middlewares.RestaurantID(ctx),
		Admin:        middlewares.IsAdmin(ctx),
	}
}

// requireRestaurant returns the caller's restaurant or answers 403.
func requireRestaurant(ctx *gin.Context) (uint, bool) {
	id := middlewares.RestaurantID(ctx)
	if id == 0 {
		sendErrorResponse(ctx, http.StatusForbidden, "This action requires a restaurant account")
		return 0, false
	}
	return id, true
}

func paramID(ctx *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil || id == 0 {
		sendErrorResponse(ctx, http.StatusBadRequest, "Failed to parse "+name)
		return 0, false
	}
	return uint(id), true
}

// paymentBody is the shape of every payment answer: failed payments carry
// success false and the provider's reason, not an HTTP error.
func paymentBody(res *payments.Result) gin.H {
	body := gin.H{"success": res.Success, "payment": res}
	if !res.Success {
		body["error"] = res.Message
	}
	return body
}
