package controllers

import (
	"net/http"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"github.com/food-bundles/food-bundles-bn-sub001/payments"
	"github.com/food-bundles/food-bundles-bn-sub001/subscriptions"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type subscriptionRequest struct {
	models.Billing
	PlanName      string               `json:"planName" binding:"required"`
	Amount        decimal.Decimal      `json:"amount"`
	DurationDays  int                  `json:"durationDays" binding:"required"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod" binding:"required"`
	PhoneNumber   string               `json:"phoneNumber"`
	Card          *payments.CardInput  `json:"card"`
}

func CreateSubscription(ctx *gin.Context) {
	restaurantID, ok := requireRestaurant(ctx)
	if !ok {
		return
	}
	var body subscriptionRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		sendErrorResponse(ctx, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := svc.Subscriptions.Initiate(ctx.Request.Context(), subscriptions.InitiateInput{
		RestaurantID: restaurantID,
		PlanName:     body.PlanName,
		Amount:       body.Amount,
		DurationDays: body.DurationDays,
		Method:       body.PaymentMethod,
		Phone:        firstNonEmpty(body.PhoneNumber, body.BillingPhone),
		Card:         body.Card,
		Customer: payments.Customer{
			Name:  body.BillingName,
			Email: body.BillingEmail,
			Phone: body.BillingPhone,
		},
	})
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	out := paymentBody(res.Payment)
	out["subscription"] = res.Subscription
	sendJSONResponse(ctx, http.StatusCreated, out)
}

func SweepSubscriptions(ctx *gin.Context) {
	expired, err := svc.Subscriptions.SweepExpired(ctx.Request.Context(), time.Now())
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"expired": expired})
}
