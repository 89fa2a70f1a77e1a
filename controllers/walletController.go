package controllers

import (
	"net/http"
	"strconv"

	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"github.com/food-bundles/food-bundles-bn-sub001/payments"
	"github.com/food-bundles/food-bundles-bn-sub001/wallets"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type topUpRequest struct {
	models.Billing
	Amount        decimal.Decimal      `json:"amount"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod" binding:"required"`
	PhoneNumber   string               `json:"phoneNumber"`
	Card          *payments.CardInput  `json:"card"`
}

type adjustRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" binding:"required"`
}

func GetMyWallet(ctx *gin.Context) {
	restaurantID, ok := requireRestaurant(ctx)
	if !ok {
		return
	}
	wallet, err := svc.Wallets.GetOrCreate(ctx.Request.Context(), restaurantID)
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"wallet": wallet})
}

func GetMyWalletTransactions(ctx *gin.Context) {
	restaurantID, ok := requireRestaurant(ctx)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	txns, err := svc.Wallets.Transactions(ctx.Request.Context(), restaurantID, limit)
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"transactions": txns})
}

// TopUpWallet charges an external method and credits the wallet once the
// provider confirms.
func TopUpWallet(ctx *gin.Context) {
	restaurantID, ok := requireRestaurant(ctx)
	if !ok {
		return
	}
	var body topUpRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		sendErrorResponse(ctx, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := svc.Wallets.TopUp(ctx.Request.Context(), wallets.TopUpInput{
		RestaurantID: restaurantID,
		Amount:       body.Amount,
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
	out["transaction"] = res.Transaction
	sendJSONResponse(ctx, http.StatusCreated, out)
}

func AdjustWallet(ctx *gin.Context) {
	walletID, ok := paramID(ctx, "id")
	if !ok {
		return
	}
	var body adjustRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		sendErrorResponse(ctx, http.StatusBadRequest, "Invalid request body")
		return
	}
	txn, err := svc.Wallets.Adjust(ctx.Request.Context(), walletID, body.Amount, body.Reason)
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"message": "Wallet adjusted", "transaction": txn})
}
