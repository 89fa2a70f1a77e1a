package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func GetHome(ctx *gin.Context) {
	message := `Welcome to the Food Bundles API.

CHECKOUT
- POST "/checkouts" - Create an order from the cart and pay for it
- POST "/checkouts/:id/payment" - Retry payment for an order

ORDER
- POST "/orders" - Place an order from an item list
- GET "/orders/:id" - Get order by ID
- PATCH "/orders/:id/status" - Update order status (admin)
- POST "/orders/:id/cancel" - Cancel an order
- DELETE "/orders/:id" - Delete an order (admin)
- POST "/orders/:id/reorder" - Place the same order again
- POST "/orders/:id/verify-payment" - Check the payment with the provider

CART
- GET "/cart" - Get the active cart
- POST "/cart/items" - Add a product
- PATCH "/cart/items/:itemId" - Change a quantity
- DELETE "/cart/items/:itemId" - Remove a line
- DELETE "/cart" - Empty the cart

WALLET
- GET "/wallets/me" - Wallet balance
- GET "/wallets/me/transactions" - Wallet history
- POST "/wallets/top-up" - Top up the wallet
- POST "/wallets/:id/adjust" - Adjust a balance (admin)

SUBSCRIPTION
- POST "/subscriptions" - Subscribe to a plan
- POST "/subscriptions/sweep" - Expire finished subscriptions (admin)`

	ctx.JSON(http.StatusOK, gin.H{
		"message": message,
	})
}

func Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}
