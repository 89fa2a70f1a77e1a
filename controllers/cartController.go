package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type cartItemRequest struct {
	ProductID uint `json:"productId" binding:"required"`
	Quantity  int  `json:"quantity"`
}

type cartQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func GetCart(ctx *gin.Context) {
	restaurantID, ok := requireRestaurant(ctx)
	if !ok {
		return
	}
	cart, err := svc.Carts.Get(ctx.Request.Context(), restaurantID)
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"cart": cart})
}

func AddCartItem(ctx *gin.Context) {
	restaurantID, ok := requireRestaurant(ctx)
	if !ok {
		return
	}
	var body cartItemRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		sendErrorResponse(ctx, http.StatusBadRequest, "Invalid input")
		return
	}
	cart, err := svc.Carts.AddItem(ctx.Request.Context(), restaurantID, body.ProductID, body.Quantity)
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"message": "Item added to cart", "cart": cart})
}

func UpdateCartItem(ctx *gin.Context) {
	restaurantID, ok := requireRestaurant(ctx)
	if !ok {
		return
	}
	itemID, ok := paramID(ctx, "itemId")
	if !ok {
		return
	}
	var body cartQuantityRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		sendErrorResponse(ctx, http.StatusBadRequest, "Invalid input")
		return
	}
	cart, err := svc.Carts.UpdateItem(ctx.Request.Context(), restaurantID, itemID, body.Quantity)
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"message": "Cart item updated", "cart": cart})
}

func RemoveCartItem(ctx *gin.Context) {
	restaurantID, ok := requireRestaurant(ctx)
	if !ok {
		return
	}
	itemID, ok := paramID(ctx, "itemId")
	if !ok {
		return
	}
	cart, err := svc.Carts.RemoveItem(ctx.Request.Context(), restaurantID, itemID)
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"message": "Cart item removed", "cart": cart})
}

func ClearCart(ctx *gin.Context) {
	restaurantID, ok := requireRestaurant(ctx)
	if !ok {
		return
	}
	cart, err := svc.Carts.Clear(ctx.Request.Context(), restaurantID)
	if err != nil {
		sendAppError(ctx, err)
		return
	}
	sendJSONResponse(ctx, http.StatusOK, gin.H{"message": "Cart cleared", "cart": cart})
}
