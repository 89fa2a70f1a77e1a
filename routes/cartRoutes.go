package routes

import (
	"github.com/food-bundles/food-bundles-bn-sub001/controllers"
	"github.com/gin-gonic/gin"
)

func CartRoutes(server *gin.Engine, auth gin.HandlerFunc) {
	cart := server.Group("/cart", auth)
	cart.GET("", controllers.GetCart)
	cart.DELETE("", controllers.ClearCart)
	cart.POST("/items", controllers.AddCartItem)
	cart.PATCH("/items/:itemId", controllers.UpdateCartItem)
	cart.DELETE("/items/:itemId", controllers.RemoveCartItem)
}
