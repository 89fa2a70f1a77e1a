package routes

import (
	"github.com/food-bundles/food-bundles-bn-sub001/controllers"
	"github.com/food-bundles/food-bundles-bn-sub001/middlewares"
	"github.com/gin-gonic/gin"
)

func OrderRoutes(server *gin.Engine, auth gin.HandlerFunc) {
	checkouts := server.Group("/checkouts", auth)
	checkouts.POST("", controllers.Checkout)
	checkouts.POST("/:id/payment", controllers.PayCheckout)

	orders := server.Group("/orders", auth)
	orders.POST("", controllers.CreateDirectOrder)
	orders.GET("/:id", controllers.GetOrder)
	orders.POST("/:id/cancel", controllers.CancelOrder)
	orders.POST("/:id/reorder", controllers.ReorderOrder)
	orders.POST("/:id/verify-payment", controllers.VerifyOrderPayment)
	orders.PATCH("/:id/status", middlewares.RequireAdmin(), controllers.UpdateOrderStatus)
	orders.DELETE("/:id", middlewares.RequireAdmin(), controllers.DeleteOrder)
}
