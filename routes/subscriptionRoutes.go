package routes

import (
	"github.com/food-bundles/food-bundles-bn-sub001/controllers"
	"github.com/food-bundles/food-bundles-bn-sub001/middlewares"
	"github.com/gin-gonic/gin"
)

func SubscriptionRoutes(server *gin.Engine, auth gin.HandlerFunc) {
	subs := server.Group("/subscriptions")
	subs.POST("/webhook", controllers.HandlePaymentWebhook)
	subs.POST("", auth, controllers.CreateSubscription)
	subs.POST("/sweep", auth, middlewares.RequireAdmin(), controllers.SweepSubscriptions)
}
