package routes

import (
	"github.com/food-bundles/food-bundles-bn-sub001/controllers"
	"github.com/gin-gonic/gin"
)

// Webhooks authenticate with provider signatures, not bearer tokens.
func WebhookRoutes(server *gin.Engine) {
	server.POST("/payments/webhook", controllers.HandlePaymentWebhook)
}
