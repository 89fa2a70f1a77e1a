package routes

import "github.com/gin-gonic/gin"

// Register mounts every route group. auth guards the restaurant and admin routes.
func Register(server *gin.Engine, auth gin.HandlerFunc) {
	DefaultRoutes(server)
	CartRoutes(server, auth)
	OrderRoutes(server, auth)
	WalletRoutes(server, auth)
	SubscriptionRoutes(server, auth)
	WebhookRoutes(server)
}
