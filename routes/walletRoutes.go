package routes

import (
	"github.com/food-bundles/food-bundles-bn-sub001/controllers"
	"github.com/food-bundles/food-bundles-bn-sub001/middlewares"
	"github.com/gin-gonic/gin"
)

func WalletRoutes(server *gin.Engine, auth gin.HandlerFunc) {
	wallets := server.Group("/wallets", auth)
	wallets.GET("/me", controllers.GetMyWallet)
	wallets.GET("/me/transactions", controllers.GetMyWalletTransactions)
	wallets.POST("/top-up", controllers.TopUpWallet)
	wallets.POST("/:id/adjust", middlewares.RequireAdmin(), controllers.AdjustWallet)
}
