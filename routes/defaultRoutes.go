package routes

import (
	"github.com/food-bundles/food-bundles-bn-sub001/controllers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func DefaultRoutes(server *gin.Engine) {
	server.GET("/", controllers.GetHome)
	server.GET("/healthz", controllers.Healthz)
	server.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
