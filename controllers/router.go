package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fulfillment-service/middlewares"
)

type Router struct {
	Webhook   *WebhookController
	Checkout  *CheckoutController
	Orders    *OrderController
	Catalog   *CatalogController
	JWTSecret string
	Limiter   *middlewares.IPRateLimiter
}

func (rt Router) Engine() *gin.Engine {
	r := gin.Default()
	// 非 POST 的 webhook 请求返回 405 而不是 404
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	// 应用Prometheus中间件
	r.Use(middlewares.PrometheusMiddleware())

	// 暴露Prometheus指标端点
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	// 健康检查端点
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 公开端点: 支付回调、商品列表、下单(限流)
	r.POST("/webhooks/stripe", rt.Webhook.HandleStripe)
	r.GET("/products", rt.Catalog.ListProducts)
	r.POST("/api/checkout", middlewares.RateLimitMiddleware(rt.Limiter), rt.Checkout.CreateCheckout)

	// 需要认证的路由组
	authGroup := r.Group("/api")
	authGroup.Use(middlewares.AuthMiddleware(rt.JWTSecret))
	{
		authGroup.POST("/catalog/sync", rt.Catalog.SyncCatalog)
		authGroup.GET("/orders/:id", rt.Orders.GetOrderDetails)
		authGroup.POST("/orders/:id/fulfillment", rt.Orders.ResubmitFulfillment)
		authGroup.POST("/orders/:id/release", rt.Orders.ReleaseOrder)
	}

	return r
}
