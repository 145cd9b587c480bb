package controllers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fulfillment-service/models"
	"fulfillment-service/stripe"
)

type CheckoutStore interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	SetPaymentReference(ctx context.Context, orderID, ref string) error
}

type PaymentIntents interface {
	CreatePaymentIntent(ctx context.Context, orderID string, amountCents int64, currency string) (*stripe.PaymentIntent, error)
}

type CheckoutController struct {
	store    CheckoutStore
	payments PaymentIntents
	currency string
	logger   *slog.Logger
}

func NewCheckoutController(store CheckoutStore, payments PaymentIntents, currency string, logger *slog.Logger) *CheckoutController {
	return &CheckoutController{
		store:    store,
		payments: payments,
		currency: strings.ToLower(currency),
		logger:   logger.With("component", "checkout"),
	}
}

type checkoutRequest struct {
	Items []struct {
		ProductID int64 `json:"product_id" binding:"required"`
		Quantity  int   `json:"quantity" binding:"required,min=1,max=100"`
	} `json:"items" binding:"required,min=1,max=50,dive"`
	Shipping models.ShippingAddress `json:"shipping" binding:"required"`
}

// CreateCheckout 按当前商品价格保存订单, 再按订单总额创建支付意图
func (cc *CheckoutController) CreateCheckout(c *gin.Context) {
	// 验证请求
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	order := &models.Order{
		ID:       uuid.NewString(),
		Status:   models.StatusCreated,
		Currency: cc.currency,
		Shipping: req.Shipping,
	}
	// 按当前商品价格生成订单项
	items := make([]models.OrderItem, 0, len(req.Items))
	for _, line := range req.Items {
		product, err := cc.store.GetProduct(ctx, line.ProductID)
		if errors.Is(err, models.ErrProductNotFound) || (err == nil && !product.Active) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Product %d is not available", line.ProductID)})
			return
		}
		if err != nil {
			cc.logger.Error("load product for checkout", "product_id", line.ProductID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}
		items = append(items, models.OrderItem{
			ProductID:      product.ID,
			Quantity:       line.Quantity,
			UnitPriceCents: product.PriceCents,
		})
	}
	// 计算总价
	order.AmountCents = models.ItemsTotalCents(items)
	if order.AmountCents <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order total must be positive"})
		return
	}

	// 保存订单和订单项
	if err := cc.store.CreateOrder(ctx, order, items); err != nil {
		cc.logger.Error("create order", "order_id", order.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create order"})
		return
	}

	// 创建支付意图
	intent, err := cc.payments.CreatePaymentIntent(ctx, order.ID, order.AmountCents, order.Currency)
	if err != nil {
		cc.logger.Error("create payment intent", "order_id", order.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment provider unavailable"})
		return
	}

	// 关联支付意图, 回调按它查找订单
	if err := cc.store.SetPaymentReference(ctx, order.ID, intent.ID); err != nil {
		cc.logger.Error("store payment reference", "order_id", order.ID, "payment_reference", intent.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create order"})
		return
	}

	cc.logger.Info("checkout created", "order_id", order.ID, "payment_reference", intent.ID, "amount_cents", order.AmountCents)
	c.JSON(http.StatusCreated, gin.H{
		"order_id":      order.ID,
		"client_secret": intent.ClientSecret,
		"amount_cents":  order.AmountCents,
		"currency":      order.Currency,
	})
}
