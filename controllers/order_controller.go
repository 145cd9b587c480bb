package controllers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fulfillment-service/fulfillment"
	"fulfillment-service/middlewares"
	"fulfillment-service/models"
)

type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
}

type FulfillmentService interface {
	Submit(ctx context.Context, orderID string) (fulfillment.SubmitResult, error)
	Release(ctx context.Context, orderID, reason string) error
}

type ResubmitPublisher interface {
	PublishResubmit(ctx context.Context, req models.ResubmitRequest) error
}

type OrderController struct {
	orders      OrderReader
	fulfillment FulfillmentService
	queue       ResubmitPublisher
	logger      *slog.Logger
}

// NewOrderController queue 可以为 nil, 此时不支持异步重新提交
func NewOrderController(orders OrderReader, svc FulfillmentService, queue ResubmitPublisher, logger *slog.Logger) *OrderController {
	return &OrderController{
		orders:      orders,
		fulfillment: svc,
		queue:       queue,
		logger:      logger.With("component", "orders"),
	}
}

func (oc *OrderController) GetOrderDetails(c *gin.Context) {
	ctx := c.Request.Context()
	orderID := c.Param("id")

	// 查询订单基本信息
	order, err := oc.orders.GetOrder(ctx, orderID)
	if errors.Is(err, models.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	if err != nil {
		oc.logger.Error("get order", "order_id", orderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	// 查询订单项
	items, err := oc.orders.GetOrderItems(ctx, orderID)
	if err != nil {
		oc.logger.Error("get order items", "order_id", orderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get order items"})
		return
	}

	c.JSON(http.StatusOK, models.OrderResponse{Order: *order, Items: items})
}

// ResubmitFulfillment 重新提交履约; ?async=true 时改为投递到重新提交队列
func (oc *OrderController) ResubmitFulfillment(c *gin.Context) {
	ctx := c.Request.Context()
	orderID := c.Param("id")
	operator := c.GetString(middlewares.OperatorKey)

	// 异步: 投递到重新提交队列, 由消费者处理
	if c.Query("async") == "true" {
		if oc.queue == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Resubmission queue not configured"})
			return
		}
		req := models.ResubmitRequest{OrderID: orderID, RequestedBy: operator, Requested: time.Now().UTC()}
		if err := oc.queue.PublishResubmit(ctx, req); err != nil {
			oc.logger.Error("queue resubmission", "order_id", orderID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to queue resubmission"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"order_id": orderID, "queued": true})
		return
	}

	// 同步重新提交
	oc.logger.Info("operator resubmission", "order_id", orderID, "operator", operator)
	res, err := oc.fulfillment.Submit(ctx, orderID)
	if err != nil {
		oc.writeFulfillmentError(c, orderID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":                orderID,
		"external_fulfillment_id": res.ExternalFulfillmentID,
		"already_submitted":       res.AlreadySubmitted,
	})
}

// ReleaseOrder 释放卡在 payment_succeeded 的订单, 以便重新提交
func (oc *OrderController) ReleaseOrder(c *gin.Context) {
	orderID := c.Param("id")
	operator := c.GetString(middlewares.OperatorKey)

	err := oc.fulfillment.Release(c.Request.Context(), orderID, "released by "+operator)
	if errors.Is(err, models.ErrStatusConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "Order is not awaiting fulfillment"})
		return
	}
	if err != nil {
		oc.logger.Error("release order", "order_id", orderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": models.StatusFulfillmentFailed})
}

func (oc *OrderController) writeFulfillmentError(c *gin.Context, orderID string, err error) {
	var (
		upErr  *models.UpstreamError
		incErr *models.InconsistentStateError
	)
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.Is(err, models.ErrAlreadySubmitted):
		c.JSON(http.StatusConflict, gin.H{"error": "Fulfillment already submitted or in progress"})
	case errors.Is(err, models.ErrPaymentNotCaptured):
		c.JSON(http.StatusConflict, gin.H{"error": "Order payment has not succeeded"})
	case errors.Is(err, models.ErrNoFulfillableItems):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Order has no fulfillable items"})
	case errors.As(err, &incErr):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":                   "Submitted but not recorded; operators alerted",
			"external_fulfillment_id": incErr.ExternalFulfillmentID,
		})
	case errors.As(err, &upErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Fulfillment provider error", "status_code": upErr.StatusCode})
	default:
		oc.logger.Error("resubmit fulfillment", "order_id", orderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
