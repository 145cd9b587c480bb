// Package repository 持久化商品、订单及履约关联
// 所有状态变更都是以当前状态为条件的更新, 同一支付事件并发投递时只有一个能推进订单
package repository

import (
	"context"

	"fulfillment-service/models"
)

type Gateway interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByPaymentReference(ctx context.Context, ref string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	SetPaymentReference(ctx context.Context, orderID, ref string) error

	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error)
	UpsertProduct(ctx context.Context, p models.Product) (int64, error)

	// TransitionStatus 条件更新状态, 返回本次调用是否完成了变更
	TransitionStatus(ctx context.Context, id string, from, to models.OrderStatus) (bool, error)
	// MarkPaymentFailed created -> payment_failed
	MarkPaymentFailed(ctx context.Context, id, detail string) (bool, error)
	// MarkFulfillmentSubmitted 一次写入履约单号和 fulfillment_submitted 状态
	// 订单不在 payment_succeeded 或已有单号时返回 models.ErrStatusConflict
	MarkFulfillmentSubmitted(ctx context.Context, id, externalID string) error
	// MarkFulfillmentFailed payment_succeeded -> fulfillment_failed, 保留失败原因
	MarkFulfillmentFailed(ctx context.Context, id, detail string) (bool, error)
}
