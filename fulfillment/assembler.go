// Package fulfillment 把已支付订单提交给履约供应商, 结果只记录一次
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fulfillment-service/models"
)

type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
}

type Assembler struct {
	store  OrderReader
	logger *slog.Logger
}

func NewAssembler(store OrderReader, logger *slog.Logger) *Assembler {
	return &Assembler{store: store, logger: logger.With("component", "assembler")}
}

// Assemble 生成履约请求, 不做任何写入
// 商品已删除或没有目录 id 的订单项被丢弃, 全部丢弃时返回 models.ErrNoFulfillableItems
func (a *Assembler) Assemble(ctx context.Context, orderID string) (*models.FulfillmentPayload, error) {
	order, err := a.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := a.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load items for order %s: %w", orderID, err)
	}

	payload := &models.FulfillmentPayload{
		ExternalID: order.ID,
		Recipient:  order.Shipping,
		Items:      make([]models.LineItem, 0, len(items)),
	}
	for _, item := range items {
		log := a.logger.With("order_id", orderID, "product_id", item.ProductID)

		product, err := a.store.GetProduct(ctx, item.ProductID)
		if errors.Is(err, models.ErrProductNotFound) {
			log.Warn("dropping item: product no longer exists")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load product %d: %w", item.ProductID, err)
		}
		if product.ExternalCatalogID == "" {
			log.Warn("dropping item: product has no catalog id")
			continue
		}
		if item.Quantity < 1 {
			log.Warn("dropping item: non-positive quantity", "quantity", item.Quantity)
			continue
		}

		payload.Items = append(payload.Items, models.LineItem{
			ExternalCatalogID: product.ExternalCatalogID,
			Quantity:          item.Quantity,
			RetailPriceCents:  item.UnitPriceCents,
		})
	}

	if len(payload.Items) == 0 {
		return nil, models.ErrNoFulfillableItems
	}
	return payload, nil
}
