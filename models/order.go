package models

import (
	"time"
)

type OrderStatus string

const (
	StatusCreated              OrderStatus = "created"
	StatusPaymentSucceeded     OrderStatus = "payment_succeeded"
	StatusFulfillmentSubmitted OrderStatus = "fulfillment_submitted"
	StatusFulfillmentFailed    OrderStatus = "fulfillment_failed"
	StatusPaymentFailed        OrderStatus = "payment_failed"
)

type ShippingAddress struct {
	Name        string `json:"name" binding:"required"`
	Address1    string `json:"address1" binding:"required"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city" binding:"required"`
	StateCode   string `json:"state_code,omitempty"`
	CountryCode string `json:"country_code" binding:"required"`
	Zip         string `json:"zip" binding:"required"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type Order struct {
	ID                    string          `json:"id"`
	Status                OrderStatus     `json:"status"`
	PaymentReference      string          `json:"payment_reference,omitempty"`
	AmountCents           int64           `json:"amount_cents"`
	Currency              string          `json:"currency"`
	Shipping              ShippingAddress `json:"shipping"`
	ExternalFulfillmentID string          `json:"external_fulfillment_id,omitempty"`
	FailureDetail         string          `json:"failure_detail,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// OrderItem 价格在下单时确定, 之后不再读取商品目录
type OrderItem struct {
	ID             int64  `json:"id"`
	OrderID        string `json:"order_id"`
	ProductID      int64  `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (i OrderItem) SubtotalCents() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

// ItemsTotalCents 订单项合计(数量*单价)
func ItemsTotalCents(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.SubtotalCents()
	}
	return total
}

type OrderResponse struct {
	Order
	Items []OrderItem `json:"items"`
}
