package models

import "time"

type PaymentEventType string

const (
	PaymentSucceeded PaymentEventType = "succeeded"
	PaymentFailed    PaymentEventType = "failed"
	PaymentOther     PaymentEventType = "other"
)

// PaymentEvent 已验签并解析的支付通知, 不落库
type PaymentEvent struct {
	ID               string           `json:"id"`
	Type             PaymentEventType `json:"type"`
	RawType          string           `json:"raw_type"`
	PaymentReference string           `json:"payment_reference"`
	AmountCents      int64            `json:"amount_cents"`
	Currency         string           `json:"currency"`
	FailureMessage   string           `json:"failure_message,omitempty"`
	Created          time.Time        `json:"created"`
}

// FulfillmentPayload 与供应商无关的履约请求; ExternalID 为本地订单号, 供应商据此去重
type FulfillmentPayload struct {
	ExternalID string          `json:"external_id"`
	Recipient  ShippingAddress `json:"recipient"`
	Items      []LineItem      `json:"items"`
}

type LineItem struct {
	ExternalCatalogID string `json:"external_catalog_id"`
	Quantity          int    `json:"quantity"`
	RetailPriceCents  int64  `json:"retail_price_cents"`
}

type AlertKind string

const (
	AlertFulfillmentFailed  AlertKind = "fulfillment_failed"
	AlertInconsistentState  AlertKind = "inconsistent_state"
	AlertAmountMismatch     AlertKind = "amount_mismatch"
	AlertNoFulfillableItems AlertKind = "no_fulfillable_items"
)

// Alert 发送到运维告警通道
type Alert struct {
	Kind                  AlertKind `json:"kind"`
	OrderID               string    `json:"order_id"`
	ExternalFulfillmentID string    `json:"external_fulfillment_id,omitempty"`
	Detail                string    `json:"detail"`
	Occurred              time.Time `json:"occurred"`
}

// ResubmitRequest 重新提交履约的队列消息
type ResubmitRequest struct {
	OrderID     string    `json:"order_id"`
	RequestedBy string    `json:"requested_by"`
	Requested   time.Time `json:"requested"`
}
