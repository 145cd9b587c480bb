package models

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrProductNotFound    = errors.New("product not found")
	ErrNoFulfillableItems = errors.New("order has no fulfillable items")
	ErrAlreadySubmitted   = errors.New("fulfillment already submitted or in progress")
	ErrPaymentNotCaptured = errors.New("order payment has not succeeded")
	ErrStatusConflict     = errors.New("order status changed concurrently")
)

// AuthenticationError 无法证明来自支付方的请求
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// ValidationError 事件格式错误或订单数据不一致
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// UpstreamError 外部服务返回非成功状态或无法访问
type UpstreamError struct {
	Provider   string
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Op, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s %s failed", e.Provider, e.Op)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// InconsistentStateError 供应商已接单但本地未能记录
// 必须通知运维, 且绝不能触发重新提交
type InconsistentStateError struct {
	OrderID               string
	ExternalFulfillmentID string
	Err                   error
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("order %s submitted as %s but not recorded locally: %v",
		e.OrderID, e.ExternalFulfillmentID, e.Err)
}

func (e *InconsistentStateError) Unwrap() error { return e.Err }
