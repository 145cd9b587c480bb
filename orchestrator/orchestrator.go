// Package orchestrator 把已验签的支付事件应用到订单
//
// 防止重复投递和并发投递只依赖订单行上的条件更新:
// 谁把订单从 created 改走, 后续处理就归谁
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fulfillment-service/fulfillment"
	"fulfillment-service/middlewares"
	"fulfillment-service/models"
)

type Store interface {
	GetOrderByPaymentReference(ctx context.Context, ref string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	TransitionStatus(ctx context.Context, id string, from, to models.OrderStatus) (bool, error)
	MarkPaymentFailed(ctx context.Context, id, detail string) (bool, error)
}

// Fulfiller 提交调用方已抢到 payment_succeeded 的订单
type Fulfiller interface {
	SubmitClaimed(ctx context.Context, orderID string) (fulfillment.SubmitResult, error)
}

type Action string

const (
	ActionIgnored              Action = "ignored"
	ActionOrderNotFound        Action = "order_not_found"
	ActionDuplicate            Action = "duplicate"
	ActionPaymentFailed        Action = "payment_failed"
	ActionAmountMismatch       Action = "amount_mismatch"
	ActionFulfillmentSubmitted Action = "fulfillment_submitted"
	ActionFulfillmentFailed    Action = "fulfillment_failed"
	ActionNotFulfillable       Action = "not_fulfillable"
	ActionInconsistentState    Action = "inconsistent_state"
	ActionError                Action = "error"
)

// Outcome Handle 的处理结果; Err 仅用于日志和指标, 除非 Retryable 否则事件都会被确认
type Outcome struct {
	Action                Action
	OrderID               string
	ExternalFulfillmentID string
	Err                   error
	// 本地依赖失败且订单未变更, 可以安全重发
	Retryable bool
}

type Orchestrator struct {
	store     Store
	fulfiller Fulfiller
	alerts    fulfillment.AlertPublisher
	logger    *slog.Logger
}

func New(store Store, fulfiller Fulfiller, alerts fulfillment.AlertPublisher, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		fulfiller: fulfiller,
		alerts:    alerts,
		logger:    logger.With("component", "orchestrator"),
	}
}

func (o *Orchestrator) Handle(ctx context.Context, event models.PaymentEvent) Outcome {
	out := o.handle(ctx, event)
	middlewares.RecordWebhookEvent(string(event.Type), string(out.Action))

	log := o.logger.With("event_id", event.ID, "event_type", event.RawType,
		"payment_reference", event.PaymentReference, "action", out.Action)
	if out.OrderID != "" {
		log = log.With("order_id", out.OrderID)
	}
	switch out.Action {
	case ActionError, ActionInconsistentState:
		log.Error("payment event not fully applied", "error", out.Err, "retryable", out.Retryable)
	case ActionAmountMismatch, ActionFulfillmentFailed, ActionNotFulfillable, ActionOrderNotFound:
		log.Warn("payment event acknowledged with problem", "error", out.Err)
	default:
		log.Info("payment event handled")
	}
	return out
}

func (o *Orchestrator) handle(ctx context.Context, event models.PaymentEvent) Outcome {
	if event.Type != models.PaymentSucceeded && event.Type != models.PaymentFailed {
		return Outcome{Action: ActionIgnored}
	}

	order, err := o.store.GetOrderByPaymentReference(ctx, event.PaymentReference)
	if errors.Is(err, models.ErrOrderNotFound) {
		return Outcome{Action: ActionOrderNotFound, Err: err}
	}
	if err != nil {
		return Outcome{Action: ActionError, Err: fmt.Errorf("look up order: %w", err), Retryable: true}
	}

	if order.Status != models.StatusCreated {
		return Outcome{Action: ActionDuplicate, OrderID: order.ID}
	}

	if event.Type == models.PaymentFailed {
		return o.paymentFailed(ctx, order, event)
	}
	return o.paymentSucceeded(ctx, order, event)
}

func (o *Orchestrator) paymentFailed(ctx context.Context, order *models.Order, event models.PaymentEvent) Outcome {
	detail := event.FailureMessage
	if detail == "" {
		detail = "payment failed"
	}
	marked, err := o.store.MarkPaymentFailed(ctx, order.ID, detail)
	if err != nil {
		return Outcome{Action: ActionError, OrderID: order.ID, Err: fmt.Errorf("mark payment failed: %w", err), Retryable: true}
	}
	if !marked {
		return Outcome{Action: ActionDuplicate, OrderID: order.ID}
	}
	return Outcome{Action: ActionPaymentFailed, OrderID: order.ID}
}

func (o *Orchestrator) paymentSucceeded(ctx context.Context, order *models.Order, event models.PaymentEvent) Outcome {
	items, err := o.store.GetOrderItems(ctx, order.ID)
	if err != nil {
		return Outcome{Action: ActionError, OrderID: order.ID, Err: fmt.Errorf("load items: %w", err), Retryable: true}
	}

	if err := checkAmount(order, items, event); err != nil {
		o.alert(ctx, models.Alert{Kind: models.AlertAmountMismatch, OrderID: order.ID, Detail: err.Error()})
		return Outcome{Action: ActionAmountMismatch, OrderID: order.ID, Err: err}
	}

	claimed, err := o.store.TransitionStatus(ctx, order.ID, models.StatusCreated, models.StatusPaymentSucceeded)
	if err != nil {
		return Outcome{Action: ActionError, OrderID: order.ID, Err: fmt.Errorf("claim order: %w", err), Retryable: true}
	}
	if !claimed {
		return Outcome{Action: ActionDuplicate, OrderID: order.ID}
	}

	res, err := o.fulfiller.SubmitClaimed(ctx, order.ID)
	var incErr *models.InconsistentStateError
	switch {
	case errors.As(err, &incErr):
		return Outcome{Action: ActionInconsistentState, OrderID: order.ID, ExternalFulfillmentID: incErr.ExternalFulfillmentID, Err: err}
	case errors.Is(err, models.ErrNoFulfillableItems):
		return Outcome{Action: ActionNotFulfillable, OrderID: order.ID, Err: err}
	case err != nil:
		return Outcome{Action: ActionFulfillmentFailed, OrderID: order.ID, Err: err}
	}
	return Outcome{Action: ActionFulfillmentSubmitted, OrderID: order.ID, ExternalFulfillmentID: res.ExternalFulfillmentID}
}

// checkAmount 实收金额、订单总额、订单项合计必须一致
func checkAmount(order *models.Order, items []models.OrderItem, event models.PaymentEvent) error {
	total := models.ItemsTotalCents(items)
	if total != order.AmountCents {
		return &models.ValidationError{Field: "amount",
			Reason: fmt.Sprintf("order total %d does not match its items %d", order.AmountCents, total)}
	}
	if event.AmountCents != order.AmountCents {
		return &models.ValidationError{Field: "amount",
			Reason: fmt.Sprintf("captured %d but order total is %d", event.AmountCents, order.AmountCents)}
	}
	if event.Currency != "" && order.Currency != "" && !strings.EqualFold(event.Currency, order.Currency) {
		return &models.ValidationError{Field: "currency",
			Reason: fmt.Sprintf("captured in %s but order is in %s", event.Currency, order.Currency)}
	}
	return nil
}

func (o *Orchestrator) alert(ctx context.Context, a models.Alert) {
	a.Occurred = time.Now().UTC()
	if o.alerts == nil {
		o.logger.Warn("operator alert", "kind", a.Kind, "order_id", a.OrderID, "detail", a.Detail)
		return
	}
	if err := o.alerts.PublishAlert(ctx, a); err != nil {
		o.logger.Error("failed to publish operator alert", "kind", a.Kind, "order_id", a.OrderID, "error", err)
	}
}
