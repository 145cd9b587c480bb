package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fulfillment-service/middlewares"
	"fulfillment-service/models"
)

type Store interface {
	OrderReader
	TransitionStatus(ctx context.Context, id string, from, to models.OrderStatus) (bool, error)
	MarkFulfillmentSubmitted(ctx context.Context, id, externalID string) error
	MarkFulfillmentFailed(ctx context.Context, id, detail string) (bool, error)
}

// Provider 在履约供应商创建订单并返回其单号
type Provider interface {
	CreateOrder(ctx context.Context, payload models.FulfillmentPayload) (string, error)
}

type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert models.Alert) error
}

type SubmitResult struct {
	ExternalFulfillmentID string `json:"external_fulfillment_id"`
	AlreadySubmitted      bool   `json:"already_submitted"`
}

type Submitter struct {
	store     Store
	assembler *Assembler
	provider  Provider
	alerts    AlertPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewSubmitter alerts 可以为 nil, 此时告警只写日志
func NewSubmitter(store Store, provider Provider, alerts AlertPublisher, logger *slog.Logger) *Submitter {
	return &Submitter{
		store:     store,
		assembler: NewAssembler(store, logger),
		provider:  provider,
		alerts:    alerts,
		logger:    logger.With("component", "submitter"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit 操作员重新提交履约
//
// fulfillment_submitted: 直接返回已保存的单号, 不调用供应商
// fulfillment_failed: 先条件更新回 payment_succeeded, 抢不到返回 models.ErrAlreadySubmitted
// payment_succeeded: 已被其他处理者占有, 视为处理中
func (s *Submitter) Submit(ctx context.Context, orderID string) (SubmitResult, error) {
	log := s.logger.With("order_id", orderID)

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return SubmitResult{}, err
	}

	switch order.Status {
	case models.StatusFulfillmentSubmitted:
		log.Info("fulfillment already submitted", "external_fulfillment_id", order.ExternalFulfillmentID)
		middlewares.RecordFulfillmentSubmission("already_submitted")
		return SubmitResult{ExternalFulfillmentID: order.ExternalFulfillmentID, AlreadySubmitted: true}, nil
	case models.StatusPaymentSucceeded:
		middlewares.RecordFulfillmentSubmission("already_submitted")
		return SubmitResult{}, models.ErrAlreadySubmitted
	case models.StatusFulfillmentFailed:
	default:
		middlewares.RecordFulfillmentSubmission("rejected")
		return SubmitResult{}, models.ErrPaymentNotCaptured
	}

	payload, err := s.assemble(ctx, log, orderID)
	if err != nil {
		return SubmitResult{}, err
	}

	claimed, err := s.store.TransitionStatus(ctx, orderID, models.StatusFulfillmentFailed, models.StatusPaymentSucceeded)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("claim order %s for resubmission: %w", orderID, err)
	}
	if !claimed {
		middlewares.RecordFulfillmentSubmission("already_submitted")
		return SubmitResult{}, models.ErrAlreadySubmitted
	}
	log.Info("resubmitting failed fulfillment", "previous_error", order.FailureDetail)

	return s.send(ctx, log, orderID, payload)
}

// SubmitClaimed 提交调用方刚通过条件更新改为 payment_succeeded 的订单
// 占有这次状态变更保证了本调用是该订单唯一的提交者
// 无法生成履约请求时放弃占有, 改为 fulfillment_failed, 之后可用 Submit 重试
func (s *Submitter) SubmitClaimed(ctx context.Context, orderID string) (SubmitResult, error) {
	log := s.logger.With("order_id", orderID)

	payload, err := s.assemble(ctx, log, orderID)
	if err != nil {
		s.abandonClaim(ctx, log, orderID, err)
		return SubmitResult{}, err
	}
	return s.send(ctx, log, orderID, payload)
}

// Release 把卡在 payment_succeeded 的订单改为 fulfillment_failed, 以便 Submit 重试
// 供应商拒绝重复的 external_id, 即使原提交仍在进行也不会重复发货
func (s *Submitter) Release(ctx context.Context, orderID, reason string) error {
	released, err := s.store.MarkFulfillmentFailed(ctx, orderID, reason)
	if err != nil {
		return fmt.Errorf("release order %s: %w", orderID, err)
	}
	if !released {
		return models.ErrStatusConflict
	}
	s.logger.Warn("order released for resubmission", "order_id", orderID, "reason", reason)
	return nil
}

func (s *Submitter) assemble(ctx context.Context, log *slog.Logger, orderID string) (*models.FulfillmentPayload, error) {
	payload, err := s.assembler.Assemble(ctx, orderID)
	if err != nil {
		if errors.Is(err, models.ErrNoFulfillableItems) {
			log.Error("order has nothing to fulfill")
			s.alert(ctx, models.Alert{Kind: models.AlertNoFulfillableItems, OrderID: orderID, Detail: err.Error()})
		}
		middlewares.RecordFulfillmentSubmission("rejected")
		return nil, err
	}
	return payload, nil
}

// abandonClaim 记录已占有订单的组装失败; 此时还没调用供应商, 可以安全地从 fulfillment_failed 重新提交
func (s *Submitter) abandonClaim(ctx context.Context, log *slog.Logger, orderID string, cause error) {
	writeCtx := context.WithoutCancel(ctx)
	marked, err := s.store.MarkFulfillmentFailed(writeCtx, orderID, cause.Error())
	switch {
	case err != nil:
		log.Error("could not record assembly failure", "error", err, "cause", cause)
	case !marked:
		log.Warn("order changed while assembly failed", "cause", cause)
	default:
		log.Warn("fulfillment assembly failed", "error", cause)
	}

	// 空订单在 assemble 中已经告警
	if !errors.Is(cause, models.ErrNoFulfillableItems) {
		s.alert(writeCtx, models.Alert{Kind: models.AlertFulfillmentFailed, OrderID: orderID, Detail: cause.Error()})
	}
}

func (s *Submitter) send(ctx context.Context, log *slog.Logger, orderID string, payload *models.FulfillmentPayload) (SubmitResult, error) {
	externalID, err := s.provider.CreateOrder(ctx, *payload)
	if err != nil {
		return SubmitResult{}, s.recordFailure(ctx, log, orderID, err)
	}

	// 供应商已接单, 调用方断开也要完成本地记录
	writeCtx := context.WithoutCancel(ctx)
	if err := s.store.MarkFulfillmentSubmitted(writeCtx, orderID, externalID); err != nil {
		if current, rerr := s.store.GetOrder(writeCtx, orderID); rerr == nil && current.ExternalFulfillmentID == externalID {
			log.Warn("fulfillment id already recorded", "external_fulfillment_id", externalID)
		} else {
			return SubmitResult{}, s.recordInconsistency(writeCtx, log, orderID, externalID, err)
		}
	}

	log.Info("fulfillment submitted", "external_fulfillment_id", externalID, "items", len(payload.Items))
	middlewares.RecordFulfillmentSubmission("submitted")
	return SubmitResult{ExternalFulfillmentID: externalID}, nil
}

func (s *Submitter) recordFailure(ctx context.Context, log *slog.Logger, orderID string, cause error) error {
	var upErr *models.UpstreamError
	if !errors.As(cause, &upErr) {
		upErr = &models.UpstreamError{Provider: "fulfillment", Op: "create order", Err: cause}
	}

	writeCtx := context.WithoutCancel(ctx)
	marked, err := s.store.MarkFulfillmentFailed(writeCtx, orderID, upErr.Error())
	switch {
	case err != nil:
		log.Error("could not record fulfillment failure", "error", err, "cause", upErr)
	case !marked:
		log.Warn("order changed while submission failed", "cause", upErr)
	default:
		log.Warn("fulfillment submission failed", "error", upErr)
	}

	middlewares.RecordFulfillmentSubmission("failed")
	s.alert(writeCtx, models.Alert{Kind: models.AlertFulfillmentFailed, OrderID: orderID, Detail: upErr.Error()})
	return upErr
}

func (s *Submitter) recordInconsistency(ctx context.Context, log *slog.Logger, orderID, externalID string, cause error) error {
	incErr := &models.InconsistentStateError{OrderID: orderID, ExternalFulfillmentID: externalID, Err: cause}
	log.Error("provider accepted order but local state was not updated",
		"external_fulfillment_id", externalID, "error", cause)
	middlewares.RecordInconsistentState()
	middlewares.RecordFulfillmentSubmission("inconsistent")
	s.alert(ctx, models.Alert{
		Kind:                  models.AlertInconsistentState,
		OrderID:               orderID,
		ExternalFulfillmentID: externalID,
		Detail:                incErr.Error(),
	})
	return incErr
}

func (s *Submitter) alert(ctx context.Context, a models.Alert) {
	a.Occurred = s.now()
	if s.alerts == nil {
		s.logger.Warn("operator alert", "kind", a.Kind, "order_id", a.OrderID, "detail", a.Detail)
		return
	}
	if err := s.alerts.PublishAlert(ctx, a); err != nil {
		s.logger.Error("failed to publish operator alert", "kind", a.Kind, "order_id", a.OrderID, "error", err)
	}
}
