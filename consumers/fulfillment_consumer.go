package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"fulfillment-service/config"
	"fulfillment-service/fulfillment"
	"fulfillment-service/models"
)

const handleTimeout = time.Minute

type Resubmitter interface {
	Submit(ctx context.Context, orderID string) (fulfillment.SubmitResult, error)
}

// StartFulfillmentConsumer 消费重新提交队列和死信队列, 直到 ctx 取消或通道关闭
func StartFulfillmentConsumer(ctx context.Context, ch *amqp.Channel, cfg *config.Config, submitter Resubmitter, logger *slog.Logger) error {
	logger = logger.With("component", "consumer")

	// 每次只取一条, 提交是串行的外部调用
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(
		cfg.FulfillmentQueue,
		"fulfillment-service", // consumer tag
		false,                 // auto-ack
		false,                 // exclusive
		false,                 // no-local
		false,                 // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("register resubmit consumer: %w", err)
	}

	dlqMsgs, err := ch.Consume(
		cfg.DeadLetterQueue,
		"fulfillment-service-dlq",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register dead letter consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Warn("resubmit queue closed")
					return
				}
				processResubmitMessage(ctx, msg, submitter, logger)
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-dlqMsgs:
				if !ok {
					return
				}
				processDeadLetterMessage(msg, logger)
			}
		}
	}()

	return nil
}

// processResubmitMessage 有最终结果的请求 ack, 其余进入死信队列由运维处理
func processResubmitMessage(ctx context.Context, msg amqp.Delivery, submitter Resubmitter, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered from panic in message processing", "panic", r)
			_ = msg.Nack(false, false)
		}
	}()

	var req models.ResubmitRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil || req.OrderID == "" {
		logger.Warn("invalid resubmit message", "body", string(msg.Body))
		_ = msg.Nack(false, false)
		return
	}

	log := logger.With("order_id", req.OrderID, "requested_by", req.RequestedBy)
	handleCtx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()
	res, err := submitter.Submit(handleCtx, req.OrderID)

	var incErr *models.InconsistentStateError
	switch {
	case err == nil:
		log.Info("resubmission handled", "external_fulfillment_id", res.ExternalFulfillmentID, "already_submitted", res.AlreadySubmitted)
		_ = msg.Ack(false)
	case errors.As(err, &incErr),
		errors.Is(err, models.ErrAlreadySubmitted),
		errors.Is(err, models.ErrPaymentNotCaptured),
		errors.Is(err, models.ErrOrderNotFound):
		log.Warn("resubmission not applied", "error", err)
		_ = msg.Ack(false)
	default:
		log.Error("resubmission failed", "error", err)
		_ = msg.Nack(false, false)
	}
}

func processDeadLetterMessage(msg amqp.Delivery, logger *slog.Logger) {
	var reason any
	if deaths, ok := msg.Headers["x-death"].([]any); ok && len(deaths) > 0 {
		if death, ok := deaths[0].(amqp.Table); ok {
			reason = death["reason"]
		}
	}
	logger.Error("dead-lettered fulfillment message", "body", string(msg.Body), "reason", reason)
	_ = msg.Ack(false)
}
