package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"fulfillment-service/config"
	"fulfillment-service/models"
)

type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Cfg     *config.Config
}

func NewRabbitMQ(cfg *config.Config) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &RabbitMQ{
		Conn:    conn,
		Channel: ch,
		Cfg:     cfg,
	}, nil
}

// DeadLetterExchange 被拒绝的重新提交消息路由到这里
func DeadLetterExchange(cfg *config.Config) string {
	return cfg.DeadLetterQueue + "_exchange"
}

func (r *RabbitMQ) SetupQueues() error {
	// 死信交换机和队列
	if err := r.Channel.ExchangeDeclare(
		DeadLetterExchange(r.Cfg),
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return err
	}

	if _, err := r.Channel.QueueDeclare(
		r.Cfg.DeadLetterQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-queue-type": "classic"},
	); err != nil {
		return err
	}

	if err := r.Channel.QueueBind(
		r.Cfg.DeadLetterQueue,
		r.Cfg.DeadLetterQueue,
		DeadLetterExchange(r.Cfg),
		false,
		nil,
	); err != nil {
		return err
	}

	// 运维告警: fanout, 任何订阅者都能收到
	if err := r.Channel.ExchangeDeclare(
		r.Cfg.AlertExchange,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}

	if _, err := r.Channel.QueueDeclare(
		r.Cfg.AlertQueue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}

	if err := r.Channel.QueueBind(r.Cfg.AlertQueue, "", r.Cfg.AlertExchange, false, nil); err != nil {
		return err
	}

	// 重新提交履约的队列, 失败消息进入死信队列
	_, err := r.Channel.QueueDeclare(
		r.Cfg.FulfillmentQueue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    DeadLetterExchange(r.Cfg),
			"x-dead-letter-routing-key": r.Cfg.DeadLetterQueue,
		},
	)
	return err
}

func (r *RabbitMQ) PublishAlert(ctx context.Context, alert models.Alert) error {
	return r.publishJSON(ctx, r.Cfg.AlertExchange, "", string(alert.Kind), alert)
}

// PublishResubmit 投递重新提交履约请求
func (r *RabbitMQ) PublishResubmit(ctx context.Context, req models.ResubmitRequest) error {
	return r.publishJSON(ctx, "", r.Cfg.FulfillmentQueue, "resubmit", req)
}

func (r *RabbitMQ) publishJSON(ctx context.Context, exchange, key, msgType string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msgType, err)
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		Type:         msgType,
		Body:         body,
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.Channel.PublishWithContext(ctx,
		exchange,
		key,
		false, // mandatory
		false, // immediate
		msg,
	)
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		_ = r.Channel.Close()
	}
	if r.Conn != nil {
		_ = r.Conn.Close()
	}
}
