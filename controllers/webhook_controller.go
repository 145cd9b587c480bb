package controllers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"fulfillment-service/middlewares"
	"fulfillment-service/models"
	"fulfillment-service/orchestrator"
	"fulfillment-service/webhook"
)

type EventHandler interface {
	Handle(ctx context.Context, event models.PaymentEvent) orchestrator.Outcome
}

type WebhookController struct {
	verifier *webhook.Verifier
	events   EventHandler
	maxBytes int64
	logger   *slog.Logger
}

func NewWebhookController(verifier *webhook.Verifier, events EventHandler, maxBytes int64, logger *slog.Logger) *WebhookController {
	return &WebhookController{
		verifier: verifier,
		events:   events,
		maxBytes: maxBytes,
		logger:   logger.With("component", "webhook"),
	}
}

// HandleStripe 先对原始请求体验签再解析
// 合法事件一律返回 200; 仅当本地故障导致事件完全未处理时返回 500, 让 Stripe 重发
func (w *WebhookController) HandleStripe(c *gin.Context) {
	// 读取原始请求体, 限制大小
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, w.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middlewares.RecordWebhookEvent("unknown", "rejected_size")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read body"})
		return
	}

	// 验证签名
	verified, err := w.verifier.Verify(body, c.GetHeader(webhook.SignatureHeader))
	if err != nil {
		w.logger.Warn("rejected webhook", "error", err, "remote_ip", c.ClientIP())
		middlewares.RecordWebhookEvent("unknown", "rejected_signature")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	// 解析事件
	event, err := verified.Decode()
	if err != nil {
		w.logger.Warn("malformed webhook event", "error", err)
		middlewares.RecordWebhookEvent("unknown", "rejected_malformed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}

	// 处理事件, 只有可重试的本地故障返回 500
	out := w.events.Handle(c.Request.Context(), event)
	if out.Retryable {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "temporarily unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
