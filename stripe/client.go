// Package stripe 下单时创建支付意图; Stripe 回调由 webhook 包处理
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fulfillment-service/middlewares"
	"fulfillment-service/models"
)

const (
	providerName   = "stripe"
	defaultBaseURL = "https://api.stripe.com"
	defaultTimeout = 10 * time.Second
)

type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		http:      &http.Client{Timeout: timeout},
	}
}

type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreatePaymentIntent 为订单创建金额为 amountCents 的支付意图
// 订单号写入 metadata 并作为幂等键, 重试不会创建第二个支付意图
func (c *Client) CreatePaymentIntent(ctx context.Context, orderID string, amountCents int64, currency string) (*PaymentIntent, error) {
	const op = "create payment intent"

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", strings.ToLower(currency))
	form.Set("metadata[order_id]", orderID)
	form.Set("automatic_payment_methods[enabled]", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", "checkout-"+orderID)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		middlewares.RecordUpstreamCall(providerName, op, "error", started)
		return nil, &models.UpstreamError{Provider: providerName, Op: op, Err: err}
	}
	defer resp.Body.Close()
	middlewares.RecordUpstreamCall(providerName, op, strconv.Itoa(resp.StatusCode), started)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &models.UpstreamError{Provider: providerName, Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := http.StatusText(resp.StatusCode)
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			detail = apiErr.Error.Message
		}
		return nil, &models.UpstreamError{Provider: providerName, Op: op, StatusCode: resp.StatusCode, Body: detail}
	}

	var intent PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, &models.UpstreamError{Provider: providerName, Op: op, StatusCode: resp.StatusCode, Body: "response is not valid JSON", Err: err}
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return nil, &models.UpstreamError{Provider: providerName, Op: op, StatusCode: resp.StatusCode, Body: "response has no intent id or client secret"}
	}
	return &intent, nil
}
