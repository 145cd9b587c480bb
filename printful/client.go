// Package printful Printful REST API 客户端: 读取商品目录、创建订单
// 每次调用都有超时, 并共享同一个限流器
package printful

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"fulfillment-service/middlewares"
	"fulfillment-service/models"
)

const (
	providerName     = "printful"
	defaultBaseURL   = "https://api.printful.com"
	defaultTimeout   = 15 * time.Second
	listPageSize     = 100
	maxErrorBodySize = 512
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	confirm bool
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithRateLimit 每秒 perSecond 次, 突发为 1; 小于等于 0 时不限流
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithConfirm 创建订单时直接确认履约, 否则只生成草稿
func WithConfirm(confirm bool) Option {
	return func(c *Client) { c.confirm = confirm }
}

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Code   int             `json:"code"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	} `json:"error"`
	Paging *struct {
		Total  int `json:"total"`
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	} `json:"paging"`
}

func (c *Client) do(ctx context.Context, op, method, path string, body any) (*envelope, error) {
	upstreamErr := func(status int, detail string, err error) error {
		return &models.UpstreamError{Provider: providerName, Op: op, StatusCode: status, Body: detail, Err: err}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, upstreamErr(0, "", err)
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		middlewares.RecordUpstreamCall(providerName, op, "error", started)
		return nil, upstreamErr(0, "", err)
	}
	defer resp.Body.Close()
	middlewares.RecordUpstreamCall(providerName, op, strconv.Itoa(resp.StatusCode), started)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, upstreamErr(0, "", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamErr(resp.StatusCode, errorDetail(raw), nil)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, upstreamErr(resp.StatusCode, "response is not valid JSON", err)
	}
	return &env, nil
}

func errorDetail(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBodySize {
		s = s[:maxErrorBodySize]
	}
	return s
}

func decodeResult(op string, env *envelope, dst any) error {
	if len(env.Result) == 0 {
		return &models.UpstreamError{Provider: providerName, Op: op, Body: "response has no result"}
	}
	if err := json.Unmarshal(env.Result, dst); err != nil {
		return &models.UpstreamError{Provider: providerName, Op: op, Body: "unexpected result shape", Err: err}
	}
	return nil
}
