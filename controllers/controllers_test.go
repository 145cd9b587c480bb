package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment-service/catalog"
	"fulfillment-service/fulfillment"
	"fulfillment-service/middlewares"
	"fulfillment-service/models"
	"fulfillment-service/orchestrator"
	"fulfillment-service/repository"
	"fulfillment-service/stripe"
	"fulfillment-service/utils"
	"fulfillment-service/webhook"
)

const (
	testWebhookSecret = "whsec_test"
	testJWTSecret     = "jwt_test"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *fakeProvider) CreateOrder(context.Context, models.FulfillmentPayload) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("PF-%d", p.calls), nil
}

type fakePayments struct {
	err     error
	orderID string
	amount  int64
}

func (f *fakePayments) CreatePaymentIntent(_ context.Context, orderID string, amount int64, _ string) (*stripe.PaymentIntent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.orderID, f.amount = orderID, amount
	return &stripe.PaymentIntent{ID: "pi_" + orderID, ClientSecret: "secret_" + orderID, Amount: amount}, nil
}

type fakeQueue struct {
	got []models.ResubmitRequest
}

func (q *fakeQueue) PublishResubmit(_ context.Context, req models.ResubmitRequest) error {
	q.got = append(q.got, req)
	return nil
}

type fakeSyncer struct {
	res catalog.Result
	err error
}

func (s fakeSyncer) Sync(context.Context) (catalog.Result, error) { return s.res, s.err }

type server struct {
	engine    *gin.Engine
	store     *repository.MemoryGateway
	provider  *fakeProvider
	payments  *fakePayments
	queue     *fakeQueue
	productID int64
}

func newServer(t *testing.T) *server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &server{
		store:    repository.NewMemoryGateway(),
		provider: &fakeProvider{},
		payments: &fakePayments{},
		queue:    &fakeQueue{},
	}
	var err error
	s.productID, err = s.store.UpsertProduct(context.Background(), models.Product{
		ExternalCatalogID: "V-9", Name: "Tee", PriceCents: 2500, Active: true,
	})
	require.NoError(t, err)

	submitter := fulfillment.NewSubmitter(s.store, s.provider, nil, logger)
	orch := orchestrator.New(s.store, submitter, nil, logger)
	s.engine = Router{
		Webhook:   NewWebhookController(webhook.NewVerifier(testWebhookSecret, 5*time.Minute), orch, 1<<16, logger),
		Checkout:  NewCheckoutController(s.store, s.payments, "USD", logger),
		Orders:    NewOrderController(s.store, submitter, s.queue, logger),
		Catalog:   NewCatalogController(s.store, fakeSyncer{res: catalog.Result{Listed: 3, ProductsUpserted: 2, Skipped: 1}}, logger),
		JWTSecret: testJWTSecret,
		Limiter:   middlewares.NewIPRateLimiter(100, 100),
	}.Engine()
	return s
}

func (s *server) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func adminHeader(t *testing.T) http.Header {
	t.Helper()
	token, err := utils.IssueToken("ops", testJWTSecret, time.Hour)
	require.NoError(t, err)
	return http.Header{"Authorization": {"Bearer " + token}}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

const shippingJSON = `{"name":"Ada","address1":"1 Main St","city":"Springfield","country_code":"US","zip":"62701"}`

func (s *server) checkout(t *testing.T, quantity int) string {
	t.Helper()
	body := fmt.Sprintf(`{"items":[{"product_id":%d,"quantity":%d}],"shipping":%s}`, s.productID, quantity, shippingJSON)
	w := s.do(t, http.MethodPost, "/api/checkout", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["order_id"].(string)
}

func signedEvent(eventType, intentID string, amount int64) ([]byte, http.Header) {
	body := []byte(fmt.Sprintf(`{"id":"evt_%s","type":%q,"created":%d,"data":{"object":{"id":%q,"object":"payment_intent","amount":%d,"currency":"usd"}}}`,
		intentID, eventType, time.Now().Unix(), intentID, amount))
	return body, http.Header{webhook.SignatureHeader: {webhook.SignPayload(body, testWebhookSecret, time.Now())}}
}

func TestCheckoutThenWebhookSubmitsFulfillment(t *testing.T) {
	s := newServer(t)
	orderID := s.checkout(t, 2)
	assert.Equal(t, int64(5000), s.payments.amount)

	body, header := signedEvent("payment_intent.succeeded", "pi_"+orderID, 5000)
	w := s.do(t, http.MethodPost, "/webhooks/stripe", string(body), header)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["received"])
	order, err := s.store.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFulfillmentSubmitted, order.Status)
	assert.Equal(t, "PF-1", order.ExternalFulfillmentID)

	again := s.do(t, http.MethodPost, "/webhooks/stripe", string(body), header)
	assert.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, 1, s.provider.calls)
}

func TestWebhookRejections(t *testing.T) {
	s := newServer(t)
	body, header := signedEvent("payment_intent.succeeded", "pi_x", 100)

	var reencoded bytes.Buffer
	require.NoError(t, json.Indent(&reencoded, body, "", "  "))

	tests := []struct {
		name   string
		method string
		body   string
		header http.Header
		want   int
	}{
		{"wrong method", http.MethodGet, "", header, http.StatusMethodNotAllowed},
		{"no signature", http.MethodPost, string(body), nil, http.StatusBadRequest},
		{"reserialized body", http.MethodPost, reencoded.String(), header, http.StatusBadRequest},
		{"too large", http.MethodPost, strings.Repeat("x", 1<<17), header, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, "/webhooks/stripe", tt.body, tt.header)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestWebhookMalformedEvent(t *testing.T) {
	s := newServer(t)
	body := []byte(`{"type":"payment_intent.succeeded"}`)
	header := http.Header{webhook.SignatureHeader: {webhook.SignPayload(body, testWebhookSecret, time.Now())}}

	w := s.do(t, http.MethodPost, "/webhooks/stripe", string(body), header)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "malformed event", decode(t, w)["error"])
}

func TestWebhookAcknowledgesUnknownTypeAndOrder(t *testing.T) {
	s := newServer(t)
	for _, eventType := range []string{"charge.refunded", "payment_intent.succeeded"} {
		body, header := signedEvent(eventType, "pi_unknown", 100)
		w := s.do(t, http.MethodPost, "/webhooks/stripe", string(body), header)
		assert.Equal(t, http.StatusOK, w.Code, eventType)
	}
}

func TestWebhookAcknowledgesFulfillmentFailure(t *testing.T) {
	s := newServer(t)
	s.provider.err = &models.UpstreamError{Provider: "printful", Op: "create order", StatusCode: 500}
	orderID := s.checkout(t, 1)

	body, header := signedEvent("payment_intent.succeeded", "pi_"+orderID, 2500)
	w := s.do(t, http.MethodPost, "/webhooks/stripe", string(body), header)

	assert.Equal(t, http.StatusOK, w.Code)
	order, err := s.store.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFulfillmentFailed, order.Status)
}

func TestCheckoutValidation(t *testing.T) {
	s := newServer(t)
	inactive, err := s.store.UpsertProduct(context.Background(), models.Product{ExternalCatalogID: "V-1", Name: "Old", PriceCents: 100})
	require.NoError(t, err)

	tests := map[string]string{
		"empty cart":       `{"items":[],"shipping":` + shippingJSON + `}`,
		"zero quantity":    fmt.Sprintf(`{"items":[{"product_id":%d,"quantity":0}],"shipping":%s}`, s.productID, shippingJSON),
		"unknown product":  `{"items":[{"product_id":999,"quantity":1}],"shipping":` + shippingJSON + `}`,
		"inactive product": fmt.Sprintf(`{"items":[{"product_id":%d,"quantity":1}],"shipping":%s}`, inactive, shippingJSON),
		"no address":       fmt.Sprintf(`{"items":[{"product_id":%d,"quantity":1}],"shipping":{}}`, s.productID),
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/checkout", body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestCheckoutPaymentProviderDown(t *testing.T) {
	s := newServer(t)
	s.payments.err = &models.UpstreamError{Provider: "stripe", Op: "create payment intent", StatusCode: 503}

	body := fmt.Sprintf(`{"items":[{"product_id":%d,"quantity":1}],"shipping":%s}`, s.productID, shippingJSON)
	w := s.do(t, http.MethodPost, "/api/checkout", body, nil)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "503")
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s := newServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/orders/x", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/api/catalog/sync", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/orders/x", "", adminHeader(t)).Code)
}

func TestGetOrderDetails(t *testing.T) {
	s := newServer(t)
	orderID := s.checkout(t, 3)

	w := s.do(t, http.MethodGet, "/api/orders/"+orderID, "", adminHeader(t))

	require.Equal(t, http.StatusOK, w.Code)
	var resp models.OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusCreated, resp.Status)
	assert.Equal(t, int64(7500), resp.AmountCents)
	assert.Equal(t, "pi_"+orderID, resp.PaymentReference)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 3, resp.Items[0].Quantity)
}

func TestResubmitFulfillment(t *testing.T) {
	s := newServer(t)
	s.provider.err = errors.New("connection refused")
	orderID := s.checkout(t, 1)
	body, header := signedEvent("payment_intent.succeeded", "pi_"+orderID, 2500)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/webhooks/stripe", string(body), header).Code)

	notPaid := s.checkout(t, 1)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/orders/"+notPaid+"/fulfillment", "", adminHeader(t)).Code)

	s.provider.err = nil
	w := s.do(t, http.MethodPost, "/api/orders/"+orderID+"/fulfillment", "", adminHeader(t))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "PF-2", decode(t, w)["external_fulfillment_id"])

	again := s.do(t, http.MethodPost, "/api/orders/"+orderID+"/fulfillment", "", adminHeader(t))
	assert.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, true, decode(t, again)["already_submitted"])
	assert.Equal(t, 2, s.provider.calls)
}

func TestResubmitAsyncQueues(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/api/orders/O9/fulfillment?async=true", "", adminHeader(t))

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, s.queue.got, 1)
	assert.Equal(t, "O9", s.queue.got[0].OrderID)
	assert.Equal(t, "ops", s.queue.got[0].RequestedBy)
}

func TestReleaseOrder(t *testing.T) {
	s := newServer(t)
	orderID := s.checkout(t, 1)

	w := s.do(t, http.MethodPost, "/api/orders/"+orderID+"/release", "", adminHeader(t))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestProductsAndSync(t *testing.T) {
	s := newServer(t)
	_, err := s.store.UpsertProduct(context.Background(), models.Product{ExternalCatalogID: "V-2", Name: "Hidden", PriceCents: 100})
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/products", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var products []models.Product
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &products))
	require.Len(t, products, 1)
	assert.Equal(t, "Tee", products[0].Name)

	synced := s.do(t, http.MethodPost, "/api/catalog/sync", "", adminHeader(t))
	require.Equal(t, http.StatusOK, synced.Code)
	assert.Equal(t, float64(2), decode(t, synced)["products_upserted"])
}
