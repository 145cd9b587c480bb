package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment-service/models"
)

func TestCreatePaymentIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "checkout-O1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "2500", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		assert.Equal(t, "O1", r.PostForm.Get("metadata[order_id]"))
		fmt.Fprint(w, `{"id":"pi_1","client_secret":"pi_1_secret_x","amount":2500,"currency":"usd","status":"requires_payment_method"}`)
	}))
	defer srv.Close()

	intent, err := NewClient(srv.URL, "sk_test", time.Second).CreatePaymentIntent(context.Background(), "O1", 2500, "USD")

	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ID)
	assert.Equal(t, "pi_1_secret_x", intent.ClientSecret)
}

func TestCreatePaymentIntentAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"Amount must be at least 50 cents"}}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "sk_test", time.Second).CreatePaymentIntent(context.Background(), "O1", 10, "usd")

	var upErr *models.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusBadRequest, upErr.StatusCode)
	assert.Equal(t, "Amount must be at least 50 cents", upErr.Body)
}

func TestCreatePaymentIntentTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(srv.URL, "sk_test", 50*time.Millisecond).CreatePaymentIntent(context.Background(), "O1", 2500, "usd")

	var upErr *models.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Zero(t, upErr.StatusCode)
}
