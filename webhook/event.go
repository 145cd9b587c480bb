package webhook

import (
	"bytes"
	"encoding/json"
	"time"

	"fulfillment-service/models"
)

const (
	eventPaymentIntentSucceeded = "payment_intent.succeeded"
	eventPaymentIntentFailed    = "payment_intent.payment_failed"
)

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type paymentIntent struct {
	ID               string `json:"id"`
	Object           string `json:"object"`
	Amount           int64  `json:"amount"`
	AmountReceived   int64  `json:"amount_received"`
	Currency         string `json:"currency"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// Decode 把已验签的报文解析为事件; 未知类型直接返回 models.PaymentOther, 不解析 object
func (e *VerifiedEvent) Decode() (models.PaymentEvent, error) {
	var raw stripeEvent
	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	if err := dec.Decode(&raw); err != nil {
		return models.PaymentEvent{}, &models.ValidationError{Reason: "event is not valid JSON"}
	}
	if raw.ID == "" {
		return models.PaymentEvent{}, &models.ValidationError{Field: "id", Reason: "missing"}
	}
	if raw.Type == "" {
		return models.PaymentEvent{}, &models.ValidationError{Field: "type", Reason: "missing"}
	}

	event := models.PaymentEvent{
		ID:      raw.ID,
		RawType: raw.Type,
		Type:    models.PaymentOther,
	}
	if raw.Created > 0 {
		event.Created = time.Unix(raw.Created, 0).UTC()
	}

	switch raw.Type {
	case eventPaymentIntentSucceeded:
		event.Type = models.PaymentSucceeded
	case eventPaymentIntentFailed:
		event.Type = models.PaymentFailed
	default:
		return event, nil
	}

	if len(raw.Data.Object) == 0 {
		return models.PaymentEvent{}, &models.ValidationError{Field: "data.object", Reason: "missing"}
	}
	var intent paymentIntent
	if err := json.Unmarshal(raw.Data.Object, &intent); err != nil {
		return models.PaymentEvent{}, &models.ValidationError{Field: "data.object", Reason: "not a payment intent"}
	}
	if intent.Object != "" && intent.Object != "payment_intent" {
		return models.PaymentEvent{}, &models.ValidationError{Field: "data.object.object", Reason: "unexpected " + intent.Object}
	}
	if intent.ID == "" {
		return models.PaymentEvent{}, &models.ValidationError{Field: "data.object.id", Reason: "missing"}
	}
	if intent.Amount < 0 || intent.AmountReceived < 0 {
		return models.PaymentEvent{}, &models.ValidationError{Field: "data.object.amount", Reason: "negative"}
	}

	event.PaymentReference = intent.ID
	event.Currency = intent.Currency
	event.AmountCents = intent.Amount
	if intent.AmountReceived > 0 {
		event.AmountCents = intent.AmountReceived
	}
	if intent.LastPaymentError != nil {
		event.FailureMessage = intent.LastPaymentError.Message
	}
	return event, nil
}
