package webhook

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment-service/models"
)

const testSecret = "whsec_test_secret"

const succeededPayload = `{
  "id": "evt_1",
  "type": "payment_intent.succeeded",
  "created": 1700000000,
  "data": {"object": {"id": "pi_123", "object": "payment_intent", "amount": 2500, "amount_received": 2500, "currency": "usd"}}
}`

func fixedNow() time.Time { return time.Unix(1700000100, 0) }

func newTestVerifier() *Verifier {
	v := NewVerifier(testSecret, 5*time.Minute)
	v.Now = fixedNow
	return v
}

func requireAuthError(t *testing.T, err error) *models.AuthenticationError {
	t.Helper()
	var authErr *models.AuthenticationError
	require.True(t, errors.As(err, &authErr), "expected AuthenticationError, got %v", err)
	return authErr
}

func TestVerifyAcceptsProviderSignature(t *testing.T) {
	body := []byte(succeededPayload)
	header := SignPayload(body, testSecret, fixedNow().Add(-time.Minute))

	verified, err := newTestVerifier().Verify(body, header)

	require.NoError(t, err)
	assert.Equal(t, body, verified.Payload)
	assert.Equal(t, fixedNow().Add(-time.Minute).Unix(), verified.Timestamp.Unix())
}

func TestVerifyRejectsTamperedByte(t *testing.T) {
	body := []byte(succeededPayload)
	header := SignPayload(body, testSecret, fixedNow())

	for _, i := range []int{0, len(body) / 2, len(body) - 1} {
		tampered := append([]byte(nil), body...)
		tampered[i] ^= 0x01

		_, err := newTestVerifier().Verify(tampered, header)

		assert.Equal(t, "signature mismatch", requireAuthError(t, err).Reason, "byte %d", i)
	}
}

func TestVerifyRejectsReserializedJSON(t *testing.T) {
	body := []byte(succeededPayload)
	header := SignPayload(body, testSecret, fixedNow())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	reserialized, err := json.Marshal(decoded)
	require.NoError(t, err)
	require.NotEqual(t, body, reserialized)

	_, err = newTestVerifier().Verify(reserialized, header)

	requireAuthError(t, err)
}

func TestVerifyRejectsBadHeaders(t *testing.T) {
	body := []byte(succeededPayload)
	valid := SignPayload(body, testSecret, fixedNow())
	sig := valid[strings.Index(valid, "v1="):]

	tests := []struct {
		name   string
		header string
		reason string
	}{
		{"missing", "", "missing signature header"},
		{"no equals", "garbage", "malformed signature header"},
		{"bad timestamp", "t=abc," + sig, "malformed signature timestamp"},
		{"no timestamp", sig, "signature header has no timestamp"},
		{"no signature", "t=1700000100", "signature header has no v1 signature"},
		{"non hex signature", "t=1700000100,v1=zz", "signature header has no v1 signature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestVerifier().Verify(body, tt.header)
			assert.Equal(t, tt.reason, requireAuthError(t, err).Reason)
		})
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	body := []byte(succeededPayload)
	header := SignPayload(body, "whsec_other", fixedNow())

	_, err := newTestVerifier().Verify(body, header)

	requireAuthError(t, err)
}

func TestVerifyReplayWindow(t *testing.T) {
	body := []byte(succeededPayload)

	_, err := newTestVerifier().Verify(body, SignPayload(body, testSecret, fixedNow().Add(-10*time.Minute)))
	assert.Equal(t, "timestamp outside tolerance window", requireAuthError(t, err).Reason)

	_, err = newTestVerifier().Verify(body, SignPayload(body, testSecret, fixedNow().Add(10*time.Minute)))
	requireAuthError(t, err)

	// tolerance 为 0 时不检查时间戳
	_, err = Verify(body, SignPayload(body, testSecret, fixedNow().Add(-24*time.Hour)), testSecret)
	assert.NoError(t, err)
}

func TestVerifyAcceptsAnyMatchingSignature(t *testing.T) {
	body := []byte(succeededPayload)
	good := SignPayload(body, testSecret, fixedNow())
	header := good[:strings.Index(good, ",")] + ",v1=" + strings.Repeat("ab", 32) + good[strings.Index(good, ","):]

	_, err := newTestVerifier().Verify(body, header)

	assert.NoError(t, err)
}

func TestVerifyWithoutSecret(t *testing.T) {
	body := []byte(succeededPayload)

	_, err := Verify(body, SignPayload(body, "", fixedNow()), "")

	assert.Equal(t, "no signing secret configured", requireAuthError(t, err).Reason)
}

func TestDecodeSucceeded(t *testing.T) {
	event, err := (&VerifiedEvent{Payload: []byte(succeededPayload)}).Decode()

	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, models.PaymentSucceeded, event.Type)
	assert.Equal(t, "pi_123", event.PaymentReference)
	assert.Equal(t, int64(2500), event.AmountCents)
	assert.Equal(t, "usd", event.Currency)
	assert.Equal(t, int64(1700000000), event.Created.Unix())
}

func TestDecodeFailed(t *testing.T) {
	payload := `{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_9","amount":1000,"last_payment_error":{"message":"card declined"}}}}`

	event, err := (&VerifiedEvent{Payload: []byte(payload)}).Decode()

	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, event.Type)
	assert.Equal(t, "pi_9", event.PaymentReference)
	assert.Equal(t, "card declined", event.FailureMessage)
}

func TestDecodeUnknownTypeIsOther(t *testing.T) {
	payload := `{"id":"evt_3","type":"charge.refunded","data":{"object":{"weird":true}}}`

	event, err := (&VerifiedEvent{Payload: []byte(payload)}).Decode()

	require.NoError(t, err)
	assert.Equal(t, models.PaymentOther, event.Type)
	assert.Equal(t, "charge.refunded", event.RawType)
}

func TestDecodeRejectsMalformedShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"not json", `{"id":`, ""},
		{"no id", `{"type":"payment_intent.succeeded"}`, "id"},
		{"no type", `{"id":"evt"}`, "type"},
		{"no object", `{"id":"evt","type":"payment_intent.succeeded","data":{}}`, "data.object"},
		{"object wrong shape", `{"id":"evt","type":"payment_intent.succeeded","data":{"object":[1,2]}}`, "data.object"},
		{"object wrong kind", `{"id":"evt","type":"payment_intent.succeeded","data":{"object":{"id":"ch_1","object":"charge"}}}`, "data.object.object"},
		{"no intent id", `{"id":"evt","type":"payment_intent.succeeded","data":{"object":{"amount":5}}}`, "data.object.id"},
		{"negative amount", `{"id":"evt","type":"payment_intent.succeeded","data":{"object":{"id":"pi","amount":-5}}}`, "data.object.amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&VerifiedEvent{Payload: []byte(tt.payload)}).Decode()
			var vErr *models.ValidationError
			require.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}
