// Package webhook 校验支付回调签名并解析为支付事件
//
// 签名格式与 Stripe 相同: 请求头带 unix 时间戳和一个或多个 v1 签名,
// 每个签名是以端点密钥对 "<timestamp>.<原始请求体>" 做的 HMAC-SHA256 (hex)
// 必须对收到的原始字节验签, 重新编码后的 JSON 无法通过
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fulfillment-service/models"
)

const SignatureHeader = "Stripe-Signature"

const signatureScheme = "v1"

// VerifiedEvent 签名已通过校验的报文
type VerifiedEvent struct {
	Payload   []byte
	Timestamp time.Time
}

type Verifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

// NewVerifier tolerance 为重放窗口, 为 0 时不检查时间戳
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{Secret: secret, Tolerance: tolerance, Now: time.Now}
}

func (v *Verifier) Verify(rawBody []byte, header string) (*VerifiedEvent, error) {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	return verify(rawBody, header, v.Secret, v.Tolerance, now())
}

// Verify 只校验签名, 不检查重放窗口
func Verify(rawBody []byte, header, secret string) (*VerifiedEvent, error) {
	return verify(rawBody, header, secret, 0, time.Time{})
}

func verify(rawBody []byte, header, secret string, tolerance time.Duration, now time.Time) (*VerifiedEvent, error) {
	if secret == "" {
		return nil, &models.AuthenticationError{Reason: "no signing secret configured"}
	}
	if strings.TrimSpace(header) == "" {
		return nil, &models.AuthenticationError{Reason: "missing signature header"}
	}

	ts, signatures, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	expected := computeSignature(ts, rawBody, secret)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			matched = true
		}
	}
	if !matched {
		return nil, &models.AuthenticationError{Reason: "signature mismatch"}
	}

	if tolerance > 0 {
		age := now.Sub(ts)
		if age > tolerance || -age > tolerance {
			return nil, &models.AuthenticationError{Reason: "timestamp outside tolerance window"}
		}
	}

	return &VerifiedEvent{Payload: rawBody, Timestamp: ts}, nil
}

func parseHeader(header string) (time.Time, [][]byte, error) {
	var (
		ts         time.Time
		haveTS     bool
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return time.Time{}, nil, &models.AuthenticationError{Reason: "malformed signature header"}
		}
		switch key {
		case "t":
			unix, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return time.Time{}, nil, &models.AuthenticationError{Reason: "malformed signature timestamp"}
			}
			ts = time.Unix(unix, 0)
			haveTS = true
		case signatureScheme:
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if !haveTS {
		return time.Time{}, nil, &models.AuthenticationError{Reason: "signature header has no timestamp"}
	}
	if len(signatures) == 0 {
		return time.Time{}, nil, &models.AuthenticationError{Reason: "signature header has no v1 signature"}
	}
	return ts, signatures, nil
}

func computeSignature(ts time.Time, payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignPayload 生成与支付方一致的签名头, 用于测试和本地回放事件
func SignPayload(payload []byte, secret string, ts time.Time) string {
	return fmt.Sprintf("t=%d,%s=%s", ts.Unix(), signatureScheme,
		hex.EncodeToString(computeSignature(ts, payload, secret)))
}
