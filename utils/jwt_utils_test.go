package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken("ops@example.com", "s3cret", time.Hour)
	require.NoError(t, err)

	subject, err := ParseToken(token, "s3cret")

	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", subject)
}

func TestParseTokenRejects(t *testing.T) {
	valid, err := IssueToken("ops", "s3cret", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken("ops", "s3cret", -time.Minute)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: tokenIssuer, Subject: "ops"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer: "someone-else", Subject: "ops", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer: tokenIssuer, Subject: "ops", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]struct {
		token  string
		secret string
	}{
		"wrong secret":   {valid, "other"},
		"expired":        {expired, "s3cret"},
		"no expiry":      {noExpiry, "s3cret"},
		"wrong issuer":   {wrongIssuer, "s3cret"},
		"alg none":       {unsigned, "s3cret"},
		"garbage":        {"not.a.token", "s3cret"},
		"missing secret": {valid, ""},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret)
			assert.Error(t, err)
		})
	}
}
