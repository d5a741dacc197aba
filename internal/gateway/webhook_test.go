package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedBody(t *testing.T, key string, data map[string]any) []byte {
	t.Helper()
	fields := map[string]string{}
	for k, v := range data {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		fields[k] = fieldString(raw)
	}
	body, err := json.Marshal(map[string]any{
		"code":      "00",
		"success":   true,
		"data":      data,
		"signature": Sign(key, fields),
	})
	require.NoError(t, err)
	return body
}

func TestVerifyWebhookAcceptsValidSignature(t *testing.T) {
	body := signedBody(t, "secret", map[string]any{
		"orderCode":          100001,
		"amount":             150000,
		"code":               "00",
		"reference":          "FT-1",
		"description":        "Deposit",
		"counterAccountName": nil,
	})

	wh, err := VerifyWebhook("secret", body)
	require.NoError(t, err)
	assert.Equal(t, int64(100001), wh.OrderCode)
	assert.Equal(t, int64(150000), wh.Amount)
	assert.Equal(t, "FT-1", wh.TransactionID)
	assert.True(t, wh.Success)
}

func TestVerifyWebhookRejectsTampering(t *testing.T) {
	body := signedBody(t, "secret", map[string]any{"orderCode": 1, "amount": 1000, "code": "00", "reference": "x"})

	_, err := VerifyWebhook("other-secret", body)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	payload["data"].(map[string]any)["amount"] = 1
	tampered, _ := json.Marshal(payload)
	_, err = VerifyWebhook("secret", tampered)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyWebhookFailedPayment(t *testing.T) {
	body := signedBody(t, "secret", map[string]any{"orderCode": 5, "amount": 1000, "code": "01", "reference": "x"})
	wh, err := VerifyWebhook("secret", body)
	require.NoError(t, err)
	assert.False(t, wh.Success)
}
