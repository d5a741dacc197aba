package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrInvalidSignature = errors.New("gateway: webhook signature mismatch")

// Webhook is a verified gateway notification.
type Webhook struct {
	OrderCode     int64
	Amount        int64
	Success       bool
	TransactionID string
	Description   string
}

// Sign computes the HMAC-SHA256 over the fields sorted by key and joined as
// k1=v1&k2=v2.
func Sign(key string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks the payload signature with the checksum key and
// returns the parsed notification. Nothing in the body is trusted before the
// signature matches.
func VerifyWebhook(checksumKey string, body []byte) (Webhook, error) {
	if checksumKey == "" {
		return Webhook{}, errors.New("gateway: checksum key not configured")
	}
	var payload struct {
		Code      string                     `json:"code"`
		Success   bool                       `json:"success"`
		Data      map[string]json.RawMessage `json:"data"`
		Signature string                     `json:"signature"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Webhook{}, fmt.Errorf("gateway: decode webhook: %w", err)
	}
	if payload.Signature == "" || payload.Data == nil {
		return Webhook{}, ErrInvalidSignature
	}

	fields := make(map[string]string, len(payload.Data))
	for k, raw := range payload.Data {
		fields[k] = fieldString(raw)
	}
	expected := Sign(checksumKey, fields)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(payload.Signature))) {
		return Webhook{}, ErrInvalidSignature
	}

	orderCode, err := strconv.ParseInt(fields["orderCode"], 10, 64)
	if err != nil {
		return Webhook{}, fmt.Errorf("gateway: invalid orderCode %q", fields["orderCode"])
	}
	amount, err := strconv.ParseInt(fields["amount"], 10, 64)
	if err != nil {
		return Webhook{}, fmt.Errorf("gateway: invalid amount %q", fields["amount"])
	}

	return Webhook{
		OrderCode:     orderCode,
		Amount:        amount,
		Success:       payload.Code == codeSuccess && fields["code"] == codeSuccess,
		TransactionID: fields["reference"],
		Description:   fields["description"],
	}, nil
}

// fieldString renders a JSON value the way the gateway signs it: strings
// unquoted, null as empty, numbers and bools verbatim.
func fieldString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}
