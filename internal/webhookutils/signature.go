// Package webhookutils verifies helpdesk webhook deliveries.
package webhookutils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

const (
	SignatureHeader          = "X-Zendesk-Webhook-Signature"
	SignatureTimestampHeader = "X-Zendesk-Webhook-Signature-Timestamp"
)

var (
	ErrMissingSignature = errors.New("webhook signature headers missing")
	ErrBadSignature     = errors.New("webhook signature mismatch")
)

// GetHeaderCaseInsensitive retrieves a header value using case-insensitive key matching.
// Relays that flatten headers into a map do not keep Go's canonical casing.
func GetHeaderCaseInsensitive(headers map[string]string, key string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Sign returns the base64 HMAC-SHA256 of timestamp followed by body.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a delivery against the webhook signing secret.
func VerifySignature(secret string, header http.Header, body []byte) error {
	flat := make(map[string]string, len(header))
	for k, v := range header {
		if len(v) > 0 {
			flat[k] = v[0]
		}
	}
	return VerifyFlatSignature(secret, flat, body)
}

// VerifyFlatSignature is VerifySignature for headers already flattened to a map.
func VerifyFlatSignature(secret string, headers map[string]string, body []byte) error {
	sig, ok := GetHeaderCaseInsensitive(headers, SignatureHeader)
	if !ok || sig == "" {
		return ErrMissingSignature
	}
	ts, ok := GetHeaderCaseInsensitive(headers, SignatureTimestampHeader)
	if !ok || ts == "" {
		return ErrMissingSignature
	}
	if !hmac.Equal([]byte(sig), []byte(Sign(secret, ts, body))) {
		return ErrBadSignature
	}
	return nil
}
