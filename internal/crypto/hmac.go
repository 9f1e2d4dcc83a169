package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the API credentials of a venue swap API.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret, raw
}

// Headers returns the HTTP headers for an authenticated venue request.
// The signature is HMAC-SHA256(secret, timestamp+method+path+body) encoded
// as base64. Without a secret only the key header is returned.
//
// Returned header keys:
//   - X-API-Key
//   - X-API-Timestamp
//   - X-API-Signature
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	out := make(map[string]string, 3)
	if h.Key != "" {
		out["X-API-Key"] = h.Key
	}
	if h.Secret == "" {
		return out
	}

	ts := strconv.FormatInt(unixTS, 10)
	out["X-API-Timestamp"] = ts
	out["X-API-Signature"] = hmacSHA256Base64([]byte(h.Secret), ts+method+path+body)
	return out
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
