// Package webhook turns forge webhook deliveries into save requests.
//
// Adapters normalize a vendor payload into a (visit type, origin url) pair;
// the Ingestor verifies signatures, applies the per-origin cooldown and hands
// the origin to the lifecycle manager.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body, prefixed "sha256=".
const SignatureHeader = "X-Hub-Signature-256"

// Webhook errors.
var (
	// ErrIgnoredEvent marks deliveries that are valid but do not warrant a save.
	ErrIgnoredEvent   = errors.New("webhook event ignored")
	ErrInvalidPayload = errors.New("invalid webhook payload")
	ErrBadSignature   = errors.New("webhook signature mismatch")
	ErrUnknownAdapter = errors.New("unknown webhook adapter")
)

// Origin is the normalized outcome of an adapter.
type Origin struct {
	VisitType string
	OriginURL string
}

// Adapter parses one vendor's webhook format.
type Adapter interface {
	Name() string
	Parse(headers http.Header, body []byte) (Origin, error)
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the HMAC of body.
func VerifySignature(secret, header string, body []byte) error {
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok || sig == "" {
		return ErrBadSignature
	}
	if !hmac.Equal([]byte(strings.ToLower(sig)), []byte(strings.TrimPrefix(Sign(secret, body), "sha256="))) {
		return ErrBadSignature
	}
	return nil
}
