// Package webhooks authenticates and decodes Airtable webhook
// notifications. It has no persistence of its own; the core service owns
// what happens to a decoded notification.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// HeaderContentMAC is the request header carrying the notification MAC.
const HeaderContentMAC = "X-Airtable-Content-MAC"

// macPrefix is an optional scheme prefix some deliveries carry.
const macPrefix = "hmac-sha256="

var (
	ErrSignatureMismatch = errors.New("webhooks: content MAC does not match body")
	ErrMissingSignature  = errors.New("webhooks: content MAC header is missing")
)

// MACVerifier checks the X-Airtable-Content-MAC header: an HMAC-SHA256 of
// the raw request body, base64 encoded, keyed with the webhook MAC secret
// issued at subscription time.
type MACVerifier struct {
	secret []byte
}

func NewMACVerifier(secret string) (*MACVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("webhooks: MAC secret is required")
	}
	return &MACVerifier{secret: []byte(secret)}, nil
}

// Verify recomputes the MAC over rawBody and compares it to the header in
// constant time. The body must be the exact bytes received on the wire;
// re-serialized JSON will not match.
func (v *MACVerifier) Verify(rawBody []byte, signatureHeader string) error {
	if v == nil || len(v.secret) == 0 {
		return fmt.Errorf("webhooks: verifier is not configured")
	}
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" {
		return ErrMissingSignature
	}
	signatureHeader = strings.TrimPrefix(signatureHeader, macPrefix)

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(signatureHeader)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}
