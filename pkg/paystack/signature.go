package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"

	"github.com/tasknest/tasknest/pkg/billing"
)

// SignatureHeader carries the webhook HMAC
const SignatureHeader = "x-paystack-signature"

// Sign returns the hex HMAC-SHA512 of payload under secret
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against payload in constant time
func VerifySignature(secret string, payload []byte, signature string) error {
	if secret == "" || signature == "" {
		return billing.ErrInvalidSignature
	}
	expected := Sign(secret, payload)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return billing.ErrInvalidSignature
	}
	return nil
}
