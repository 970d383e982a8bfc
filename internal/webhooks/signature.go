package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const sigPrefix = "sha256="

// SignHMAC returns the X-Signature value for body: "sha256=" followed by
// the lowercase hex HMAC-SHA256 under secret.
func SignHMAC(secret string, body []byte) string {
	return sigPrefix + hex.EncodeToString(mac(secret, body))
}

// VerifyHMAC checks a value produced by SignHMAC. The prefix is optional
// so receivers can pass either form.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(provided, sigPrefix))
	if err != nil {
		return false
	}
	return hmac.Equal(mac(secret, body), got)
}

func mac(secret string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return h.Sum(nil)
}
