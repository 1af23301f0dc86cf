// Package webhooks covers the trigger credential: token generation and shape
// validation, plus the optional HMAC signature check.
package webhooks

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"regexp"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

var tokenShapeRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// GenerateToken returns a 256-bit URL-safe trigger token.
func GenerateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// ValidTokenShape gates the public trigger path before any database lookup.
func ValidTokenShape(token string) bool {
	return tokenShapeRE.MatchString(token)
}

// Sign computes the hex HMAC-SHA256 a sender should place in the signature
// header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a presented signature in constant time. An optional
// "sha256=" prefix is tolerated.
func VerifySignature(secret string, body []byte, signature string) bool {
	if len(signature) > 7 && signature[:7] == "sha256=" {
		signature = signature[7:]
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
