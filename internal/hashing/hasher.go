// Package hashing pseudonymises identifiers and verifies webhook signatures.
package hashing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Hasher derives stable, salted digests so raw phone numbers are never stored.
type Hasher struct {
	salt []byte
}

func New(salt string) (*Hasher, error) {
	if strings.TrimSpace(salt) == "" {
		return nil, errors.New("hashing: salt must not be empty")
	}
	return &Hasher{salt: []byte(salt)}, nil
}

// Hash returns the hex HMAC-SHA256 of value keyed by the salt.
func (h *Hasher) Hash(value string) string {
	mac := hmac.New(sha256.New, h.salt)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a Meta "X-Hub-Signature-256" header (sha256=<hex>)
// against body signed with the app secret.
func VerifySignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok || secret == "" {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Sign returns the header value VerifySignature accepts for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
