package apikey

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Hasher computes key digests with a server-wide secret. The secret is
// loaded once at startup and never changes for the life of the process.
type Hasher struct {
	secret []byte
}

// NewHasher returns a Hasher keyed by serverSecret. An empty secret is a
// configuration fault and yields ErrMissingServerSecret.
func NewHasher(serverSecret []byte) (*Hasher, error) {
	if len(serverSecret) == 0 {
		return nil, ErrMissingServerSecret
	}
	secret := make([]byte, len(serverSecret))
	copy(secret, serverSecret)
	return &Hasher{secret: secret}, nil
}

// Hash returns hex(HMAC-SHA-256(serverSecret, publicID + ":" + secret)).
func (h *Hasher) Hash(publicID string, secret []byte) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(publicID))
	mac.Write([]byte{':'})
	mac.Write(secret)
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares two digests in time that depends only on their length.
// Length is not secret, so a mismatch there returns early.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
