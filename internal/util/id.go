package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a short URL-safe hex id, used for request correlation.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
