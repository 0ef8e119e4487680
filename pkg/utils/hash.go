package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint identifies a text independent of surrounding whitespace.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:16])
}
