package util

import (
	"crypto/sha256"
	"encoding/hex"
)

func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ShortHash — первые 12 символов SHA256Hex, для логов.
func ShortHash(b []byte) string {
	return SHA256Hex(b)[:12]
}
