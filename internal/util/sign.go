package util

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Sign computes the HMAC-SHA256 tag of data under key.
func Sign(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifySignature reports whether tag is a valid HMAC-SHA256 tag for data
// under key. The comparison is constant-time.
func VerifySignature(key, data, tag []byte) bool {
	return hmac.Equal(tag, Sign(key, data))
}
