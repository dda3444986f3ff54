package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomToken(t *testing.T) {
	tok, err := RandomToken(32)
	require.NoError(t, err)
	assert.Len(t, tok, 64, "32 bytes hex-encode to 64 characters")

	other, err := RandomToken(32)
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	WipeBytes(b)
	assert.Equal(t, []byte{0, 0, 0, 0}, b)
}

func TestSignVerify(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	data := []byte("payload")

	tag := Sign(key, data)
	assert.True(t, VerifySignature(key, data, tag))
	assert.False(t, VerifySignature(key, []byte("payloae"), tag))

	// Flipping any bit of the tag must fail verification.
	tag[0] ^= 0x01
	assert.False(t, VerifySignature(key, data, tag))
}

func TestNormalize(t *testing.T) {
	// U+FB01 LATIN SMALL LIGATURE FI decomposes to "fi" under NFKD.
	assert.Equal(t, "fi", Normalize("ﬁ"))
}
