package anonymize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadableHashAlphabetClosure(t *testing.T) {
	secret := []byte("s3cret")

	t.Run("text alphabet", func(t *testing.T) {
		out := readableHash(secret, []byte("alice"), 'a', 'z', 32)
		require.Len(t, out, 32)
		for _, b := range out {
			assert.GreaterOrEqual(t, b, byte('a'))
			assert.LessOrEqual(t, b, byte('z'))
		}
	})

	t.Run("int alphabet excludes zero", func(t *testing.T) {
		out := readableHash(secret, []byte("12345"), '1', '9', 16)
		require.Len(t, out, 16)
		for _, b := range out {
			assert.GreaterOrEqual(t, b, byte('1'))
			assert.LessOrEqual(t, b, byte('9'))
		}
	})
}

func TestReadableHashLengthLaw(t *testing.T) {
	secret := []byte("k")

	assert.Len(t, readableHash(secret, []byte("x"), 'a', 'z', 8), 8)
	assert.Len(t, readableHash(secret, []byte("x"), 'a', 'z', 0), 0)
	// Requests beyond the digest size are clamped to 32.
	assert.Len(t, readableHash(secret, []byte("x"), 'a', 'z', 64), 32)
}

func TestReadableHashDeterminism(t *testing.T) {
	a := readableHash([]byte("s"), []byte("alice"), 'a', 'z', 12)
	b := readableHash([]byte("s"), []byte("alice"), 'a', 'z', 12)
	assert.Equal(t, a, b)
}

func TestReadableHashSecretSensitivity(t *testing.T) {
	a := readableHash([]byte("secret-one"), []byte("alice"), 'a', 'z', 32)
	b := readableHash([]byte("secret-two"), []byte("alice"), 'a', 'z', 32)
	assert.NotEqual(t, a, b)
}

func TestReadableHashInputSensitivity(t *testing.T) {
	a := readableHash([]byte("s"), []byte("alice"), 'a', 'z', 32)
	b := readableHash([]byte("s"), []byte("bob"), 'a', 'z', 32)
	assert.NotEqual(t, a, b)
}
