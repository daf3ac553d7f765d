package anonymize

import (
	"crypto/hmac"
	"crypto/sha256"
)

// readableHash maps an HMAC-SHA256 digest of token into the printable
// alphabet [begin, end]. Each of the first n digest bytes b becomes
// (b mod (end-begin+1)) + begin, so the output is stable for a given
// (secret, token) pair and uniformly distributed over the alphabet.
// n is clamped to the digest size (32).
func readableHash(secret, token []byte, begin, end byte, n int) []byte {
	if n > sha256.Size {
		n = sha256.Size
	}
	if n < 0 {
		n = 0
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(token)
	digest := mac.Sum(nil)

	out := make([]byte, n)
	span := int(end) - int(begin) + 1
	for i := 0; i < n; i++ {
		out[i] = byte(int(digest[i])%span + int(begin))
	}
	return out
}
