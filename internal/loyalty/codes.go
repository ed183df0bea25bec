package loyalty

import (
	"crypto/rand"
	"fmt"
)

// maxCodeAttempts bounds collision-retry loops during code generation. With
// a 5+ digit space and realistic card counts, more than a couple of retries
// means something is wrong with the store, not bad luck.
const maxCodeAttempts = 10

// numericCode returns a random numeric code of the requested length.
// Customers type these by hand, so the alphabet is digits only.
func numericCode(length int) (string, error) {
	const digits = "0123456789"
	if length <= 0 {
		return "", fmt.Errorf("loyalty: code length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("loyalty: generate code: %w", err)
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = digits[int(b)%len(digits)]
	}
	return string(out), nil
}
