package services

import (
	"crypto/rand"
	"fmt"
)

// keyAlphabet omits 0/O and 1/I so codes survive being read aloud or retyped.
const keyAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// randomChars returns n characters drawn uniformly from keyAlphabet.
func randomChars(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		// len(keyAlphabet) divides 256, so the mask keeps the draw uniform.
		buf[i] = keyAlphabet[b&byte(len(keyAlphabet)-1)]
	}
	return string(buf), nil
}
