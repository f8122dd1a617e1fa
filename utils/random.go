package utils

import (
	"crypto/rand"
	"encoding/hex"
)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// tokenCutoff is the largest multiple of len(tokenAlphabet) that fits in a byte.
// Bytes at or above it are discarded so every character is equally likely.
const tokenCutoff = 256 - 256%len(tokenAlphabet)

// GenerateToken returns n uniformly random alphanumeric characters.
func GenerateToken(n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n+n/4+1)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= tokenCutoff {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// GenerateRandomHex returns n random bytes hex encoded. Job ids use n=16.
func GenerateRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
