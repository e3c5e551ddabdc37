package utils

import (
	"crypto/rand"
	"errors"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// RandomCode returns n characters drawn uniformly from [0-9A-Za-z] using
// crypto/rand. Used for invitation, verification and reset codes as well
// as temporary passwords.
func RandomCode(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("code length must be positive")
	}
	// largest multiple of len(codeAlphabet) below 256, to avoid modulo bias
	limit := byte(256 - 256%len(codeAlphabet))
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
