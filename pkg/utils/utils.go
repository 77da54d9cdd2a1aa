// Path: pkg/utils/utils.go
package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

var ten = big.NewInt(10)

// GenerateNumericCode returns a string of length decimal digits, each drawn
// independently and uniformly from 0-9 using crypto/rand.
func GenerateNumericCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid code length: %d", length)
	}
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to read random digit: %w", err)
		}
		b[i] = byte('0' + n.Int64())
	}
	return string(b), nil
}

// CreateHMAC creates an HMAC-SHA256 hash of the given data.
func CreateHMAC(data string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// ConstantTimeEqual reports whether a and b are equal without leaking where
// they first differ.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateID generates a unique record ID.
func GenerateID() string {
	return uuid.NewString()
}
