package services

import (
	"fmt"

	"bank-sca/pkg/utils"

	"golang.org/x/crypto/bcrypt"
)

// Comparator compares two secrets. Implementations must run in time
// independent of where the inputs differ.
type Comparator func(a, b string) bool

// CodeHasher turns a TAN into the one-way value stored on the challenge.
type CodeHasher interface {
	Hash(code string) (string, error)
	Verify(hash, code string) bool
}

type hmacHasher struct {
	key   []byte
	equal Comparator
}

// NewHMACHasher hashes codes with HMAC-SHA256 under key and compares digests
// with equal.
func NewHMACHasher(key []byte, equal Comparator) CodeHasher {
	if equal == nil {
		equal = utils.ConstantTimeEqual
	}
	return &hmacHasher{key: key, equal: equal}
}

func (h *hmacHasher) Hash(code string) (string, error) {
	return utils.CreateHMAC(code, h.key), nil
}

func (h *hmacHasher) Verify(hash, code string) bool {
	return h.equal(utils.CreateHMAC(code, h.key), hash)
}

type bcryptHasher struct {
	cost int
}

// NewBCryptHasher stores codes as bcrypt hashes. Comparison is done by
// bcrypt itself.
func NewBCryptHasher(cost int) CodeHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost}
}

func (h *bcryptHasher) Hash(code string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(code), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}
	return string(b), nil
}

func (h *bcryptHasher) Verify(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// NewCodeHasher picks the hasher named by TAN_HASHER.
func NewCodeHasher(name string, key []byte, equal Comparator) (CodeHasher, error) {
	switch name {
	case "", "hmac":
		return NewHMACHasher(key, equal), nil
	case "bcrypt":
		return NewBCryptHasher(0), nil
	default:
		return nil, fmt.Errorf("unknown code hasher %q", name)
	}
}
