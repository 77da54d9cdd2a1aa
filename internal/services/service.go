package services

import (
	"crypto/sha256"
	"fmt"
	"io"

	"bank-sca/internal/models"
	"bank-sca/pkg/utils"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/hkdf"
)

// Keys are the purpose-bound keys derived from the SCA master secret. No key
// is ever used for more than one of these purposes.
type Keys struct {
	Code    []byte
	Link    []byte
	Balance []byte
}

const keySize = 32

// DeriveKeys expands secret into independent keys with HKDF-SHA256.
func DeriveKeys(secret string) (Keys, error) {
	if secret == "" {
		return Keys{}, fmt.Errorf("empty SCA secret")
	}
	var k Keys
	for _, p := range []struct {
		info string
		dst  *[]byte
	}{
		{"bank-sca/tan-code", &k.Code},
		{"bank-sca/dynamic-link", &k.Link},
		{"bank-sca/balance-seal", &k.Balance},
	} {
		buf := make([]byte, keySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(p.info)), buf); err != nil {
			return Keys{}, fmt.Errorf("derive %s key: %w", p.info, err)
		}
		*p.dst = buf
	}
	return k, nil
}

// BalanceSealer computes the integrity HMAC stored next to every balance.
type BalanceSealer struct {
	key []byte
}

func NewBalanceSealer(key []byte) *BalanceSealer {
	return &BalanceSealer{key: key}
}

func (s *BalanceSealer) Seal(accountID string, balance decimal.Decimal) string {
	return utils.CreateHMAC(fmt.Sprintf("%s:%s", balance.StringFixed(2), accountID), s.key)
}

// Verify reports whether the account's stored seal matches its balance.
func (s *BalanceSealer) Verify(a *models.Account) bool {
	return utils.ConstantTimeEqual(a.BalanceSeal, s.Seal(a.ID, a.Balance))
}

func (s *BalanceSealer) check(a *models.Account) error {
	if !s.Verify(a) {
		return newError(ErrIntegrityViolation, fmt.Sprintf("account_id: %s", a.ID), nil)
	}
	return nil
}
