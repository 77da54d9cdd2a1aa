// Path: internal/services/account_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bank-sca/internal/logging"
	"bank-sca/internal/models"
	"bank-sca/internal/storage"
	"bank-sca/pkg/utils"

	"github.com/shopspring/decimal"
)

// AccountService handles administrative account operations.
type AccountService interface {
	Open(ctx context.Context, ownerID, number, currency string, initial decimal.Decimal) (*models.Account, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	Credit(ctx context.Context, id string, amount decimal.Decimal) (*models.Account, error)
	Debit(ctx context.Context, id string, amount decimal.Decimal) (*models.Account, error)
}

type accountService struct {
	store  storage.Store
	sealer *BalanceSealer
	log    logging.Logger
}

// NewAccountService creates a new AccountService.
func NewAccountService(store storage.Store, sealer *BalanceSealer, log logging.Logger) AccountService {
	return &accountService{
		store:  store,
		sealer: sealer,
		log:    log.With("component", "accounts"),
	}
}

// Open creates an active account holding initial.
func (s *accountService) Open(ctx context.Context, ownerID, number, currency string, initial decimal.Decimal) (*models.Account, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, newError(ErrAccessDenied, "Owner is required", nil)
	}
	if initial.IsNegative() || !initial.Equal(initial.Round(2)) {
		return nil, newError(ErrInvalidAmount, "Initial balance must be non-negative with at most two decimal places", nil)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "EUR"
	}

	now := time.Now().UTC()
	acc := &models.Account{
		ID:        utils.GenerateID(),
		OwnerID:   ownerID,
		Number:    strings.TrimSpace(number),
		Balance:   initial,
		Currency:  currency,
		Status:    models.AccountActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	acc.BalanceSeal = s.sealer.Seal(acc.ID, acc.Balance)

	if err := s.store.Accounts().Create(ctx, acc); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, newError(ErrAccountExists, fmt.Sprintf("number: %s", acc.Number), err)
		}
		return nil, internalError("failed to create account", err)
	}

	s.log.Info(ctx, "account opened", "account_id", acc.ID, "owner_id", ownerID, "currency", currency)
	return acc, nil
}

// GetAccount loads an account and verifies its balance seal.
func (s *accountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	acc, err := s.store.Accounts().Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newError(ErrAccountNotFound, fmt.Sprintf("account_id: %s", id), nil)
	}
	if err != nil {
		return nil, internalError("failed to load account", err)
	}
	if err := s.sealer.check(acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// Credit adds amount to the account.
func (s *accountService) Credit(ctx context.Context, id string, amount decimal.Decimal) (*models.Account, error) {
	return s.adjust(ctx, id, amount)
}

// Debit removes amount from the account. The balance never goes negative.
func (s *accountService) Debit(ctx context.Context, id string, amount decimal.Decimal) (*models.Account, error) {
	return s.adjust(ctx, id, amount.Neg())
}

func (s *accountService) adjust(ctx context.Context, id string, delta decimal.Decimal) (*models.Account, error) {
	if err := validateAmount(delta.Abs()); err != nil {
		return nil, err
	}

	var out *models.Account
	err := s.store.Atomic(ctx, func(ctx context.Context, r storage.Repository) error {
		acc, err := r.Accounts().GetForUpdate(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return newError(ErrAccountNotFound, fmt.Sprintf("account_id: %s", id), nil)
		}
		if err != nil {
			return err
		}
		if err := s.sealer.check(acc); err != nil {
			return err
		}

		balance := acc.Balance.Add(delta)
		if balance.IsNegative() {
			return newError(ErrInsufficientFunds, fmt.Sprintf("account_id: %s", id), nil)
		}

		now := time.Now().UTC()
		seal := s.sealer.Seal(acc.ID, balance)
		if err := r.Accounts().UpdateBalance(ctx, acc.ID, balance, seal, now); err != nil {
			return err
		}
		acc.Balance, acc.BalanceSeal, acc.UpdatedAt = balance, seal, now
		out = acc
		return nil
	})
	if err != nil {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, internalError("failed to update balance", err)
	}

	s.log.Info(ctx, "balance adjusted", "account_id", id, "delta", delta.StringFixed(2))
	return out, nil
}
