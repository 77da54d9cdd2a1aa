// Package storage defines the persistence port used by the services: three
// repositories (accounts, transactions, challenges) and one atomic
// unit-of-work primitive. Implementations live in this package (memory) and
// in pkg/database (gorm).
package storage

import (
	"context"
	"errors"
	"time"

	"bank-sca/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	// ErrConflict is returned by conditional updates whose precondition no
	// longer holds.
	ErrConflict = errors.New("conditional update conflict")
	// ErrTransient marks failures that may succeed when the whole unit of
	// work is retried (serialization failures, deadlocks, lost connections).
	ErrTransient = errors.New("transient storage failure")
)

type AccountRepository interface {
	Create(ctx context.Context, a *models.Account) error
	Get(ctx context.Context, id string) (*models.Account, error)
	// GetForUpdate reads the account and holds a row lock until the
	// enclosing unit of work ends.
	GetForUpdate(ctx context.Context, id string) (*models.Account, error)
	FindByNumber(ctx context.Context, number string) (*models.Account, error)
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal, seal string, at time.Time) error
}

type TransactionRepository interface {
	Create(ctx context.Context, t *models.Transaction) error
	Get(ctx context.Context, id string) (*models.Transaction, error)
	GetForUpdate(ctx context.Context, id string) (*models.Transaction, error)
	// Update persists t only if the stored status still equals from.
	Update(ctx context.Context, t *models.Transaction, from models.TransactionStatus) error
}

type ChallengeRepository interface {
	Create(ctx context.Context, c *models.Challenge) error
	Get(ctx context.Context, id string) (*models.Challenge, error)
	GetForUpdate(ctx context.Context, id string) (*models.Challenge, error)
	// FindPending lists the pending challenges of a transaction, oldest first.
	FindPending(ctx context.Context, transactionID string) ([]*models.Challenge, error)
	// Update persists c only if the stored status still equals from.
	Update(ctx context.Context, c *models.Challenge, from models.ChallengeStatus) error
	// ExpirePending flips every pending challenge whose expiry is before now
	// to expired and returns how many were changed.
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}

type Repository interface {
	Accounts() AccountRepository
	Transactions() TransactionRepository
	Challenges() ChallengeRepository
}

// Store is a Repository plus an atomic unit of work. Inside fn only the
// Repository passed to fn may be used; fn's error rolls everything back.
type Store interface {
	Repository
	Atomic(ctx context.Context, fn func(ctx context.Context, r Repository) error) error
}
