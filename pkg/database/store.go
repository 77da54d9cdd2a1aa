package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bank-sca/internal/models"
	"bank-sca/internal/storage"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the gorm-backed storage.Store. Units of work run in a single
// database transaction with the configured isolation level.
type Store struct {
	db     *gorm.DB
	txOpts *sql.TxOptions
}

// NewStore wraps db. txOpts may be nil to use the driver default.
func NewStore(db *gorm.DB, txOpts *sql.TxOptions) *Store {
	return &Store{db: db, txOpts: txOpts}
}

// Serializable is the isolation level used in production.
func Serializable() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelSerializable}
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, r storage.Repository) error) error {
	var opts []*sql.TxOptions
	if s.txOpts != nil {
		opts = append(opts, s.txOpts)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, gormRepo{db: tx})
	}, opts...)
	return classify(err)
}

func (s *Store) Accounts() storage.AccountRepository {
	return gormAccounts{db: s.db}
}

func (s *Store) Transactions() storage.TransactionRepository {
	return gormTransactions{db: s.db}
}

func (s *Store) Challenges() storage.ChallengeRepository {
	return gormChallenges{db: s.db}
}

type gormRepo struct {
	db *gorm.DB
}

func (r gormRepo) Accounts() storage.AccountRepository         { return gormAccounts(r) }
func (r gormRepo) Transactions() storage.TransactionRepository { return gormTransactions(r) }
func (r gormRepo) Challenges() storage.ChallengeRepository     { return gormChallenges(r) }

func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// conditional reports ErrNotFound or ErrConflict for an update that touched
// no rows.
func conditional(db *gorm.DB, model any, id string, res *gorm.DB) error {
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := db.Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return classify(err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

// Accounts

type gormAccounts gormRepo

func (g gormAccounts) Create(ctx context.Context, a *models.Account) error {
	return classify(g.db.WithContext(ctx).Create(accountRecord(a)).Error)
}

func (g gormAccounts) Get(ctx context.Context, id string) (*models.Account, error) {
	return g.first(g.db.WithContext(ctx), "id = ?", id)
}

func (g gormAccounts) GetForUpdate(ctx context.Context, id string) (*models.Account, error) {
	return g.first(forUpdate(g.db.WithContext(ctx)), "id = ?", id)
}

func (g gormAccounts) FindByNumber(ctx context.Context, number string) (*models.Account, error) {
	if number == "" {
		return nil, storage.ErrNotFound
	}
	return g.first(g.db.WithContext(ctx), "number = ?", number)
}

func (g gormAccounts) first(db *gorm.DB, query string, arg any) (*models.Account, error) {
	var rec Account
	if err := db.Where(query, arg).First(&rec).Error; err != nil {
		return nil, classify(err)
	}
	return rec.model(), nil
}

func (g gormAccounts) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal, seal string, at time.Time) error {
	db := g.db.WithContext(ctx)
	res := db.Model(&Account{}).Where("id = ?", id).Updates(map[string]any{
		"balance":      balance,
		"balance_seal": seal,
		"updated_at":   at,
	})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Transactions

type gormTransactions gormRepo

func (g gormTransactions) Create(ctx context.Context, t *models.Transaction) error {
	rec, err := transactionRecord(t)
	if err != nil {
		return err
	}
	return classify(g.db.WithContext(ctx).Create(rec).Error)
}

func (g gormTransactions) Get(ctx context.Context, id string) (*models.Transaction, error) {
	return g.first(g.db.WithContext(ctx), id)
}

func (g gormTransactions) GetForUpdate(ctx context.Context, id string) (*models.Transaction, error) {
	return g.first(forUpdate(g.db.WithContext(ctx)), id)
}

func (g gormTransactions) first(db *gorm.DB, id string) (*models.Transaction, error) {
	var rec Transaction
	if err := db.Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, classify(err)
	}
	return rec.model()
}

func (g gormTransactions) Update(ctx context.Context, t *models.Transaction, from models.TransactionStatus) error {
	rec, err := transactionRecord(t)
	if err != nil {
		return err
	}
	db := g.db.WithContext(ctx)
	res := db.Model(&Transaction{}).
		Where("id = ? AND status = ?", t.ID, string(from)).
		Updates(map[string]any{
			"status":         rec.Status,
			"challenge_id":   rec.ChallengeID,
			"failure_reason": rec.FailureReason,
			"note":           rec.Note,
			"completed_at":   rec.CompletedAt,
		})
	return conditional(db, &Transaction{}, t.ID, res)
}

// Challenges

type gormChallenges gormRepo

func (g gormChallenges) Create(ctx context.Context, c *models.Challenge) error {
	return classify(g.db.WithContext(ctx).Create(challengeRecord(c)).Error)
}

func (g gormChallenges) Get(ctx context.Context, id string) (*models.Challenge, error) {
	return g.first(g.db.WithContext(ctx), id)
}

func (g gormChallenges) GetForUpdate(ctx context.Context, id string) (*models.Challenge, error) {
	return g.first(forUpdate(g.db.WithContext(ctx)), id)
}

func (g gormChallenges) first(db *gorm.DB, id string) (*models.Challenge, error) {
	var rec Challenge
	if err := db.Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, classify(err)
	}
	return rec.model(), nil
}

func (g gormChallenges) FindPending(ctx context.Context, transactionID string) ([]*models.Challenge, error) {
	var recs []Challenge
	err := g.db.WithContext(ctx).
		Where("transaction_id = ? AND status = ?", transactionID, string(models.ChallengePending)).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, classify(err)
	}
	out := make([]*models.Challenge, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].model())
	}
	return out, nil
}

func (g gormChallenges) Update(ctx context.Context, c *models.Challenge, from models.ChallengeStatus) error {
	db := g.db.WithContext(ctx)
	res := db.Model(&Challenge{}).
		Where("id = ? AND status = ?", c.ID, string(from)).
		Updates(map[string]any{
			"status":      string(c.Status),
			"attempts":    c.Attempts,
			"resolved_at": c.ResolvedAt,
		})
	return conditional(db, &Challenge{}, c.ID, res)
}

func (g gormChallenges) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res := g.db.WithContext(ctx).Model(&Challenge{}).
		Where("status = ? AND expires_at < ?", string(models.ChallengePending), now).
		Updates(map[string]any{
			"status":      string(models.ChallengeExpired),
			"resolved_at": now,
		})
	if res.Error != nil {
		return 0, classify(res.Error)
	}
	return res.RowsAffected, nil
}

// Record mapping

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func accountRecord(a *models.Account) *Account {
	return &Account{
		ID:          a.ID,
		OwnerID:     a.OwnerID,
		Number:      optional(a.Number),
		Balance:     a.Balance,
		Currency:    a.Currency,
		Status:      string(a.Status),
		BalanceSeal: a.BalanceSeal,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func (r *Account) model() *models.Account {
	return &models.Account{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Number:      deref(r.Number),
		Balance:     r.Balance,
		Currency:    r.Currency,
		Status:      models.AccountStatus(r.Status),
		BalanceSeal: r.BalanceSeal,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func transactionRecord(t *models.Transaction) (*Transaction, error) {
	rec := &Transaction{
		ID:              t.ID,
		UserID:          t.UserID,
		SourceAccountID: t.SourceAccountID,
		Amount:          t.Amount,
		Currency:        t.Currency,
		Reference:       t.Reference,
		Status:          string(t.Status),
		ChallengeID:     optional(t.ChallengeID),
		FailureReason:   t.FailureReason,
		Note:            t.Note,
		CreatedAt:       t.CreatedAt,
		CompletedAt:     t.CompletedAt,
	}
	switch r := t.Recipient.(type) {
	case models.InternalRecipient:
		rec.Kind = string(models.TransferInternal)
		rec.DestinationAccountID = optional(r.DestinationAccountID)
	case models.ExternalRecipient:
		rec.Kind = string(models.TransferExternal)
		rec.RecipientAccountNumber = optional(r.AccountNumber)
	default:
		return nil, fmt.Errorf("transaction %s: %w", t.ID, models.ErrUnknownTransferKind)
	}
	return rec, nil
}

func (r *Transaction) model() (*models.Transaction, error) {
	descriptor := deref(r.DestinationAccountID)
	if models.TransferKind(r.Kind) == models.TransferExternal {
		descriptor = deref(r.RecipientAccountNumber)
	}
	recipient, err := models.NewRecipient(models.TransferKind(r.Kind), descriptor)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", r.ID, err)
	}
	return &models.Transaction{
		ID:              r.ID,
		UserID:          r.UserID,
		SourceAccountID: r.SourceAccountID,
		Amount:          r.Amount,
		Currency:        r.Currency,
		Recipient:       recipient,
		Reference:       r.Reference,
		Status:          models.TransactionStatus(r.Status),
		ChallengeID:     deref(r.ChallengeID),
		FailureReason:   r.FailureReason,
		Note:            r.Note,
		CreatedAt:       r.CreatedAt,
		CompletedAt:     r.CompletedAt,
	}, nil
}

func challengeRecord(c *models.Challenge) *Challenge {
	return &Challenge{
		ID:            c.ID,
		UserID:        c.UserID,
		TransactionID: c.TransactionID,
		CodeHash:      c.CodeHash,
		DynamicLink:   c.DynamicLink,
		Kind:          string(c.Kind),
		Status:        string(c.Status),
		Attempts:      c.Attempts,
		CreatedAt:     c.CreatedAt,
		ExpiresAt:     c.ExpiresAt,
		ResolvedAt:    c.ResolvedAt,
	}
}

func (r *Challenge) model() *models.Challenge {
	return &models.Challenge{
		ID:            r.ID,
		UserID:        r.UserID,
		TransactionID: r.TransactionID,
		CodeHash:      r.CodeHash,
		DynamicLink:   r.DynamicLink,
		Kind:          models.ChallengeKind(r.Kind),
		Status:        models.ChallengeStatus(r.Status),
		Attempts:      r.Attempts,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
		ResolvedAt:    r.ResolvedAt,
	}
}

var _ storage.Store = (*Store)(nil)
