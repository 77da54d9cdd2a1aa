// Path: pkg/database/database.go
package database

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Account represents an account in the database.
type Account struct {
	ID          string          `gorm:"primaryKey;type:varchar(64)"`
	OwnerID     string          `gorm:"index;not null"`
	Number      *string         `gorm:"uniqueIndex"`
	Balance     decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	Currency    string          `gorm:"type:varchar(3);not null"`
	Status      string          `gorm:"not null"`
	BalanceSeal string          `gorm:"not null"`
	CreatedAt   time.Time       `gorm:"not null"`
	UpdatedAt   time.Time       `gorm:"not null"`
}

// Transaction represents a transfer in the database. Exactly one of
// DestinationAccountID and RecipientAccountNumber is set, matching Kind.
type Transaction struct {
	ID                     string          `gorm:"primaryKey;type:varchar(64)"`
	UserID                 string          `gorm:"index;not null"`
	SourceAccountID        string          `gorm:"index;not null"`
	Amount                 decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Currency               string          `gorm:"type:varchar(3);not null"`
	Kind                   string          `gorm:"not null"`
	DestinationAccountID   *string
	RecipientAccountNumber *string
	Reference              string
	Status                 string  `gorm:"index;not null"`
	ChallengeID            *string `gorm:"index"`
	FailureReason          string
	Note                   string
	CreatedAt              time.Time `gorm:"not null"`
	CompletedAt            *time.Time
}

// Challenge represents a TAN challenge in the database. Rows are kept after
// resolution for audit.
type Challenge struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)"`
	UserID        string    `gorm:"index;not null"`
	TransactionID string    `gorm:"index;not null"`
	CodeHash      string    `gorm:"not null"`
	DynamicLink   string    `gorm:"not null"`
	Kind          string    `gorm:"not null"`
	Status        string    `gorm:"index;not null"`
	Attempts      int       `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"not null"`
	ExpiresAt     time.Time `gorm:"index;not null"`
	ResolvedAt    *time.Time
}

// InitDB initializes the database and creates tables if they don't exist.
func InitDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	return db, nil
}

// createTables creates the necessary tables in the database.
func createTables(db *gorm.DB) error {
	err := db.AutoMigrate(&Account{}, &Transaction{}, &Challenge{})
	if err != nil {
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}

	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
