package database

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"bank-sca/internal/storage"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Postgres SQLSTATEs worth retrying the whole transaction for.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// classify maps driver errors onto the storage sentinels. Errors it does not
// recognise, including AppErrors returned by the unit of work, pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", storage.ErrNotFound, err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", storage.ErrDuplicate, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return fmt.Errorf("%w: %w", storage.ErrTransient, err)
		case "23505":
			return fmt.Errorf("%w: %w", storage.ErrDuplicate, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", storage.ErrTransient, err)
	}
	return err
}
