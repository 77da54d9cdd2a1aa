// Package app wires configuration, storage and services together for the
// server and the operator CLI.
package app

import (
	"fmt"

	"bank-sca/internal/config"
	"bank-sca/internal/logging"
	"bank-sca/internal/models"
	"bank-sca/internal/services"
	"bank-sca/internal/storage"
	"bank-sca/pkg/database"
)

type App struct {
	Config        *config.Config
	Store         storage.Store
	Keys          services.Keys
	Authorization services.AuthorizationService
	Transfers     services.TransactionService
	Accounts      services.AccountService
	Auth          services.AuthService

	closeStore func() error
}

// OpenStore opens the storage driver selected by cfg. The returned func
// releases it.
func OpenStore(cfg *config.Config) (storage.Store, func() error, error) {
	switch cfg.StorageDriver {
	case config.DriverMemory:
		return storage.NewMemoryStore(), func() error { return nil }, nil
	case config.DriverPostgres:
		db, err := database.InitDB(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return database.NewStore(db, database.Serializable()), func() error { return database.Close(db) }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func New(cfg *config.Config, log logging.Logger) (*App, error) {
	channel, err := models.ParseChallengeKind(cfg.TANChannel)
	if err != nil {
		return nil, fmt.Errorf("TAN_CHANNEL: %w", err)
	}

	keys, err := services.DeriveKeys(cfg.SCASecret)
	if err != nil {
		return nil, err
	}
	hasher, err := services.NewCodeHasher(cfg.TANHasher, keys.Code, nil)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	sealer := services.NewBalanceSealer(keys.Balance)
	authz := services.NewAuthorizationService(store, hasher, keys.Link, services.AuthorizationConfig{
		CodeLength:  cfg.TANLength,
		TTL:         cfg.TANTTL,
		MaxAttempts: cfg.TANMaxAttempts,
		ExposeCode:  !cfg.Production(),
	}, log)

	return &App{
		Config:        cfg,
		Store:         store,
		Keys:          keys,
		Authorization: authz,
		Transfers: services.NewTransactionService(store, authz, sealer, services.TransactionConfig{
			DefaultChannel:  channel,
			MutationRetries: cfg.MutationRetries,
		}, log),
		Accounts:   services.NewAccountService(store, sealer, log),
		Auth:       services.NewAuthService(cfg.JWTSecret),
		closeStore: closeStore,
	}, nil
}

func (a *App) Close() error {
	if a.closeStore == nil {
		return nil
	}
	return a.closeStore()
}
