package app

import (
	"context"
	"testing"
	"time"

	"bank-sca/internal/config"
	"bank-sca/internal/logging"
	"bank-sca/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Environment:     config.EnvTesting,
		StorageDriver:   config.DriverMemory,
		JWTSecret:       "jwt",
		SCASecret:       "sca",
		TANLength:       6,
		TANTTL:          time.Minute,
		TANMaxAttempts:  3,
		TANChannel:      "smsTAN",
		TANHasher:       "hmac",
		MutationRetries: 2,
	}
}

func TestNew_WiresServices(t *testing.T) {
	a, err := New(memoryConfig(), logging.Nop())
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	src, err := a.Accounts.Open(ctx, "alice", "", "EUR", decimal.NewFromInt(10))
	require.NoError(t, err)
	dst, err := a.Accounts.Open(ctx, "bob", "", "EUR", decimal.Zero)
	require.NoError(t, err)

	resp, err := a.Transfers.InitiateTransfer(ctx, "alice", models.TransferIntent{
		SourceAccountID: src.ID,
		Amount:          decimal.NewFromInt(4),
		Recipient:       models.InternalRecipient{DestinationAccountID: dst.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SMSTAN, resp.Challenge.Kind, "default channel comes from config")
	require.NotEmpty(t, resp.Challenge.Code, "codes are exposed outside production")

	require.NoError(t, a.Transfers.ExecuteTransfer(ctx, "alice", resp.TransactionID, resp.ChallengeID, resp.Challenge.Code))
	got, err := a.Accounts.GetAccount(ctx, dst.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(4)))
}

func TestNew_Rejects(t *testing.T) {
	tests := map[string]func(c *config.Config){
		"unknown channel": func(c *config.Config) { c.TANChannel = "carrierPigeon" },
		"unknown hasher":  func(c *config.Config) { c.TANHasher = "md5" },
		"empty secret":    func(c *config.Config) { c.SCASecret = "" },
		"unknown driver":  func(c *config.Config) { c.StorageDriver = "etcd" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := memoryConfig()
			mutate(cfg)
			_, err := New(cfg, logging.Nop())
			assert.Error(t, err)
		})
	}
}
