package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"bank-sca/internal/logging"
	"bank-sca/internal/models"
	"bank-sca/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureNotifier records every delivery so tests can read codes even when
// the payload hides them.
type captureNotifier struct {
	mu    sync.Mutex
	codes map[string]string
	calls int
	err   error
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{codes: make(map[string]string)}
}

func (n *captureNotifier) Deliver(_ context.Context, _, challengeID string, _ models.DeliveryPayload, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[challengeID] = code
	n.calls++
	return n.err
}

func (n *captureNotifier) code(challengeID string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[challengeID]
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

type testEnv struct {
	store     storage.Store
	mem       *storage.MemoryStore
	keys      Keys
	sealer    *BalanceSealer
	clock     *fakeClock
	notifier  *captureNotifier
	auth      AuthorizationService
	transfers TransactionService
	accounts  AccountService
}

type envOption func(*envSettings)

type envSettings struct {
	authCfg  AuthorizationConfig
	retries  int
	wrap     func(*storage.MemoryStore) storage.Store
	authOpts []AuthorizationOption
}

func withAuthConfig(cfg AuthorizationConfig) envOption {
	return func(s *envSettings) { s.authCfg = cfg }
}

func withRetries(n int) envOption {
	return func(s *envSettings) { s.retries = n }
}

func withStore(wrap func(*storage.MemoryStore) storage.Store) envOption {
	return func(s *envSettings) { s.wrap = wrap }
}

func withAuthOptions(opts ...AuthorizationOption) envOption {
	return func(s *envSettings) { s.authOpts = append(s.authOpts, opts...) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	settings := envSettings{
		authCfg: AuthorizationConfig{CodeLength: 6, TTL: 5 * time.Minute, MaxAttempts: 3, ExposeCode: true},
		retries: 3,
	}
	for _, opt := range opts {
		opt(&settings)
	}

	keys, err := DeriveKeys("test-sca-secret")
	require.NoError(t, err)

	mem := storage.NewMemoryStore()
	var store storage.Store = mem
	if settings.wrap != nil {
		store = settings.wrap(mem)
	}

	env := &testEnv{
		store:    store,
		mem:      mem,
		keys:     keys,
		sealer:   NewBalanceSealer(keys.Balance),
		clock:    newFakeClock(),
		notifier: newCaptureNotifier(),
	}
	authOpts := append([]AuthorizationOption{WithClock(env.clock.Now), WithNotifier(env.notifier)}, settings.authOpts...)
	env.auth = NewAuthorizationService(store, NewHMACHasher(keys.Code, nil), keys.Link, settings.authCfg, logging.Nop(), authOpts...)
	env.transfers = NewTransactionService(store, env.auth, env.sealer, TransactionConfig{
		MutationRetries: settings.retries,
		RetryBase:       time.Millisecond,
	}, logging.Nop())
	env.accounts = NewAccountService(store, env.sealer, logging.Nop())
	return env
}

// raceStore lets a competing unit of work commit first and then fails the
// caller's unit with a serialization error, the way Postgres does when two
// SERIALIZABLE transactions lock the same row.
type raceStore struct {
	*storage.MemoryStore
	mu     sync.Mutex
	winner func()
}

func (s *raceStore) lose(winner func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.winner = winner
}

func (s *raceStore) Atomic(ctx context.Context, fn func(ctx context.Context, r storage.Repository) error) error {
	s.mu.Lock()
	winner := s.winner
	s.winner = nil
	s.mu.Unlock()

	if winner == nil {
		return s.MemoryStore.Atomic(ctx, fn)
	}
	winner()
	return fmt.Errorf("could not serialize access due to concurrent update: %w", storage.ErrTransient)
}

func withRaceStore(out **raceStore) envOption {
	return withStore(func(m *storage.MemoryStore) storage.Store {
		*out = &raceStore{MemoryStore: m}
		return *out
	})
}

func (e *testEnv) openAccount(t *testing.T, owner, number, balance string) *models.Account {
	t.Helper()
	acc, err := e.accounts.Open(context.Background(), owner, number, "EUR", decimal.RequireFromString(balance))
	require.NoError(t, err)
	return acc
}

func (e *testEnv) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	acc, err := e.mem.Accounts().Get(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

func (e *testEnv) challenge(t *testing.T, id string) *models.Challenge {
	t.Helper()
	c, err := e.mem.Challenges().Get(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (e *testEnv) transaction(t *testing.T, id string) *models.Transaction {
	t.Helper()
	tx, err := e.mem.Transactions().Get(context.Background(), id)
	require.NoError(t, err)
	return tx
}

// wrongCode returns a code of the same length guaranteed to differ from code.
func wrongCode(code string) string {
	b := []byte(code)
	if b[0] == '9' {
		b[0] = '0'
	} else {
		b[0]++
	}
	return string(b)
}

func internalTo(id string) models.Recipient {
	return models.InternalRecipient{DestinationAccountID: id}
}

func externalTo(number string) models.Recipient {
	return models.ExternalRecipient{AccountNumber: number}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
