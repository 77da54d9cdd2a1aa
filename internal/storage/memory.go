package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"bank-sca/internal/models"

	"github.com/shopspring/decimal"
)

type memData struct {
	accounts     map[string]models.Account
	transactions map[string]models.Transaction
	challenges   map[string]models.Challenge
}

func newMemData() *memData {
	return &memData{
		accounts:     make(map[string]models.Account),
		transactions: make(map[string]models.Transaction),
		challenges:   make(map[string]models.Challenge),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.transactions {
		c.transactions[k] = v
	}
	for k, v := range d.challenges {
		c.challenges[k] = v
	}
	return c
}

// MemoryStore keeps everything in process memory. Atomic units of work are
// serialised by a single mutex and applied copy-on-write, so a failed unit
// leaves no trace.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

func (s *MemoryStore) Atomic(ctx context.Context, fn func(ctx context.Context, r Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.data.clone()
	repo := memRepo{with: func(f func(*memData) error) error { return f(working) }}
	if err := fn(ctx, repo); err != nil {
		return err
	}
	s.data = working
	return nil
}

func (s *MemoryStore) locked(f func(*memData) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f(s.data)
}

func (s *MemoryStore) Accounts() AccountRepository {
	return memAccounts{with: s.locked}
}

func (s *MemoryStore) Transactions() TransactionRepository {
	return memTransactions{with: s.locked}
}

func (s *MemoryStore) Challenges() ChallengeRepository {
	return memChallenges{with: s.locked}
}

type memRepo struct {
	with func(func(*memData) error) error
}

func (r memRepo) Accounts() AccountRepository         { return memAccounts(r) }
func (r memRepo) Transactions() TransactionRepository { return memTransactions(r) }
func (r memRepo) Challenges() ChallengeRepository     { return memChallenges(r) }

type memAccounts memRepo

func (m memAccounts) Create(ctx context.Context, a *models.Account) error {
	return m.with(func(d *memData) error {
		if _, ok := d.accounts[a.ID]; ok {
			return ErrDuplicate
		}
		if a.Number != "" {
			for _, other := range d.accounts {
				if other.Number == a.Number {
					return ErrDuplicate
				}
			}
		}
		d.accounts[a.ID] = *a
		return nil
	})
}

func (m memAccounts) Get(ctx context.Context, id string) (*models.Account, error) {
	var out *models.Account
	err := m.with(func(d *memData) error {
		a, ok := d.accounts[id]
		if !ok {
			return ErrNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

func (m memAccounts) GetForUpdate(ctx context.Context, id string) (*models.Account, error) {
	return m.Get(ctx, id)
}

func (m memAccounts) FindByNumber(ctx context.Context, number string) (*models.Account, error) {
	var out *models.Account
	err := m.with(func(d *memData) error {
		for _, a := range d.accounts {
			if a.Number == number {
				a := a
				out = &a
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (m memAccounts) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal, seal string, at time.Time) error {
	return m.with(func(d *memData) error {
		a, ok := d.accounts[id]
		if !ok {
			return ErrNotFound
		}
		a.Balance = balance
		a.BalanceSeal = seal
		a.UpdatedAt = at
		d.accounts[id] = a
		return nil
	})
}

type memTransactions memRepo

func (m memTransactions) Create(ctx context.Context, t *models.Transaction) error {
	return m.with(func(d *memData) error {
		if _, ok := d.transactions[t.ID]; ok {
			return ErrDuplicate
		}
		d.transactions[t.ID] = *t
		return nil
	})
}

func (m memTransactions) Get(ctx context.Context, id string) (*models.Transaction, error) {
	var out *models.Transaction
	err := m.with(func(d *memData) error {
		t, ok := d.transactions[id]
		if !ok {
			return ErrNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

func (m memTransactions) GetForUpdate(ctx context.Context, id string) (*models.Transaction, error) {
	return m.Get(ctx, id)
}

func (m memTransactions) Update(ctx context.Context, t *models.Transaction, from models.TransactionStatus) error {
	return m.with(func(d *memData) error {
		cur, ok := d.transactions[t.ID]
		if !ok {
			return ErrNotFound
		}
		if cur.Status != from {
			return ErrConflict
		}
		d.transactions[t.ID] = *t
		return nil
	})
}

type memChallenges memRepo

func (m memChallenges) Create(ctx context.Context, c *models.Challenge) error {
	return m.with(func(d *memData) error {
		if _, ok := d.challenges[c.ID]; ok {
			return ErrDuplicate
		}
		d.challenges[c.ID] = *c
		return nil
	})
}

func (m memChallenges) Get(ctx context.Context, id string) (*models.Challenge, error) {
	var out *models.Challenge
	err := m.with(func(d *memData) error {
		c, ok := d.challenges[id]
		if !ok {
			return ErrNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func (m memChallenges) GetForUpdate(ctx context.Context, id string) (*models.Challenge, error) {
	return m.Get(ctx, id)
}

func (m memChallenges) FindPending(ctx context.Context, transactionID string) ([]*models.Challenge, error) {
	var out []*models.Challenge
	err := m.with(func(d *memData) error {
		for _, c := range d.challenges {
			if c.TransactionID == transactionID && c.Status == models.ChallengePending {
				c := c
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (m memChallenges) Update(ctx context.Context, c *models.Challenge, from models.ChallengeStatus) error {
	return m.with(func(d *memData) error {
		cur, ok := d.challenges[c.ID]
		if !ok {
			return ErrNotFound
		}
		if cur.Status != from {
			return ErrConflict
		}
		d.challenges[c.ID] = *c
		return nil
	})
}

func (m memChallenges) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := m.with(func(d *memData) error {
		for id, c := range d.challenges {
			if c.Status == models.ChallengePending && c.ExpiresAt.Before(now) {
				at := now
				c.Status = models.ChallengeExpired
				c.ResolvedAt = &at
				d.challenges[id] = c
				n++
			}
		}
		return nil
	})
	return n, err
}
