// Path: internal/services/authorization_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bank-sca/internal/logging"
	"bank-sca/internal/metrics"
	"bank-sca/internal/models"
	"bank-sca/internal/storage"
	"bank-sca/pkg/utils"

	"github.com/shopspring/decimal"
)

// AuthorizationService issues and validates single-use TANs bound to the
// economic terms of one transaction.
type AuthorizationService interface {
	// IssueChallenge creates a pending challenge for the transaction and
	// returns its id with the payload to show the user.
	IssueChallenge(ctx context.Context, userID, transactionID string, amount decimal.Decimal, recipient string, kind models.ChallengeKind) (string, *models.DeliveryPayload, error)
	// ValidateChallenge checks code against the challenge using the supplied
	// transaction terms. A nil error means the challenge is now used.
	ValidateChallenge(ctx context.Context, challengeID, code, transactionID string, amount decimal.Decimal, recipient string) error
	// CancelChallenge aborts a pending challenge.
	CancelChallenge(ctx context.Context, challengeID string) error
	// ExpireStale marks every pending challenge whose expiry is before now
	// as expired and returns how many changed.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type AuthorizationConfig struct {
	CodeLength  int
	TTL         time.Duration
	MaxAttempts int
	// ExposeCode puts the raw TAN into the delivery payload. Never set in
	// production.
	ExposeCode bool
}

type authorizationService struct {
	store    storage.Store
	hasher   CodeHasher
	linkKey  []byte
	equal    Comparator
	notifier Notifier
	log      logging.Logger
	cfg      AuthorizationConfig
	now      func() time.Time
}

type AuthorizationOption func(*authorizationService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) AuthorizationOption {
	return func(s *authorizationService) { s.now = now }
}

// WithComparator replaces the constant-time comparator used for dynamic links.
// It does not reach the code hash; pass the comparator for that to
// NewHMACHasher.
func WithComparator(equal Comparator) AuthorizationOption {
	return func(s *authorizationService) { s.equal = equal }
}

func WithNotifier(n Notifier) AuthorizationOption {
	return func(s *authorizationService) { s.notifier = n }
}

// NewAuthorizationService creates a new AuthorizationService.
func NewAuthorizationService(store storage.Store, hasher CodeHasher, linkKey []byte, cfg AuthorizationConfig, log logging.Logger, opts ...AuthorizationOption) AuthorizationService {
	if cfg.CodeLength == 0 {
		cfg.CodeLength = 6
	}
	if cfg.TTL == 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	s := &authorizationService{
		store:   store,
		hasher:  hasher,
		linkKey: linkKey,
		equal:   utils.ConstantTimeEqual,
		log:     log.With("component", "authorization"),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.log)
	}
	return s
}

// DynamicLink binds a transaction's id, amount and recipient into one digest.
func DynamicLink(key []byte, transactionID string, amount decimal.Decimal, recipient string) string {
	return utils.CreateHMAC(fmt.Sprintf("%s:%s:%s", transactionID, amount.StringFixed(2), recipient), key)
}

// IssueChallenge generates a TAN, stores its hash with the dynamic link and
// hands it to the notifier. Any older pending challenge of the same
// transaction is cancelled first.
func (s *authorizationService) IssueChallenge(ctx context.Context, userID, transactionID string, amount decimal.Decimal, recipient string, kind models.ChallengeKind) (string, *models.DeliveryPayload, error) {
	if kind == "" {
		kind = models.PushTAN
	}

	code, err := utils.GenerateNumericCode(s.cfg.CodeLength)
	if err != nil {
		return "", nil, internalError("failed to generate code", err)
	}
	codeHash, err := s.hasher.Hash(code)
	if err != nil {
		return "", nil, internalError("failed to hash code", err)
	}

	now := s.now().UTC()
	challenge := &models.Challenge{
		ID:            utils.GenerateID(),
		UserID:        userID,
		TransactionID: transactionID,
		CodeHash:      codeHash,
		DynamicLink:   DynamicLink(s.linkKey, transactionID, amount, recipient),
		Kind:          kind,
		Status:        models.ChallengePending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.TTL),
	}

	err = s.store.Atomic(ctx, func(ctx context.Context, r storage.Repository) error {
		pending, err := r.Challenges().FindPending(ctx, transactionID)
		if err != nil {
			return err
		}
		for _, old := range pending {
			at := now
			old.Status = models.ChallengeCancelled
			old.ResolvedAt = &at
			if err := r.Challenges().Update(ctx, old, models.ChallengePending); err != nil {
				return err
			}
		}
		return r.Challenges().Create(ctx, challenge)
	})
	if err != nil {
		return "", nil, internalError("failed to store challenge", err)
	}

	payload := models.DeliveryPayload{
		Kind:             kind,
		ExpiresInSeconds: int(s.cfg.TTL / time.Second),
		Amount:           amount.StringFixed(2),
		Recipient:        recipient,
	}
	if err := s.notifier.Deliver(ctx, userID, challenge.ID, payload, code); err != nil {
		s.log.Warn(ctx, "challenge delivery failed", "challenge_id", challenge.ID, "error", err)
	}
	if s.cfg.ExposeCode {
		payload.Code = code
	}

	metrics.ChallengesIssued.WithLabelValues(string(kind)).Inc()
	s.log.Info(ctx, "challenge issued",
		"challenge_id", challenge.ID,
		"transaction_id", transactionID,
		"kind", kind,
		"expires_at", challenge.ExpiresAt,
	)
	return challenge.ID, &payload, nil
}

// ValidateChallenge runs the checks in a fixed order: existence, status,
// expiry, attempt limit, dynamic link, code. State changes made on the way
// (expired, locked, attempts) are committed even when validation fails.
func (s *authorizationService) ValidateChallenge(ctx context.Context, challengeID, code, transactionID string, amount decimal.Decimal, recipient string) error {
	var outcome error

	err := s.store.Atomic(ctx, func(ctx context.Context, r storage.Repository) error {
		outcome = nil

		c, err := r.Challenges().GetForUpdate(ctx, challengeID)
		if errors.Is(err, storage.ErrNotFound) {
			outcome = newError(ErrChallengeNotFound, fmt.Sprintf("challenge_id: %s", challengeID), nil)
			return nil
		}
		if err != nil {
			return err
		}

		if c.Status != models.ChallengePending {
			outcome = resolvedError(c.Status)
			return nil
		}

		now := s.now().UTC()
		if now.After(c.ExpiresAt) {
			outcome = ErrExpired
			return s.resolve(ctx, r, c, models.ChallengeExpired, now)
		}

		if c.Attempts >= s.cfg.MaxAttempts {
			outcome = ErrAttemptsExhausted
			return s.resolve(ctx, r, c, models.ChallengeLocked, now)
		}

		if !s.equal(DynamicLink(s.linkKey, transactionID, amount, recipient), c.DynamicLink) {
			outcome = ErrContextMismatch
			return nil
		}

		if !s.hasher.Verify(c.CodeHash, code) {
			c.Attempts++
			if c.Attempts >= s.cfg.MaxAttempts {
				outcome = ErrAttemptsExhausted
				return s.resolve(ctx, r, c, models.ChallengeLocked, now)
			}
			remaining := s.cfg.MaxAttempts - c.Attempts
			invalid := newError(ErrInvalidCode, fmt.Sprintf("%d attempts remaining", remaining), nil)
			invalid.RemainingAttempts = remaining
			outcome = invalid
			return r.Challenges().Update(ctx, c, models.ChallengePending)
		}

		return s.resolve(ctx, r, c, models.ChallengeUsed, now)
	})
	if errors.Is(err, storage.ErrConflict) {
		outcome, err = newError(ErrAlreadyResolved, "challenge changed concurrently", nil), nil
	}
	if errors.Is(err, storage.ErrTransient) {
		// A serialization failure usually means a concurrent validation won.
		// Report what it left behind instead of validating again.
		if c, gerr := s.store.Challenges().Get(ctx, challengeID); gerr == nil && c.Status != models.ChallengePending {
			outcome, err = resolvedError(c.Status), nil
		}
	}
	if err != nil {
		metrics.ChallengeValidations.WithLabelValues(string(ReasonInternal)).Inc()
		return internalError("failed to validate challenge", err)
	}

	result := "success"
	if outcome != nil {
		result = string(ReasonOf(outcome))
		s.log.Info(ctx, "challenge rejected", "challenge_id", challengeID, "reason", result)
	} else {
		s.log.Info(ctx, "challenge authorized", "challenge_id", challengeID, "transaction_id", transactionID)
	}
	metrics.ChallengeValidations.WithLabelValues(result).Inc()
	return outcome
}

// resolvedError keeps reporting the reason a challenge was closed with, so
// a locked challenge stays AttemptsExhausted whatever code is sent.
func resolvedError(status models.ChallengeStatus) error {
	switch status {
	case models.ChallengeLocked:
		return ErrAttemptsExhausted
	case models.ChallengeExpired:
		return ErrExpired
	default:
		return newError(ErrAlreadyResolved, fmt.Sprintf("status: %s", status), nil)
	}
}

func (s *authorizationService) resolve(ctx context.Context, r storage.Repository, c *models.Challenge, status models.ChallengeStatus, at time.Time) error {
	c.Status = status
	c.ResolvedAt = &at
	return r.Challenges().Update(ctx, c, models.ChallengePending)
}

func (s *authorizationService) CancelChallenge(ctx context.Context, challengeID string) error {
	var outcome error
	err := s.store.Atomic(ctx, func(ctx context.Context, r storage.Repository) error {
		outcome = nil
		c, err := r.Challenges().GetForUpdate(ctx, challengeID)
		if errors.Is(err, storage.ErrNotFound) {
			outcome = newError(ErrChallengeNotFound, fmt.Sprintf("challenge_id: %s", challengeID), nil)
			return nil
		}
		if err != nil {
			return err
		}
		if c.Status != models.ChallengePending {
			outcome = newError(ErrAlreadyResolved, fmt.Sprintf("status: %s", c.Status), nil)
			return nil
		}
		return s.resolve(ctx, r, c, models.ChallengeCancelled, s.now().UTC())
	})
	if errors.Is(err, storage.ErrConflict) {
		return newError(ErrAlreadyResolved, "challenge changed concurrently", nil)
	}
	if err != nil {
		return internalError("failed to cancel challenge", err)
	}
	if outcome == nil {
		s.log.Info(ctx, "challenge cancelled", "challenge_id", challengeID)
	}
	return outcome
}

func (s *authorizationService) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.store.Atomic(ctx, func(ctx context.Context, r storage.Repository) error {
		var err error
		n, err = r.Challenges().ExpirePending(ctx, now.UTC())
		return err
	})
	if err != nil {
		return 0, internalError("failed to expire challenges", err)
	}
	metrics.ChallengesExpired.Add(float64(n))
	s.log.Info(ctx, "stale challenges expired", "count", n)
	return n, nil
}
