// Path: internal/services/transaction_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"bank-sca/internal/logging"
	"bank-sca/internal/metrics"
	"bank-sca/internal/models"
	"bank-sca/internal/storage"
	"bank-sca/pkg/utils"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

// TransactionService runs the two-phase transfer: initiate, then execute
// once the user has answered the challenge.
type TransactionService interface {
	InitiateTransfer(ctx context.Context, userID string, intent models.TransferIntent) (*models.InitiateTransferResponse, error)
	ExecuteTransfer(ctx context.Context, userID, transactionID, challengeID, code string) error
	CancelTransfer(ctx context.Context, userID, transactionID string) error
}

type TransactionConfig struct {
	DefaultChannel models.ChallengeKind
	// MutationRetries bounds re-runs of the balance mutation after transient
	// storage failures.
	MutationRetries int
	RetryBase       time.Duration
}

type transactionService struct {
	store  storage.Store
	auth   AuthorizationService
	sealer *BalanceSealer
	log    logging.Logger
	cfg    TransactionConfig
	now    func() time.Time
}

// NewTransactionService creates a new TransactionService.
func NewTransactionService(store storage.Store, auth AuthorizationService, sealer *BalanceSealer, cfg TransactionConfig, log logging.Logger) TransactionService {
	if cfg.DefaultChannel == "" {
		cfg.DefaultChannel = models.PushTAN
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = 20 * time.Millisecond
	}
	return &transactionService{
		store:  store,
		auth:   auth,
		sealer: sealer,
		log:    log.With("component", "transfers"),
		cfg:    cfg,
		now:    time.Now,
	}
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return newError(ErrInvalidAmount, "Amount must be positive", nil)
	}
	if !amount.Equal(amount.Round(2)) {
		return newError(ErrInvalidAmount, "Amount must have at most two decimal places", nil)
	}
	return nil
}

// InitiateTransfer validates the intent, opens a pending transaction and
// requests a challenge bound to it.
func (s *transactionService) InitiateTransfer(ctx context.Context, userID string, intent models.TransferIntent) (*models.InitiateTransferResponse, error) {
	if err := validateAmount(intent.Amount); err != nil {
		return nil, err
	}
	if intent.Recipient == nil {
		return nil, newError(ErrInvalidRecipient, "Recipient is required", nil)
	}
	channel := intent.Channel
	if channel == "" {
		channel = s.cfg.DefaultChannel
	}
	if _, err := models.ParseChallengeKind(string(channel)); err != nil {
		return nil, newError(ErrInvalidRecipient, err.Error(), nil)
	}

	source, err := s.store.Accounts().Get(ctx, intent.SourceAccountID)
	if err != nil {
		return nil, s.accountError(intent.SourceAccountID, err)
	}
	if source.OwnerID != userID {
		return nil, newError(ErrAccessDenied, fmt.Sprintf("account_id: %s", source.ID), nil)
	}
	if !source.Active() {
		return nil, newError(ErrAccessDenied, fmt.Sprintf("account %s is %s", source.ID, source.Status), nil)
	}
	if err := s.sealer.check(source); err != nil {
		return nil, err
	}
	if source.Balance.LessThan(intent.Amount) {
		return nil, newError(ErrInsufficientFunds, fmt.Sprintf("account_id: %s", source.ID), nil)
	}
	if err := s.checkRecipient(ctx, source, intent.Recipient); err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		ID:              utils.GenerateID(),
		UserID:          userID,
		SourceAccountID: source.ID,
		Amount:          intent.Amount,
		Currency:        source.Currency,
		Recipient:       intent.Recipient,
		Reference:       strings.TrimSpace(intent.Reference),
		Status:          models.TransactionPending,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.Transactions().Create(ctx, tx); err != nil {
		return nil, internalError("failed to create transaction", err)
	}

	challengeID, payload, err := s.auth.IssueChallenge(ctx, userID, tx.ID, tx.Amount, tx.Recipient.Descriptor(), channel)
	if err != nil {
		s.markFailed(ctx, tx.ID, ReasonOf(err))
		return nil, err
	}

	err = s.store.Atomic(ctx, func(ctx context.Context, r storage.Repository) error {
		cur, err := r.Transactions().GetForUpdate(ctx, tx.ID)
		if err != nil {
			return err
		}
		cur.ChallengeID = challengeID
		return r.Transactions().Update(ctx, cur, models.TransactionPending)
	})
	if err != nil {
		return nil, internalError("failed to link challenge", err)
	}

	metrics.Transfers.WithLabelValues(string(tx.Kind()), "initiated").Inc()
	s.log.Info(ctx, "transfer initiated",
		"transaction_id", tx.ID,
		"user_id", userID,
		"kind", tx.Kind(),
		"amount", tx.Amount.StringFixed(2),
	)
	return &models.InitiateTransferResponse{
		TransactionID: tx.ID,
		ChallengeID:   challengeID,
		Challenge:     *payload,
	}, nil
}

func (s *transactionService) accountError(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return newError(ErrAccountNotFound, fmt.Sprintf("account_id: %s", id), nil)
	}
	return internalError("failed to load account", err)
}

func (s *transactionService) checkRecipient(ctx context.Context, source *models.Account, recipient models.Recipient) error {
	switch r := recipient.(type) {
	case models.InternalRecipient:
		if r.DestinationAccountID == "" {
			return newError(ErrInvalidRecipient, "Destination account is required", nil)
		}
		if r.DestinationAccountID == source.ID {
			return newError(ErrInvalidRecipient, "Cannot transfer to the source account", nil)
		}
		dest, err := s.store.Accounts().Get(ctx, r.DestinationAccountID)
		if errors.Is(err, storage.ErrNotFound) {
			return newError(ErrInvalidRecipient, fmt.Sprintf("account_id: %s", r.DestinationAccountID), nil)
		}
		if err != nil {
			return internalError("failed to load destination account", err)
		}
		if !dest.Active() {
			return newError(ErrInvalidRecipient, "Destination account is not active", nil)
		}
		if dest.Currency != source.Currency {
			return newError(ErrInvalidRecipient, "Currency mismatch", nil)
		}
		return nil
	case models.ExternalRecipient:
		if strings.TrimSpace(r.AccountNumber) == "" {
			return newError(ErrInvalidRecipient, "Recipient account number is required", nil)
		}
		if r.AccountNumber == source.Number {
			return newError(ErrInvalidRecipient, "Cannot transfer to the source account", nil)
		}
		return nil
	default:
		return newError(ErrInvalidRecipient, "Unknown transfer kind", nil)
	}
}

// ExecuteTransfer validates the challenge against the stored terms of the
// transaction and then applies the balance mutation. Validation runs once;
// only the mutation is retried.
func (s *transactionService) ExecuteTransfer(ctx context.Context, userID, transactionID, challengeID, code string) error {
	tx, err := s.store.Transactions().Get(ctx, transactionID)
	if errors.Is(err, storage.ErrNotFound) {
		return newError(ErrTransactionNotFound, fmt.Sprintf("transaction_id: %s", transactionID), nil)
	}
	if err != nil {
		return internalError("failed to load transaction", err)
	}
	if tx.UserID != userID {
		return newError(ErrAccessDenied, fmt.Sprintf("transaction_id: %s", transactionID), nil)
	}
	if tx.Status != models.TransactionPending {
		return newError(ErrAlreadyProcessed, fmt.Sprintf("status: %s", tx.Status), nil)
	}
	// Only the linked challenge may fail this transaction; a stale or foreign
	// one is rejected before its own status can leak into ours.
	if challengeID != tx.ChallengeID {
		metrics.Transfers.WithLabelValues(string(tx.Kind()), "rejected").Inc()
		if _, err := s.store.Challenges().Get(ctx, challengeID); errors.Is(err, storage.ErrNotFound) {
			return newError(ErrChallengeNotFound, fmt.Sprintf("challenge_id: %s", challengeID), nil)
		}
		return newError(ErrContextMismatch, fmt.Sprintf("challenge_id: %s", challengeID), nil)
	}

	if err := s.auth.ValidateChallenge(ctx, challengeID, code, tx.ID, tx.Amount, tx.Recipient.Descriptor()); err != nil {
		if terminal(err) {
			s.markFailed(ctx, tx.ID, ReasonOf(err))
		}
		metrics.Transfers.WithLabelValues(string(tx.Kind()), "rejected").Inc()
		return err
	}

	backoff := retry.WithMaxRetries(uint64(s.cfg.MutationRetries), retry.NewExponential(s.cfg.RetryBase))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempt > 0 {
			metrics.MutationRetries.Inc()
			s.log.Warn(ctx, "retrying transfer mutation", "transaction_id", tx.ID, "attempt", attempt)
		}
		attempt++
		err := s.store.Atomic(ctx, func(ctx context.Context, r storage.Repository) error {
			return s.mutate(ctx, r, tx.ID)
		})
		if errors.Is(err, storage.ErrTransient) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			if errors.Is(err, storage.ErrConflict) {
				err = newError(ErrAlreadyProcessed, "transaction changed concurrently", err)
			} else {
				err = internalError("failed to apply transfer", err)
			}
		}
		// The challenge is used by now, so a still-pending transaction could
		// never be authorized again.
		s.markFailed(ctx, tx.ID, ReasonOf(err))
		metrics.Transfers.WithLabelValues(string(tx.Kind()), "failed").Inc()
		s.log.Warn(ctx, "transfer failed", "transaction_id", tx.ID, "reason", ReasonOf(err))
		return err
	}

	metrics.Transfers.WithLabelValues(string(tx.Kind()), "completed").Inc()
	s.log.Info(ctx, "transfer completed", "transaction_id", tx.ID, "amount", tx.Amount.StringFixed(2))
	return nil
}

// terminal reports whether a failure should close the transaction instead
// of leaving it open for another attempt.
func terminal(err error) bool {
	switch ReasonOf(err) {
	case ReasonInsufficientFunds, ReasonInvalidRecipient, ReasonAttemptsExhausted, ReasonExpired, ReasonAccountNotFound:
		return true
	}
	return false
}

// mutate is one attempt of the balance mutation. It re-reads everything it
// depends on under row locks; accounts are locked in ascending id order.
func (s *transactionService) mutate(ctx context.Context, r storage.Repository, transactionID string) error {
	tx, err := r.Transactions().GetForUpdate(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.Status != models.TransactionPending {
		return newError(ErrAlreadyProcessed, fmt.Sprintf("status: %s", tx.Status), nil)
	}

	destID, err := s.resolveDestination(ctx, r, tx)
	if err != nil {
		return err
	}

	ids := []string{tx.SourceAccountID}
	if destID != "" {
		ids = append(ids, destID)
	}
	sort.Strings(ids)

	locked := make(map[string]*models.Account, len(ids))
	for _, id := range ids {
		a, err := r.Accounts().GetForUpdate(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			if id == tx.SourceAccountID {
				return newError(ErrAccountNotFound, fmt.Sprintf("account_id: %s", id), nil)
			}
			return newError(ErrInvalidRecipient, fmt.Sprintf("account_id: %s", id), nil)
		}
		if err != nil {
			return err
		}
		if err := s.sealer.check(a); err != nil {
			return err
		}
		locked[id] = a
	}

	source := locked[tx.SourceAccountID]
	if !source.Active() {
		return newError(ErrAccessDenied, fmt.Sprintf("account %s is %s", source.ID, source.Status), nil)
	}
	if source.Balance.LessThan(tx.Amount) {
		return newError(ErrInsufficientFunds, fmt.Sprintf("account_id: %s", source.ID), nil)
	}

	var dest *models.Account
	if destID != "" {
		dest = locked[destID]
		if !dest.Active() || dest.Currency != source.Currency {
			return newError(ErrInvalidRecipient, fmt.Sprintf("account_id: %s", dest.ID), nil)
		}
	}

	now := s.now().UTC()
	newBalance := source.Balance.Sub(tx.Amount)
	if err := r.Accounts().UpdateBalance(ctx, source.ID, newBalance, s.sealer.Seal(source.ID, newBalance), now); err != nil {
		return err
	}

	if dest != nil {
		credited := dest.Balance.Add(tx.Amount)
		if err := r.Accounts().UpdateBalance(ctx, dest.ID, credited, s.sealer.Seal(dest.ID, credited), now); err != nil {
			return err
		}
	}

	tx.Status = models.TransactionCompleted
	tx.CompletedAt = &now
	tx.Note = tx.Reference
	return r.Transactions().Update(ctx, tx, models.TransactionPending)
}

// resolveDestination returns the account to credit, or "" for a one-sided
// debit. An external number is credited only when it names an active
// in-store account in the same currency.
func (s *transactionService) resolveDestination(ctx context.Context, r storage.Repository, tx *models.Transaction) (string, error) {
	switch rcpt := tx.Recipient.(type) {
	case models.InternalRecipient:
		return rcpt.DestinationAccountID, nil
	case models.ExternalRecipient:
		a, err := r.Accounts().FindByNumber(ctx, rcpt.AccountNumber)
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if a.ID == tx.SourceAccountID || !a.Active() || a.Currency != tx.Currency {
			return "", nil
		}
		return a.ID, nil
	default:
		return "", newError(ErrInvalidRecipient, "Unknown transfer kind", nil)
	}
}

// markFailed closes a still-pending transaction. Errors are logged only; the
// caller already has the failure it is reporting.
func (s *transactionService) markFailed(ctx context.Context, transactionID string, reason Reason) {
	err := s.store.Atomic(ctx, func(ctx context.Context, r storage.Repository) error {
		tx, err := r.Transactions().GetForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if tx.Status != models.TransactionPending {
			return nil
		}
		tx.Status = models.TransactionFailed
		tx.FailureReason = string(reason)
		return r.Transactions().Update(ctx, tx, models.TransactionPending)
	})
	if err != nil {
		s.log.Error(ctx, "failed to mark transaction failed", "transaction_id", transactionID, "error", err)
		return
	}
	s.log.Info(ctx, "transaction failed", "transaction_id", transactionID, "reason", reason)
}

// CancelTransfer abandons a pending transaction and its live challenge.
func (s *transactionService) CancelTransfer(ctx context.Context, userID, transactionID string) error {
	tx, err := s.store.Transactions().Get(ctx, transactionID)
	if errors.Is(err, storage.ErrNotFound) {
		return newError(ErrTransactionNotFound, fmt.Sprintf("transaction_id: %s", transactionID), nil)
	}
	if err != nil {
		return internalError("failed to load transaction", err)
	}
	if tx.UserID != userID {
		return newError(ErrAccessDenied, fmt.Sprintf("transaction_id: %s", transactionID), nil)
	}
	if tx.Status != models.TransactionPending {
		return newError(ErrAlreadyProcessed, fmt.Sprintf("status: %s", tx.Status), nil)
	}

	if tx.ChallengeID != "" {
		if err := s.auth.CancelChallenge(ctx, tx.ChallengeID); err != nil && !errors.Is(err, ErrAlreadyResolved) {
			return err
		}
	}

	err = s.store.Atomic(ctx, func(ctx context.Context, r storage.Repository) error {
		cur, err := r.Transactions().GetForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if cur.Status != models.TransactionPending {
			return newError(ErrAlreadyProcessed, fmt.Sprintf("status: %s", cur.Status), nil)
		}
		cur.Status = models.TransactionCancelled
		return r.Transactions().Update(ctx, cur, models.TransactionPending)
	})
	if err != nil {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return err
		}
		return internalError("failed to cancel transaction", err)
	}

	metrics.Transfers.WithLabelValues(string(tx.Kind()), "cancelled").Inc()
	s.log.Info(ctx, "transfer cancelled", "transaction_id", transactionID)
	return nil
}
