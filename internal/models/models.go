// Path: internal/models/models.go
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/shopspring/decimal"
)

// Accounts

type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountFrozen AccountStatus = "frozen"
	AccountClosed AccountStatus = "closed"
)

// Account is the balance ledger row. Balance is only changed through an
// atomic unit of work; BalanceSeal is an HMAC over the balance and id.
type Account struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Number      string          `json:"number"`
	Balance     decimal.Decimal `json:"balance"`
	Currency    string          `json:"currency"`
	Status      AccountStatus   `json:"status"`
	BalanceSeal string          `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (a *Account) Active() bool {
	return a.Status == AccountActive
}

// Recipients

type TransferKind string

const (
	TransferInternal TransferKind = "internal"
	TransferExternal TransferKind = "external"
)

var ErrUnknownTransferKind = errors.New("unknown transfer kind")

// Recipient is either an InternalRecipient or an ExternalRecipient.
type Recipient interface {
	Kind() TransferKind
	// Descriptor is the value bound into the dynamic link.
	Descriptor() string
	isRecipient()
}

// InternalRecipient is an account held in this store.
type InternalRecipient struct {
	DestinationAccountID string
}

func (InternalRecipient) Kind() TransferKind   { return TransferInternal }
func (r InternalRecipient) Descriptor() string { return r.DestinationAccountID }
func (InternalRecipient) isRecipient()         {}

// ExternalRecipient is an opaque account number at another bank.
type ExternalRecipient struct {
	AccountNumber string
}

func (ExternalRecipient) Kind() TransferKind   { return TransferExternal }
func (r ExternalRecipient) Descriptor() string { return r.AccountNumber }
func (ExternalRecipient) isRecipient()         {}

// NewRecipient builds the variant matching kind.
func NewRecipient(kind TransferKind, descriptor string) (Recipient, error) {
	switch kind {
	case TransferInternal:
		return InternalRecipient{DestinationAccountID: descriptor}, nil
	case TransferExternal:
		return ExternalRecipient{AccountNumber: descriptor}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransferKind, kind)
	}
}

// Transactions

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending_authorization"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionCancelled TransactionStatus = "cancelled"
)

// Transaction is a transfer intent and, once authorized, its result.
type Transaction struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	SourceAccountID string            `json:"source_account_id"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	Recipient       Recipient         `json:"-"`
	Reference       string            `json:"reference"`
	Status          TransactionStatus `json:"status"`
	ChallengeID     string            `json:"challenge_id,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	Note            string            `json:"note,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

func (t *Transaction) Kind() TransferKind {
	if t.Recipient == nil {
		return ""
	}
	return t.Recipient.Kind()
}

// Challenges

type ChallengeStatus string

const (
	ChallengePending   ChallengeStatus = "pending"
	ChallengeUsed      ChallengeStatus = "used"
	ChallengeExpired   ChallengeStatus = "expired"
	ChallengeLocked    ChallengeStatus = "locked"
	ChallengeCancelled ChallengeStatus = "cancelled"
)

// ChallengeKind tags the delivery channel.
type ChallengeKind string

const (
	PushTAN  ChallengeKind = "pushTAN"
	SMSTAN   ChallengeKind = "smsTAN"
	PhotoTAN ChallengeKind = "photoTAN"
	ChipTAN  ChallengeKind = "chipTAN"
)

var ErrUnknownChallengeKind = errors.New("unknown challenge kind")

func ParseChallengeKind(s string) (ChallengeKind, error) {
	switch k := ChallengeKind(s); k {
	case PushTAN, SMSTAN, PhotoTAN, ChipTAN:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChallengeKind, s)
	}
}

// Challenge is one TAN authorization attempt. The raw code is never stored.
type Challenge struct {
	ID            string
	UserID        string
	TransactionID string
	CodeHash      string
	DynamicLink   string
	Kind          ChallengeKind
	Status        ChallengeStatus
	Attempts      int
	CreatedAt     time.Time
	ExpiresAt     time.Time
	ResolvedAt    *time.Time
}

// API

// TransferIntent is what a caller asks the orchestrator to move.
type TransferIntent struct {
	SourceAccountID string
	Amount          decimal.Decimal
	Recipient       Recipient
	Reference       string
	Channel         ChallengeKind
}

type InitiateTransferRequest struct {
	SourceAccountID        string          `json:"source_account_id"`
	Amount                 decimal.Decimal `json:"amount"`
	Type                   TransferKind    `json:"type"`
	ToAccountID            string          `json:"to_account_id"`
	RecipientAccountNumber string          `json:"recipient_account_number"`
	Reference              string          `json:"reference"`
	Channel                string          `json:"channel"`
}

type ExecuteTransferRequest struct {
	TransactionID string `json:"transaction_id"`
	ChallengeID   string `json:"challenge_id"`
	Code          string `json:"code"`
}

// DeliveryPayload is what the user's device (or, outside production, the
// caller) is shown. Code is empty in production.
type DeliveryPayload struct {
	Kind             ChallengeKind `json:"kind"`
	ExpiresInSeconds int           `json:"expires_in_seconds"`
	Amount           string        `json:"amount"`
	Recipient        string        `json:"recipient"`
	Code             string        `json:"code,omitempty"`
}

type InitiateTransferResponse struct {
	TransactionID string          `json:"transaction_id"`
	ChallengeID   string          `json:"challenge_id"`
	Challenge     DeliveryPayload `json:"challenge"`
}

// JWT claims
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}
