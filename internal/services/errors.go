// Path: internal/services/errors.go
package services

import (
	"errors"
	"fmt"
)

// Reason is the caller-visible failure code.
type Reason string

const (
	ReasonInvalidAmount       Reason = "InvalidAmount"
	ReasonInvalidRecipient    Reason = "InvalidRecipient"
	ReasonAccountNotFound     Reason = "AccountNotFound"
	ReasonAccountExists       Reason = "AccountExists"
	ReasonAccessDenied        Reason = "AccessDenied"
	ReasonInsufficientFunds   Reason = "InsufficientFunds"
	ReasonTransactionNotFound Reason = "TransactionNotFound"
	ReasonAlreadyProcessed    Reason = "AlreadyProcessed"
	ReasonChallengeNotFound   Reason = "ChallengeNotFound"
	ReasonAlreadyResolved     Reason = "AlreadyResolved"
	ReasonExpired             Reason = "Expired"
	ReasonAttemptsExhausted   Reason = "AttemptsExhausted"
	ReasonContextMismatch     Reason = "ContextMismatch"
	ReasonInvalidCode         Reason = "InvalidCode"
	ReasonIntegrityViolation  Reason = "IntegrityViolation"
	ReasonUnauthorized        Reason = "Unauthorized"
	ReasonRateLimited         Reason = "RateLimited"
	ReasonInternal            Reason = "Internal"
)

// AppError is a custom error type that includes an HTTP status code and the
// failure reason. Two AppErrors match under errors.Is when their reasons match.
type AppError struct {
	Code              int    `json:"-"`
	Reason            Reason `json:"error"`
	Message           string `json:"message"`
	Details           string `json:"details,omitempty"`
	RemainingAttempts int    `json:"remaining_attempts,omitempty"`
	Err               error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("AppError: %s: %s (Code: %d)", e.Reason, e.Message, e.Code)
	}
	return fmt.Sprintf("AppError: %s: %s (Code: %d, Details: %s)", e.Reason, e.Message, e.Code, e.Details)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Reason == e.Reason
}

var (
	ErrInvalidAmount       = &AppError{Code: 400, Reason: ReasonInvalidAmount, Message: "Invalid amount"}
	ErrInvalidRecipient    = &AppError{Code: 400, Reason: ReasonInvalidRecipient, Message: "Invalid recipient"}
	ErrAccountNotFound     = &AppError{Code: 404, Reason: ReasonAccountNotFound, Message: "Account not found"}
	ErrAccountExists       = &AppError{Code: 409, Reason: ReasonAccountExists, Message: "Account already exists"}
	ErrAccessDenied        = &AppError{Code: 403, Reason: ReasonAccessDenied, Message: "Access denied"}
	ErrInsufficientFunds   = &AppError{Code: 422, Reason: ReasonInsufficientFunds, Message: "Insufficient funds"}
	ErrTransactionNotFound = &AppError{Code: 404, Reason: ReasonTransactionNotFound, Message: "Transaction not found"}
	ErrAlreadyProcessed    = &AppError{Code: 409, Reason: ReasonAlreadyProcessed, Message: "Transaction already processed"}
	ErrChallengeNotFound   = &AppError{Code: 404, Reason: ReasonChallengeNotFound, Message: "Challenge not found"}
	ErrAlreadyResolved     = &AppError{Code: 409, Reason: ReasonAlreadyResolved, Message: "Challenge already resolved"}
	ErrExpired             = &AppError{Code: 410, Reason: ReasonExpired, Message: "Challenge expired"}
	ErrAttemptsExhausted   = &AppError{Code: 423, Reason: ReasonAttemptsExhausted, Message: "Too many failed attempts"}
	ErrContextMismatch     = &AppError{Code: 400, Reason: ReasonContextMismatch, Message: "Challenge does not match the transaction"}
	ErrInvalidCode         = &AppError{Code: 400, Reason: ReasonInvalidCode, Message: "Invalid code"}
	ErrIntegrityViolation  = &AppError{Code: 500, Reason: ReasonIntegrityViolation, Message: "Balance integrity check failed"}
	ErrUnauthorized        = &AppError{Code: 401, Reason: ReasonUnauthorized, Message: "Invalid token"}
	ErrRateLimited         = &AppError{Code: 429, Reason: ReasonRateLimited, Message: "Too many requests"}
	ErrInternal            = &AppError{Code: 500, Reason: ReasonInternal, Message: "Internal server error"}
)

// newError copies base and attaches details and the underlying cause.
func newError(base *AppError, details string, err error) *AppError {
	e := *base
	e.Details = details
	e.Err = err
	return &e
}

// WithDetails returns a copy of e carrying details and cause.
func (e *AppError) WithDetails(details string, cause error) *AppError {
	return newError(e, details, cause)
}

func internalError(details string, err error) *AppError {
	return newError(ErrInternal, details, err)
}

// ReasonOf reports the reason carried by err, or ReasonInternal when err is
// not an AppError.
func ReasonOf(err error) Reason {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Reason
	}
	return ReasonInternal
}
