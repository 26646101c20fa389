package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrCycleExists          = errors.New("cycle already exists for date")
	ErrInsufficientFixtures = errors.New("insufficient selectable fixtures")
	ErrLockHeld             = errors.New("lock already held")
	ErrAlreadyEvaluated     = errors.New("cycle already evaluated")
	ErrCycleNotResolved     = errors.New("cycle not resolved")
	ErrSlipMismatch         = errors.New("slip does not match cycle")
	ErrBettingClosed        = errors.New("betting deadline has passed")
	ErrCycleHasSlips        = errors.New("cycle has placed slips")
	ErrInvalidTransition    = errors.New("invalid cycle state transition")
	ErrDataIntegrity        = errors.New("data integrity violation")
	ErrContextDone          = errors.New("context cancelled")
)

// ProviderErrorKind is the closed set of failure classes the sports provider
// adapter can report. Callers branch on the kind, never on message text.
type ProviderErrorKind string

const (
	ProviderRateLimited ProviderErrorKind = "rate_limited"
	ProviderTransient   ProviderErrorKind = "transient"
	ProviderNotFound    ProviderErrorKind = "not_found"
	ProviderMalformed   ProviderErrorKind = "malformed"
	ProviderAuth        ProviderErrorKind = "auth"
)

// ProviderError is a classified failure from the sports data provider.
type ProviderError struct {
	Kind ProviderErrorKind
	Op   string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("provider: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is expected to clear on its own.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ProviderTransient || e.Kind == ProviderRateLimited
}

// AsProviderError unwraps err into a *ProviderError if one is in the chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// LedgerErrorKind is the closed set of failure classes the ledger client can
// report.
type LedgerErrorKind string

const (
	LedgerNonceCollision    LedgerErrorKind = "nonce_collision"
	LedgerInsufficientFunds LedgerErrorKind = "insufficient_funds"
	LedgerReverted          LedgerErrorKind = "reverted"
	LedgerTransient         LedgerErrorKind = "rpc_transient"
	LedgerTimeout           LedgerErrorKind = "timeout"
)

// LedgerError is a classified failure from the Oddyssey contract client.
// Reason carries the decoded revert reason when Kind is LedgerReverted.
type LedgerError struct {
	Kind   LedgerErrorKind
	Op     string
	Reason string
	Err    error
}

func (e *LedgerError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("ledger: %s: %s: %s", e.Op, e.Kind, e.Reason)
	}
	if e.Err == nil {
		return fmt.Sprintf("ledger: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("ledger: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Retryable reports whether resubmitting the call may succeed.
func (e *LedgerError) Retryable() bool {
	switch e.Kind {
	case LedgerTransient, LedgerTimeout, LedgerNonceCollision:
		return true
	default:
		return false
	}
}

// AsLedgerError unwraps err into a *LedgerError if one is in the chain.
func AsLedgerError(err error) (*LedgerError, bool) {
	var le *LedgerError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
