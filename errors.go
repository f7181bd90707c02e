package taxlot

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("invalid input")
	// ErrInsufficientShares is matched by every *InsufficientSharesError.
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrConflict is matched by every *ConflictError. The operation can be retried.
	ErrConflict = errors.New("concurrent modification")
	// ErrUnknownLot is returned when a lot id is not an open lot of the account and symbol.
	ErrUnknownLot = errors.New("unknown lot")
	// ErrUnknownAccount is returned when an account id is not registered.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrUnknownBasis is matched by every *UnknownBasisError.
	ErrUnknownBasis = errors.New("unknown cost basis")
	// ErrPriceUnavailable is returned by a PriceLookup that has no price for a symbol.
	ErrPriceUnavailable = errors.New("price unavailable")
)

// ValidationError reports an input with the wrong shape or out of range.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InsufficientSharesError reports a sale larger than the open position.
type InsufficientSharesError struct {
	AccountID string
	Symbol    string
	Available Quantity
	Requested Quantity
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("insufficient shares of %s in account %q: %s available, %s requested", e.Symbol, e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientSharesError) Is(target error) bool { return target == ErrInsufficientShares }

// ConflictError reports a lot modified since it was read.
type ConflictError struct {
	LotID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("lot %q was modified concurrently, retry the operation", e.LotID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// UnknownBasisError reports a sale reaching a lot whose cost basis was never
// recorded. It also matches ErrValidation.
type UnknownBasisError struct {
	LotID string
}

func (e *UnknownBasisError) Error() string {
	return fmt.Sprintf("lot %q has no known cost basis", e.LotID)
}

func (e *UnknownBasisError) Is(target error) bool {
	return target == ErrUnknownBasis || target == ErrValidation
}
