package state

import (
	"errors"
	"fmt"
)

// Error variables surfaced by the engine's operations.
var (
	// ErrUnknownAccount is returned when a transaction references an
	// account that has no ledger entry. Accounts are never created
	// implicitly at admission.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrInvalidSignature is returned when a transaction signature does
	// not verify against the account's public key.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidAccountID is returned when a provided public key does not
	// decode to a valid account id.
	ErrInvalidAccountID = errors.New("invalid account id")

	// ErrInsufficientCredits is returned when an account cannot cover a
	// requested transfer or the cost of an execution.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrNotFound is returned by queries for records that don't exist.
	ErrNotFound = errors.New("not found")
)

// errRollback forces the store to discard everything staged inside a close
// attempt. It never escapes the engine.
var errRollback = errors.New("discard staged state")

// InvalidNonceError is returned when a transaction nonce is not the strict
// successor of the account's stored nonce.
type InvalidNonceError struct {
	Expected uint64
	Got      uint64
}

// Error implements the error interface.
func (e InvalidNonceError) Error() string {
	return fmt.Sprintf("invalid nonce, expected %d, got %d", e.Expected, e.Got)
}
