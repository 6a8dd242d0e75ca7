// Package executor defines the capability the engine hands a transaction
// payload: an opaque execution scoped to the submitting account's own
// namespace. The engine never interprets payload semantics, it only
// accounts for the cost and records the outcome.
package executor

import (
	"context"
)

// Namespace is the storage surface a payload can reach. Implementations
// scope all three operations to the owning account's storage region.
type Namespace interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Ledger is the credit movement a payload may request. Implementations only
// ever move credits out of the executing account, creating the recipient on
// first credit, so a payload can never mutate ledger balances directly.
type Ledger interface {
	Transfer(toPub []byte, amount uint64) error
}

// Executor runs a payload on behalf of an account. Implementations must
// honor context cancellation so a stuck payload cannot stall the block.
type Executor interface {
	Execute(ctx context.Context, accountID string, ns Namespace, ledger Ledger, payload []byte) error
}

// Func adapts an ordinary function to the Executor interface.
type Func func(ctx context.Context, accountID string, ns Namespace, ledger Ledger, payload []byte) error

// Execute implements the Executor interface.
func (f Func) Execute(ctx context.Context, accountID string, ns Namespace, ledger Ledger, payload []byte) error {
	return f(ctx, accountID, ns, ledger, payload)
}
