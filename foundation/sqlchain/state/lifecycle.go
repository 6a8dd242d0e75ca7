package state

import (
	"errors"

	"github.com/DarkZeros/sqlchain/foundation/sqlchain/database"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/store"
)

// Credit adds credits to the account owning the specified public key. The
// first credit creates the ledger entry with a zero nonce and provisions
// the account's isolated namespace.
func (s *State) Credit(pub []byte, amount uint64) (database.Account, error) {
	accountID, err := database.ToAccountID(string(database.BytesToAccountID(pub)))
	if err != nil {
		return database.Account{}, ErrInvalidAccountID
	}

	var account database.Account
	err = s.store.Update(func(tx *store.Tx) error {
		account, err = creditAccount(tx, accountID, amount)
		return err
	})
	if err != nil {
		return database.Account{}, err
	}

	s.evHandler("state: Credit: account[%s] amount[%d] balance[%d]", accountID, amount, account.Balance)

	return account, nil
}

// Cleanup deletes every account whose balance has reached zero, cascading
// the deletion of its namespace. It runs automatically at the end of every
// accepted block and may also be invoked standalone.
func (s *State) Cleanup() (int, error) {
	var removed int

	err := s.store.Update(func(tx *store.Tx) error {
		var err error
		removed, err = cleanupAccounts(tx)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.evHandler("state: Cleanup: removed %d accounts", removed)

	return removed, nil
}

// =============================================================================

// txLedger is the transfer capability handed to the executor for one
// transaction. Credits only ever leave the executing account, and the
// recipient account is created on first credit like any other. The handle
// writes into the staged close transaction, so transfers commit or roll
// back together with the rest of the block.
type txLedger struct {
	tx   *store.Tx
	from database.AccountID
}

// Transfer implements the executor.Ledger interface.
func (l txLedger) Transfer(toPub []byte, amount uint64) error {
	toID, err := database.ToAccountID(string(database.BytesToAccountID(toPub)))
	if err != nil {
		return ErrInvalidAccountID
	}

	from, err := l.tx.Account(l.from)
	if err != nil {
		return err
	}

	if from.Balance < amount {
		return ErrInsufficientCredits
	}

	from.Balance -= amount
	if err := l.tx.SaveAccount(from); err != nil {
		return err
	}

	_, err = creditAccount(l.tx, toID, amount)
	return err
}

// =============================================================================

// creditAccount applies a credit inside the specified transaction, creating
// the account and its namespace when this is the first credit.
func creditAccount(tx *store.Tx, accountID database.AccountID, amount uint64) (database.Account, error) {
	account, err := tx.Account(accountID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		account = database.NewAccount(accountID, amount)
		if err := tx.CreateNamespace(accountID); err != nil {
			return database.Account{}, err
		}
	case err != nil:
		return database.Account{}, err
	default:
		account.Balance += amount
	}

	if err := tx.SaveAccount(account); err != nil {
		return database.Account{}, err
	}

	return account, nil
}

// cleanupAccounts removes all zero balance accounts and their namespaces
// inside the specified transaction.
func cleanupAccounts(tx *store.Tx) (int, error) {
	accounts, err := tx.Accounts()
	if err != nil {
		return 0, err
	}

	var removed int
	for _, account := range accounts {
		if account.Balance > 0 {
			continue
		}

		if err := tx.DeleteAccount(account.AccountID); err != nil {
			return removed, err
		}
		if err := tx.DeleteNamespace(account.AccountID); err != nil {
			return removed, err
		}
		removed++
	}

	return removed, nil
}
