package state

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/DarkZeros/sqlchain/foundation/sqlchain/database"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/store"
)

// SubmitTransaction validates a submitted transaction and admits it into
// the pending queue. On success the account's stored nonce is bumped
// immediately, so a concurrent resubmission with the same nonce is rejected
// even before the first transaction executes. Validation failures are
// all-or-nothing: no nonce bump, no queue entry.
func (s *State) SubmitTransaction(signedTx database.SignedTx) (string, error) {
	s.evHandler("state: SubmitTransaction: started: tx[%s]", signedTx)

	mu := s.accountLock(signedTx.AccountID)
	mu.Lock()
	defer mu.Unlock()

	txID := uuid.NewString()

	err := s.store.Update(func(tx *store.Tx) error {
		account, err := tx.Account(signedTx.AccountID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUnknownAccount
			}
			return err
		}

		expected := account.Nonce + 1
		if signedTx.Nonce != expected {
			return InvalidNonceError{Expected: expected, Got: signedTx.Nonce}
		}

		if err := signedTx.Validate(); err != nil {
			return ErrInvalidSignature
		}

		account.Nonce = expected
		if err := tx.SaveAccount(account); err != nil {
			return err
		}

		ptx := database.PendingTx{
			SignedTx:  signedTx,
			TxID:      txID,
			TimeStamp: uint64(time.Now().UTC().Unix()),
		}
		if _, err := tx.AppendPending(ptx); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		s.evHandler("state: SubmitTransaction: rejected: tx[%s]: %s", signedTx, err)
		return "", err
	}

	s.evHandler("state: SubmitTransaction: admitted: tx[%s] id[%s]", signedTx, txID)

	return txID, nil
}
