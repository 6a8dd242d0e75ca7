package state

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/DarkZeros/sqlchain/foundation/sqlchain/database"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/store"
)

// MiningInfo carries everything a miner needs to search for a winning
// nonce off-engine: hash the seed with candidate nonces until the required
// number of leading zeros appears, then call CloseBlock with the winner.
type MiningInfo struct {
	NextBlock    uint64 `json:"next_block"`
	Seed         string `json:"seed"`
	Difficulty   uint16 `json:"difficulty"`
	Reward       uint64 `json:"reward"`
	PendingCount int    `json:"pending_count"`
}

// QueryAccount returns a copy of the ledger entry for an account.
func (s *State) QueryAccount(accountID database.AccountID) (database.Account, error) {
	var account database.Account

	err := s.store.View(func(tx *store.Tx) error {
		var err error
		account, err = tx.Account(accountID)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return database.Account{}, ErrNotFound
		}
		return database.Account{}, err
	}

	return account, nil
}

// QueryAccounts returns a copy of the full ledger, ordered by account id.
func (s *State) QueryAccounts() ([]database.Account, error) {
	var accounts []database.Account

	err := s.store.View(func(tx *store.Tx) error {
		var err error
		accounts, err = tx.Accounts()
		return err
	})
	if err != nil {
		return nil, err
	}

	return accounts, nil
}

// QueryBlock returns the block with the specified number.
func (s *State) QueryBlock(number uint64) (database.Block, error) {
	var block database.Block

	err := s.store.View(func(tx *store.Tx) error {
		var err error
		block, err = tx.Block(number)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return database.Block{}, ErrNotFound
		}
		return database.Block{}, err
	}

	return block, nil
}

// QueryLatestBlock returns the latest finalized block.
func (s *State) QueryLatestBlock() (database.Block, error) {
	var block database.Block

	err := s.store.View(func(tx *store.Tx) error {
		var err error
		block, err = tx.LatestBlock()
		return err
	})
	if err != nil {
		return database.Block{}, err
	}

	return block, nil
}

// QueryConfig returns a copy of the config table.
func (s *State) QueryConfig() (map[string]uint64, error) {
	var values map[string]uint64

	err := s.store.View(func(tx *store.Tx) error {
		var err error
		values, err = tx.ConfigValues()
		return err
	})
	if err != nil {
		return nil, err
	}

	return values, nil
}

// QueryPendingCount returns the current length of the pending queue.
func (s *State) QueryPendingCount() (int, error) {
	var count int

	err := s.store.View(func(tx *store.Tx) error {
		count = tx.PendingCount()
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// QueryMiningInfo stages billing and execution exactly as a close attempt
// would, computes the resulting hash seed and discards everything. Since
// closing is deterministic over the same pre-state, the seed lets miners
// search nonces without touching the engine again.
func (s *State) QueryMiningInfo(ctx context.Context) (MiningInfo, error) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	var info MiningInfo

	err := s.store.Update(func(tx *store.Tx) error {
		params, err := readCloseParams(tx)
		if err != nil {
			return err
		}

		pending := tx.PendingCount()

		if err := billStorage(tx, params.storageCost); err != nil {
			return err
		}

		receipts, err := s.executeTransactions(ctx, tx, params)
		if err != nil {
			return err
		}

		seed, err := stageSeed(tx, receipts)
		if err != nil {
			return err
		}

		info = MiningInfo{
			NextBlock:    params.currentBlock + 1,
			Seed:         hex.EncodeToString(seed),
			Difficulty:   params.difficulty,
			Reward:       params.reward,
			PendingCount: pending,
		}

		// The staged state is only needed for the seed.
		return errRollback
	})
	if !errors.Is(err, errRollback) {
		return MiningInfo{}, err
	}

	return info, nil
}
