package state

import (
	"context"
	"errors"
	"time"

	"github.com/DarkZeros/sqlchain/foundation/sqlchain/database"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/store"
)

// closeParams carries the config values one close attempt runs under.
type closeParams struct {
	reward        uint64
	storageCost   uint64
	difficulty    uint16
	feePercent    uint64
	execCost      uint64
	transPerBlock int
	currentBlock  uint64
}

// CloseBlock attempts to close the next block with the specified mining
// nonce. Billing, execution, reward minting and cleanup are staged inside
// one store transaction: they commit together when the hash meets the
// difficulty target and are discarded together when it does not, leaving
// every ledger-affecting table exactly as before the call.
func (s *State) CloseBlock(ctx context.Context, minerPub []byte, serverPub []byte, nonce uint64) (database.BlockResult, error) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	minerID, err := database.ToAccountID(string(database.BytesToAccountID(minerPub)))
	if err != nil {
		return database.BlockResult{}, ErrInvalidAccountID
	}

	serverID, err := database.ToAccountID(string(database.BytesToAccountID(serverPub)))
	if err != nil {
		return database.BlockResult{}, ErrInvalidAccountID
	}

	s.evHandler("state: CloseBlock: started: miner[%s] nonce[%d]", minerID, nonce)

	var result database.BlockResult

	err = s.store.Update(func(tx *store.Tx) error {
		params, err := readCloseParams(tx)
		if err != nil {
			return err
		}

		s.evHandler("state: CloseBlock: BILLING: storage rent")

		if err := billStorage(tx, params.storageCost); err != nil {
			return err
		}

		s.evHandler("state: CloseBlock: EXECUTING: drain up to %d transactions", params.transPerBlock)

		receipts, err := s.executeTransactions(ctx, tx, params)
		if err != nil {
			return err
		}

		s.evHandler("state: CloseBlock: HASHING: %d receipts", len(receipts))

		seed, err := stageSeed(tx, receipts)
		if err != nil {
			return err
		}
		hash := database.BlockHash(seed, nonce)

		if !database.HashSolved(params.difficulty, hash) {
			result = database.BlockResult{
				Hash:    hash,
				Valid:   false,
				Message: "difficulty not met",
			}
			return errRollback
		}

		fee := params.reward * params.feePercent / 100

		if _, err := creditAccount(tx, minerID, params.reward-fee); err != nil {
			return err
		}
		if _, err := creditAccount(tx, serverID, fee); err != nil {
			return err
		}

		prevBlock, err := tx.LatestBlock()
		if err != nil {
			return err
		}

		number := params.currentBlock + 1
		block := database.Block{
			Header: database.BlockHeader{
				Number:        number,
				PrevBlockHash: prevBlock.Hash,
				BeneficiaryID: minerID,
				ServerID:      serverID,
				Difficulty:    params.difficulty,
				Nonce:         nonce,
				TransCount:    len(receipts),
				Reward:        params.reward,
				Fee:           fee,
				TimeStamp:     uint64(time.Now().UTC().Unix()),
			},
			Hash:     hash,
			Receipts: receipts,
		}

		if err := tx.SaveBlock(block); err != nil {
			return err
		}
		if err := tx.SetConfigValue(ParamCurrentBlock, number); err != nil {
			return err
		}

		removed, err := cleanupAccounts(tx)
		if err != nil {
			return err
		}
		s.evHandler("state: CloseBlock: CLEANUP: removed %d accounts", removed)

		result = database.BlockResult{
			BlockID: number,
			Hash:    hash,
			Valid:   true,
			Message: "block accepted",
		}
		return nil
	})

	switch {
	case errors.Is(err, errRollback):
		s.evHandler("state: CloseBlock: REJECTED: hash[%s]", result.Hash)
		return result, nil
	case err != nil:
		return database.BlockResult{}, err
	}

	s.evHandler("state: CloseBlock: ACCEPTED: block[%d] hash[%s]", result.BlockID, result.Hash)

	return result, nil
}

// =============================================================================

func readCloseParams(tx *store.Tx) (closeParams, error) {
	var params closeParams
	var err error

	read := func(name string, dst *uint64) {
		if err != nil {
			return
		}
		*dst, err = tx.ConfigValue(name)
	}

	var difficulty, transPerBlock uint64
	read(ParamBlockReward, &params.reward)
	read(ParamStorageCost, &params.storageCost)
	read(ParamDifficulty, &difficulty)
	read(ParamServerFeePercent, &params.feePercent)
	read(ParamExecCost, &params.execCost)
	read(ParamTransPerBlock, &transPerBlock)
	read(ParamCurrentBlock, &params.currentBlock)
	if err != nil {
		return closeParams{}, err
	}

	params.difficulty = uint16(difficulty)
	params.transPerBlock = int(transPerBlock)

	return params, nil
}

// billStorage charges every account rent for its namespace, independent of
// any other account. The rate is milli-credits per byte, the cost rounds up.
func billStorage(tx *store.Tx, storageCost uint64) error {
	accounts, err := tx.Accounts()
	if err != nil {
		return err
	}

	for _, account := range accounts {
		size, err := tx.NamespaceSize(account.AccountID)
		if err != nil {
			return err
		}

		cost := (size*storageCost + 999) / 1000
		if cost > account.Balance {
			cost = account.Balance
		}
		account.Balance -= cost

		if err := tx.SaveAccount(account); err != nil {
			return err
		}
	}

	return nil
}

// executeTransactions drains the pending queue in submission order and runs
// each payload under the executor, scoped to the submitting account's
// namespace and transfer capability and bounded by the execution timeout.
// Failures are recorded in the receipt and never abort the block. The
// execution cost is debited up front and is not refunded.
func (s *State) executeTransactions(ctx context.Context, tx *store.Tx, params closeParams) ([]database.TxReceipt, error) {
	ptxs, err := tx.DrainPending(params.transPerBlock)
	if err != nil {
		return nil, err
	}

	receipts := make([]database.TxReceipt, 0, len(ptxs))

	for _, ptx := range ptxs {
		receipt := database.TxReceipt{
			TxID:      ptx.TxID,
			AccountID: ptx.AccountID,
			Nonce:     ptx.Nonce,
		}

		account, err := tx.Account(ptx.AccountID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}

			// The account was cleaned up after admission.
			receipt.Error = ErrUnknownAccount.Error()
			receipts = append(receipts, receipt)
			continue
		}

		if account.Balance < params.execCost {
			account.Balance = 0
			if err := tx.SaveAccount(account); err != nil {
				return nil, err
			}

			receipt.Error = ErrInsufficientCredits.Error()
			receipts = append(receipts, receipt)
			continue
		}

		account.Balance -= params.execCost
		if err := tx.SaveAccount(account); err != nil {
			return nil, err
		}

		execCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
		ledger := txLedger{tx: tx, from: ptx.AccountID}
		err = s.executor.Execute(execCtx, string(ptx.AccountID), tx.Namespace(ptx.AccountID), ledger, ptx.Payload)
		cancel()

		if err != nil {
			receipt.Error = err.Error()
			s.evHandler("state: CloseBlock: EXECUTING: tx[%s] failed: %s", ptx.TxID, err)
		} else {
			receipt.Ok = true
		}

		receipts = append(receipts, receipt)
	}

	return receipts, nil
}

// stageSeed computes the hash seed over the staged ledger, the executed
// transaction log and the namespace contents. All three serializations are
// canonical, so the same staged state always produces the same seed.
func stageSeed(tx *store.Tx, receipts []database.TxReceipt) ([]byte, error) {
	accounts, err := tx.Accounts()
	if err != nil {
		return nil, err
	}

	nsDigest, err := tx.NamespacesDigest()
	if err != nil {
		return nil, err
	}

	return database.BlockSeed(database.LedgerHash(accounts), database.TxLogHash(receipts), nsDigest), nil
}
