package state_test

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/DarkZeros/sqlchain/foundation/sqlchain/database"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/executor"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/genesis"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/signature"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/state"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// =============================================================================

func newGenesis(difficulty uint16, balances map[string]uint64) genesis.Genesis {
	return genesis.Genesis{
		Date:             time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		ChainID:          1,
		TransPerBlock:    100,
		Difficulty:       difficulty,
		BlockReward:      1_000_000_000_000,
		ServerFeePercent: 1,
		StorageCost:      0,
		ExecCost:         100,
		Balances:         balances,
	}
}

func newState(t *testing.T, gen genesis.Genesis, exctr executor.Executor) *state.State {
	t.Helper()

	if exctr == nil {
		exctr = executor.Func(func(ctx context.Context, accountID string, ns executor.Namespace, ledger executor.Ledger, payload []byte) error {
			return nil
		})
	}

	st, err := state.New(state.Config{
		Genesis:  gen,
		DBPath:   filepath.Join(t.TempDir(), "chain.db"),
		Executor: exctr,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the state: %v", failed, err)
	}
	t.Cleanup(func() { st.Shutdown() })

	return st
}

func genKey(t *testing.T) (*ecdsa.PrivateKey, database.AccountID) {
	t.Helper()

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}

	return privateKey, database.PublicKeyToAccountID(privateKey.PublicKey)
}

func signaturePub(privateKey *ecdsa.PrivateKey) []byte {
	return signature.PublicKeyBytes(&privateKey.PublicKey)
}

func mustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()

	data, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to decode the hex seed: %v", failed, err)
	}

	return data
}

func signTx(t *testing.T, privateKey *ecdsa.PrivateKey, payload []byte, nonce uint64) database.SignedTx {
	t.Helper()

	pub := signaturePub(privateKey)
	sig, err := signature.Sign(pub, payload, nonce, privateKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign the transaction: %v", failed, err)
	}

	return database.SignedTx{
		AccountID: database.BytesToAccountID(pub),
		Payload:   payload,
		Nonce:     nonce,
		Sig:       sig,
	}
}

// =============================================================================

func Test_SubmitTransaction(t *testing.T) {
	key, accountID := genKey(t)
	gen := newGenesis(0, map[string]uint64{string(accountID): 1000})
	st := newState(t, gen, nil)

	t.Log("Given the need to validate transaction admission.")
	{
		t.Log("\tWhen submitting a valid transaction with nonce 1.")
		{
			tx := signTx(t, key, []byte("payload"), 1)

			txID, err := st.SubmitTransaction(tx)
			if err != nil {
				t.Fatalf("\t%s\tShould be able to submit the transaction: %v", failed, err)
			}
			t.Logf("\t%s\tShould be able to submit the transaction.", success)

			if txID == "" {
				t.Fatalf("\t%s\tShould receive a transaction id.", failed)
			}
			t.Logf("\t%s\tShould receive a transaction id.", success)

			account, err := st.QueryAccount(accountID)
			if err != nil {
				t.Fatalf("\t%s\tShould be able to query the account: %v", failed, err)
			}
			if account.Nonce != 1 {
				t.Fatalf("\t%s\tShould see the nonce bumped at admission, got %d.", failed, account.Nonce)
			}
			t.Logf("\t%s\tShould see the nonce bumped at admission.", success)
		}

		t.Log("\tWhen replaying the same nonce.")
		{
			tx := signTx(t, key, []byte("payload"), 1)

			_, err := st.SubmitTransaction(tx)
			var nonceErr state.InvalidNonceError
			if !errors.As(err, &nonceErr) {
				t.Fatalf("\t%s\tShould be rejected with an invalid nonce error: %v", failed, err)
			}
			if nonceErr.Expected != 2 || nonceErr.Got != 1 {
				t.Fatalf("\t%s\tShould report expected 2 got 1, got expected %d got %d.", failed, nonceErr.Expected, nonceErr.Got)
			}
			t.Logf("\t%s\tShould be rejected with invalid nonce, expected 2 got 1.", success)
		}

		t.Log("\tWhen submitting with a tampered signature.")
		{
			tx := signTx(t, key, []byte("payload"), 2)
			tx.Payload = []byte("other payload")

			_, err := st.SubmitTransaction(tx)
			if !errors.Is(err, state.ErrInvalidSignature) {
				t.Fatalf("\t%s\tShould be rejected with an invalid signature error: %v", failed, err)
			}
			t.Logf("\t%s\tShould be rejected with an invalid signature error.", success)

			account, _ := st.QueryAccount(accountID)
			if account.Nonce != 1 {
				t.Fatalf("\t%s\tShould not bump the nonce on a failed admission, got %d.", failed, account.Nonce)
			}
			t.Logf("\t%s\tShould not bump the nonce on a failed admission.", success)
		}

		t.Log("\tWhen submitting for an unknown account.")
		{
			otherKey, _ := genKey(t)
			tx := signTx(t, otherKey, []byte("payload"), 1)

			if _, err := st.SubmitTransaction(tx); !errors.Is(err, state.ErrUnknownAccount) {
				t.Fatalf("\t%s\tShould be rejected with an unknown account error: %v", failed, err)
			}
			t.Logf("\t%s\tShould be rejected with an unknown account error.", success)
		}
	}
}

func Test_NonceMonotonicity(t *testing.T) {
	key, accountID := genKey(t)
	gen := newGenesis(0, map[string]uint64{string(accountID): 1000})
	st := newState(t, gen, nil)

	t.Log("Given the need to validate two submissions with the same nonce never both succeed.")
	{
		const goroutines = 8
		tx := signTx(t, key, []byte("payload"), 1)

		var wg sync.WaitGroup
		var mu sync.Mutex
		var succeeded int

		wg.Add(goroutines)
		for i := 0; i < goroutines; i++ {
			go func() {
				defer wg.Done()
				if _, err := st.SubmitTransaction(tx); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if succeeded != 1 {
			t.Fatalf("\t%s\tShould have exactly one successful submission, got %d.", failed, succeeded)
		}
		t.Logf("\t%s\tShould have exactly one successful submission.", success)
	}
}

func Test_CloseBlockRejected(t *testing.T) {
	key, accountID := genKey(t)

	// A difficulty of 64 zero characters can never be met, so every close
	// attempt takes the rejection path.
	gen := newGenesis(64, map[string]uint64{string(accountID): 1000})
	st := newState(t, gen, nil)

	minerKey, _ := genKey(t)
	serverKey, _ := genKey(t)
	minerPub := signaturePub(minerKey)
	serverPub := signaturePub(serverKey)

	t.Log("Given the need to validate a rejected close leaves all state untouched.")
	{
		if _, err := st.SubmitTransaction(signTx(t, key, []byte("payload"), 1)); err != nil {
			t.Fatalf("\t%s\tShould be able to submit a transaction: %v", failed, err)
		}

		beforeAccounts, _ := st.QueryAccounts()
		beforeConfig, _ := st.QueryConfig()
		beforePending, _ := st.QueryPendingCount()

		result, err := st.CloseBlock(context.Background(), minerPub, serverPub, 7)
		if err != nil {
			t.Fatalf("\t%s\tShould not get an error from a rejected close: %v", failed, err)
		}
		if result.Valid {
			t.Fatalf("\t%s\tShould be rejected at difficulty 64.", failed)
		}
		t.Logf("\t%s\tShould be rejected at difficulty 64.", success)

		if result.Hash == "" {
			t.Fatalf("\t%s\tShould still compute and return the hash.", failed)
		}
		t.Logf("\t%s\tShould still compute and return the hash.", success)

		afterAccounts, _ := st.QueryAccounts()
		afterConfig, _ := st.QueryConfig()
		afterPending, _ := st.QueryPendingCount()

		if !reflect.DeepEqual(beforeAccounts, afterAccounts) {
			t.Fatalf("\t%s\tShould leave the ledger untouched.", failed)
		}
		t.Logf("\t%s\tShould leave the ledger untouched.", success)

		if !reflect.DeepEqual(beforeConfig, afterConfig) {
			t.Fatalf("\t%s\tShould leave the config untouched.", failed)
		}
		t.Logf("\t%s\tShould leave the config untouched.", success)

		if beforePending != afterPending {
			t.Fatalf("\t%s\tShould leave the pending queue untouched, had %d got %d.", failed, beforePending, afterPending)
		}
		t.Logf("\t%s\tShould leave the pending queue untouched.", success)
	}
}

func Test_HashDeterminism(t *testing.T) {
	key, accountID := genKey(t)
	gen := newGenesis(64, map[string]uint64{string(accountID): 1000})
	st := newState(t, gen, nil)

	minerKey, _ := genKey(t)
	serverKey, _ := genKey(t)
	minerPub := signaturePub(minerKey)
	serverPub := signaturePub(serverKey)

	t.Log("Given the need to validate close produces the same hash for the same state and nonce.")
	{
		if _, err := st.SubmitTransaction(signTx(t, key, []byte("payload"), 1)); err != nil {
			t.Fatalf("\t%s\tShould be able to submit a transaction: %v", failed, err)
		}

		first, err := st.CloseBlock(context.Background(), minerPub, serverPub, 42)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to attempt a close: %v", failed, err)
		}

		second, err := st.CloseBlock(context.Background(), minerPub, serverPub, 42)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to attempt a second close: %v", failed, err)
		}

		if first.Hash != second.Hash {
			t.Fatalf("\t%s\tShould compute identical hashes, got %s and %s.", failed, first.Hash, second.Hash)
		}
		t.Logf("\t%s\tShould compute identical hashes for both attempts.", success)
	}
}

func Test_CloseBlockAccepted(t *testing.T) {
	key, accountID := genKey(t)
	gen := newGenesis(0, map[string]uint64{string(accountID): 1000})
	st := newState(t, gen, nil)

	minerKey, minerID := genKey(t)
	serverKey, serverID := genKey(t)
	minerPub := signaturePub(minerKey)
	serverPub := signaturePub(serverKey)

	t.Log("Given the need to validate an accepted block applies every effect.")
	{
		if _, err := st.SubmitTransaction(signTx(t, key, []byte("payload"), 1)); err != nil {
			t.Fatalf("\t%s\tShould be able to submit a transaction: %v", failed, err)
		}

		result, err := st.CloseBlock(context.Background(), minerPub, serverPub, 7)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to close the block: %v", failed, err)
		}
		if !result.Valid {
			t.Fatalf("\t%s\tShould be accepted at difficulty 0: %s", failed, result.Message)
		}
		t.Logf("\t%s\tShould be accepted at difficulty 0.", success)

		if result.BlockID != 1 {
			t.Fatalf("\t%s\tShould close block 1, got %d.", failed, result.BlockID)
		}
		t.Logf("\t%s\tShould close block 1.", success)

		// Reward conservation: the two deltas sum to the full reward.
		miner, err := st.QueryAccount(minerID)
		if err != nil {
			t.Fatalf("\t%s\tShould find the miner account: %v", failed, err)
		}
		server, err := st.QueryAccount(serverID)
		if err != nil {
			t.Fatalf("\t%s\tShould find the server account: %v", failed, err)
		}

		if miner.Balance != 990_000_000_000 {
			t.Fatalf("\t%s\tShould pay the miner 990_000_000_000, got %d.", failed, miner.Balance)
		}
		t.Logf("\t%s\tShould pay the miner 990_000_000_000.", success)

		if server.Balance != 10_000_000_000 {
			t.Fatalf("\t%s\tShould pay the server 10_000_000_000, got %d.", failed, server.Balance)
		}
		t.Logf("\t%s\tShould pay the server 10_000_000_000.", success)

		if miner.Balance+server.Balance != gen.BlockReward {
			t.Fatalf("\t%s\tShould conserve the full reward.", failed)
		}
		t.Logf("\t%s\tShould conserve the full reward.", success)

		// The submitter paid the execution cost.
		account, _ := st.QueryAccount(accountID)
		if account.Balance != 1000-gen.ExecCost {
			t.Fatalf("\t%s\tShould debit the execution cost, got balance %d.", failed, account.Balance)
		}
		t.Logf("\t%s\tShould debit the execution cost.", success)

		// The chain advanced and is hash chained.
		config, _ := st.QueryConfig()
		if config[state.ParamCurrentBlock] != 1 {
			t.Fatalf("\t%s\tShould advance current_block to 1, got %d.", failed, config[state.ParamCurrentBlock])
		}
		t.Logf("\t%s\tShould advance current_block to 1.", success)

		genesisBlock, err := st.QueryBlock(0)
		if err != nil {
			t.Fatalf("\t%s\tShould find the genesis block: %v", failed, err)
		}
		block, err := st.QueryBlock(1)
		if err != nil {
			t.Fatalf("\t%s\tShould find block 1: %v", failed, err)
		}
		if block.Header.PrevBlockHash != genesisBlock.Hash {
			t.Fatalf("\t%s\tShould chain block 1 to the genesis hash.", failed)
		}
		t.Logf("\t%s\tShould chain block 1 to the genesis hash.", success)

		if block.Header.TransCount != 1 || len(block.Receipts) != 1 || !block.Receipts[0].Ok {
			t.Fatalf("\t%s\tShould record one successful receipt.", failed)
		}
		t.Logf("\t%s\tShould record one successful receipt.", success)

		// The pending queue drained.
		pending, _ := st.QueryPendingCount()
		if pending != 0 {
			t.Fatalf("\t%s\tShould drain the pending queue, got %d.", failed, pending)
		}
		t.Logf("\t%s\tShould drain the pending queue.", success)

		// Cleanup invariant: no account is left at zero.
		accounts, _ := st.QueryAccounts()
		for _, a := range accounts {
			if a.Balance == 0 {
				t.Fatalf("\t%s\tShould not leave zero balance account %s.", failed, a.AccountID)
			}
		}
		t.Logf("\t%s\tShould not leave any zero balance accounts.", success)
	}
}

func Test_ReplayAfterAcceptance(t *testing.T) {
	key, accountID := genKey(t)
	gen := newGenesis(0, map[string]uint64{string(accountID): 1000})
	st := newState(t, gen, nil)

	minerKey, _ := genKey(t)
	serverKey, _ := genKey(t)

	t.Log("Given the need to validate an executed transaction cannot be replayed.")
	{
		tx := signTx(t, key, []byte("payload"), 1)
		if _, err := st.SubmitTransaction(tx); err != nil {
			t.Fatalf("\t%s\tShould be able to submit the transaction: %v", failed, err)
		}

		result, err := st.CloseBlock(context.Background(), signaturePub(minerKey), signaturePub(serverKey), 7)
		if err != nil || !result.Valid {
			t.Fatalf("\t%s\tShould be able to close the block: %v", failed, err)
		}

		_, err = st.SubmitTransaction(tx)
		var nonceErr state.InvalidNonceError
		if !errors.As(err, &nonceErr) {
			t.Fatalf("\t%s\tShould reject the replay with an invalid nonce error: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject the replay with an invalid nonce error.", success)
	}
}

func Test_ExecutionFailureRecorded(t *testing.T) {
	key, accountID := genKey(t)
	gen := newGenesis(0, map[string]uint64{string(accountID): 1000})

	exctr := executor.Func(func(ctx context.Context, account string, ns executor.Namespace, ledger executor.Ledger, payload []byte) error {
		return errors.New("payload raised an error")
	})
	st := newState(t, gen, exctr)

	minerKey, _ := genKey(t)
	serverKey, _ := genKey(t)

	t.Log("Given the need to validate execution failures do not abort the block.")
	{
		if _, err := st.SubmitTransaction(signTx(t, key, []byte("payload"), 1)); err != nil {
			t.Fatalf("\t%s\tShould be able to submit the transaction: %v", failed, err)
		}

		result, err := st.CloseBlock(context.Background(), signaturePub(minerKey), signaturePub(serverKey), 7)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to close the block: %v", failed, err)
		}
		if !result.Valid {
			t.Fatalf("\t%s\tShould still accept the block: %s", failed, result.Message)
		}
		t.Logf("\t%s\tShould still accept the block.", success)

		block, _ := st.QueryBlock(1)
		if len(block.Receipts) != 1 || block.Receipts[0].Ok || block.Receipts[0].Error == "" {
			t.Fatalf("\t%s\tShould record the failure in the receipt.", failed)
		}
		t.Logf("\t%s\tShould record the failure in the receipt.", success)

		// The execution cost is not refunded.
		account, _ := st.QueryAccount(accountID)
		if account.Balance != 1000-gen.ExecCost {
			t.Fatalf("\t%s\tShould keep the execution cost debited, got %d.", failed, account.Balance)
		}
		t.Logf("\t%s\tShould keep the execution cost debited.", success)
	}
}

func Test_InsufficientExecutionCredits(t *testing.T) {
	key, accountID := genKey(t)

	// The balance cannot cover the execution cost.
	gen := newGenesis(0, map[string]uint64{string(accountID): 50})

	var invoked bool
	exctr := executor.Func(func(ctx context.Context, account string, ns executor.Namespace, ledger executor.Ledger, payload []byte) error {
		invoked = true
		return nil
	})
	st := newState(t, gen, exctr)

	minerKey, _ := genKey(t)
	serverKey, _ := genKey(t)

	t.Log("Given the need to validate cost-insufficient transactions fail without executing.")
	{
		if _, err := st.SubmitTransaction(signTx(t, key, []byte("payload"), 1)); err != nil {
			t.Fatalf("\t%s\tShould be able to submit the transaction: %v", failed, err)
		}

		result, err := st.CloseBlock(context.Background(), signaturePub(minerKey), signaturePub(serverKey), 7)
		if err != nil || !result.Valid {
			t.Fatalf("\t%s\tShould be able to close the block: %v", failed, err)
		}

		if invoked {
			t.Fatalf("\t%s\tShould not invoke the executor.", failed)
		}
		t.Logf("\t%s\tShould not invoke the executor.", success)

		block, _ := st.QueryBlock(1)
		if len(block.Receipts) != 1 || block.Receipts[0].Ok {
			t.Fatalf("\t%s\tShould record the transaction as failed.", failed)
		}
		t.Logf("\t%s\tShould record the transaction as failed.", success)

		// The zeroed account is gone after cleanup.
		if _, err := st.QueryAccount(accountID); !errors.Is(err, state.ErrNotFound) {
			t.Fatalf("\t%s\tShould have cleaned up the zeroed account: %v", failed, err)
		}
		t.Logf("\t%s\tShould have cleaned up the zeroed account.", success)
	}
}

func Test_StorageBilling(t *testing.T) {
	key, accountID := genKey(t)

	gen := newGenesis(0, map[string]uint64{string(accountID): 100_000})
	gen.StorageCost = 1000 // one credit per byte per block

	// The payload writes 10 bytes of key plus 10 bytes of value into the
	// account's namespace.
	exctr := executor.Func(func(ctx context.Context, account string, ns executor.Namespace, ledger executor.Ledger, payload []byte) error {
		return ns.Put([]byte("0123456789"), []byte("abcdefghij"))
	})
	st := newState(t, gen, exctr)

	minerKey, _ := genKey(t)
	serverKey, _ := genKey(t)
	minerPub := signaturePub(minerKey)
	serverPub := signaturePub(serverKey)

	t.Log("Given the need to validate storage rent billing.")
	{
		if _, err := st.SubmitTransaction(signTx(t, key, []byte("write"), 1)); err != nil {
			t.Fatalf("\t%s\tShould be able to submit the transaction: %v", failed, err)
		}

		result, err := st.CloseBlock(context.Background(), minerPub, serverPub, 7)
		if err != nil || !result.Valid {
			t.Fatalf("\t%s\tShould be able to close the first block: %v", failed, err)
		}

		account, _ := st.QueryAccount(accountID)
		afterFirst := account.Balance
		if afterFirst != 100_000-gen.ExecCost {
			t.Fatalf("\t%s\tShould only pay the execution cost in the first block, got %d.", failed, afterFirst)
		}
		t.Logf("\t%s\tShould only pay the execution cost in the first block.", success)

		// The second block bills rent for the 20 bytes written.
		result, err = st.CloseBlock(context.Background(), minerPub, serverPub, 8)
		if err != nil || !result.Valid {
			t.Fatalf("\t%s\tShould be able to close the second block: %v", failed, err)
		}

		account, _ = st.QueryAccount(accountID)
		if account.Balance != afterFirst-20 {
			t.Fatalf("\t%s\tShould bill 20 credits rent, got balance %d want %d.", failed, account.Balance, afterFirst-20)
		}
		t.Logf("\t%s\tShould bill 20 credits rent for 20 namespace bytes.", success)
	}
}

func Test_MiningInfoOffEngineSearch(t *testing.T) {
	key, accountID := genKey(t)
	gen := newGenesis(1, map[string]uint64{string(accountID): 1000})
	st := newState(t, gen, nil)

	minerKey, _ := genKey(t)
	serverKey, _ := genKey(t)

	t.Log("Given the need to validate a nonce found off-engine closes the block.")
	{
		if _, err := st.SubmitTransaction(signTx(t, key, []byte("payload"), 1)); err != nil {
			t.Fatalf("\t%s\tShould be able to submit the transaction: %v", failed, err)
		}

		info, err := st.QueryMiningInfo(context.Background())
		if err != nil {
			t.Fatalf("\t%s\tShould be able to query mining info: %v", failed, err)
		}
		if info.NextBlock != 1 || info.PendingCount != 1 {
			t.Fatalf("\t%s\tShould report block 1 and one pending transaction.", failed)
		}
		t.Logf("\t%s\tShould report block 1 and one pending transaction.", success)

		seed := mustDecodeHex(t, info.Seed)

		var nonce uint64
		for !database.HashSolved(info.Difficulty, database.BlockHash(seed, nonce)) {
			nonce++
		}
		t.Logf("\t%s\tShould find a winning nonce off-engine: %d.", success, nonce)

		result, err := st.CloseBlock(context.Background(), signaturePub(minerKey), signaturePub(serverKey), nonce)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to close the block: %v", failed, err)
		}
		if !result.Valid {
			t.Fatalf("\t%s\tShould accept the block with the found nonce: %s", failed, result.Message)
		}
		t.Logf("\t%s\tShould accept the block with the found nonce.", success)

		if result.Hash != database.BlockHash(seed, nonce) {
			t.Fatalf("\t%s\tShould reproduce the off-engine hash.", failed)
		}
		t.Logf("\t%s\tShould reproduce the off-engine hash.", success)
	}
}

func Test_TransferBetweenAccounts(t *testing.T) {
	key, accountID := genKey(t)
	recipientKey, recipientID := genKey(t)
	recipientPub := signaturePub(recipientKey)

	gen := newGenesis(0, map[string]uint64{string(accountID): 1000})

	exctr := executor.Func(func(ctx context.Context, account string, ns executor.Namespace, ledger executor.Ledger, payload []byte) error {
		return ledger.Transfer(recipientPub, 300)
	})
	st := newState(t, gen, exctr)

	minerKey, _ := genKey(t)
	serverKey, _ := genKey(t)

	t.Log("Given the need to validate payload-requested transfers.")
	{
		if _, err := st.SubmitTransaction(signTx(t, key, []byte("transfer"), 1)); err != nil {
			t.Fatalf("\t%s\tShould be able to submit the transaction: %v", failed, err)
		}

		result, err := st.CloseBlock(context.Background(), signaturePub(minerKey), signaturePub(serverKey), 7)
		if err != nil || !result.Valid {
			t.Fatalf("\t%s\tShould be able to close the block: %v", failed, err)
		}

		block, _ := st.QueryBlock(1)
		if len(block.Receipts) != 1 || !block.Receipts[0].Ok {
			t.Fatalf("\t%s\tShould record the transfer transaction as successful.", failed)
		}
		t.Logf("\t%s\tShould record the transfer transaction as successful.", success)

		sender, _ := st.QueryAccount(accountID)
		if sender.Balance != 1000-gen.ExecCost-300 {
			t.Fatalf("\t%s\tShould debit the sender the cost and the amount, got %d.", failed, sender.Balance)
		}
		t.Logf("\t%s\tShould debit the sender the cost and the amount.", success)

		recipient, err := st.QueryAccount(recipientID)
		if err != nil {
			t.Fatalf("\t%s\tShould create the recipient on first credit: %v", failed, err)
		}
		if recipient.Balance != 300 || recipient.Nonce != 0 {
			t.Fatalf("\t%s\tShould credit the recipient 300 with nonce 0, got balance %d nonce %d.", failed, recipient.Balance, recipient.Nonce)
		}
		t.Logf("\t%s\tShould create the recipient with balance 300 and nonce 0.", success)
	}
}

func Test_TransferInsufficientCredits(t *testing.T) {
	key, accountID := genKey(t)
	recipientKey, recipientID := genKey(t)
	recipientPub := signaturePub(recipientKey)

	gen := newGenesis(0, map[string]uint64{string(accountID): 1000})

	exctr := executor.Func(func(ctx context.Context, account string, ns executor.Namespace, ledger executor.Ledger, payload []byte) error {
		return ledger.Transfer(recipientPub, 10_000)
	})
	st := newState(t, gen, exctr)

	minerKey, _ := genKey(t)
	serverKey, _ := genKey(t)

	t.Log("Given the need to validate a transfer beyond the balance fails cleanly.")
	{
		if _, err := st.SubmitTransaction(signTx(t, key, []byte("transfer"), 1)); err != nil {
			t.Fatalf("\t%s\tShould be able to submit the transaction: %v", failed, err)
		}

		result, err := st.CloseBlock(context.Background(), signaturePub(minerKey), signaturePub(serverKey), 7)
		if err != nil || !result.Valid {
			t.Fatalf("\t%s\tShould still accept the block: %v", failed, err)
		}
		t.Logf("\t%s\tShould still accept the block.", success)

		block, _ := st.QueryBlock(1)
		if len(block.Receipts) != 1 || block.Receipts[0].Ok {
			t.Fatalf("\t%s\tShould record the transaction as failed.", failed)
		}
		if block.Receipts[0].Error != state.ErrInsufficientCredits.Error() {
			t.Fatalf("\t%s\tShould record insufficient credits, got %q.", failed, block.Receipts[0].Error)
		}
		t.Logf("\t%s\tShould record insufficient credits in the receipt.", success)

		// Only the execution cost left the sender, nothing reached the
		// recipient.
		sender, _ := st.QueryAccount(accountID)
		if sender.Balance != 1000-gen.ExecCost {
			t.Fatalf("\t%s\tShould only debit the execution cost, got %d.", failed, sender.Balance)
		}
		t.Logf("\t%s\tShould only debit the execution cost.", success)

		if _, err := st.QueryAccount(recipientID); !errors.Is(err, state.ErrNotFound) {
			t.Fatalf("\t%s\tShould not create the recipient: %v", failed, err)
		}
		t.Logf("\t%s\tShould not create the recipient.", success)
	}
}

func Test_ExecutionTimeout(t *testing.T) {
	key, accountID := genKey(t)
	gen := newGenesis(0, map[string]uint64{string(accountID): 1000})

	// The payload never returns on its own, only the deadline stops it.
	exctr := executor.Func(func(ctx context.Context, account string, ns executor.Namespace, ledger executor.Ledger, payload []byte) error {
		<-ctx.Done()
		return ctx.Err()
	})

	st, err := state.New(state.Config{
		Genesis:     gen,
		DBPath:      filepath.Join(t.TempDir(), "chain.db"),
		Executor:    exctr,
		ExecTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the state: %v", failed, err)
	}
	t.Cleanup(func() { st.Shutdown() })

	minerKey, _ := genKey(t)
	serverKey, _ := genKey(t)

	t.Log("Given the need to validate a stuck payload cannot stall the block.")
	{
		if _, err := st.SubmitTransaction(signTx(t, key, []byte("stuck"), 1)); err != nil {
			t.Fatalf("\t%s\tShould be able to submit the transaction: %v", failed, err)
		}

		result, err := st.CloseBlock(context.Background(), signaturePub(minerKey), signaturePub(serverKey), 7)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to close the block: %v", failed, err)
		}
		if !result.Valid {
			t.Fatalf("\t%s\tShould still accept the block: %s", failed, result.Message)
		}
		t.Logf("\t%s\tShould still accept the block.", success)

		block, _ := st.QueryBlock(1)
		if len(block.Receipts) != 1 || block.Receipts[0].Ok {
			t.Fatalf("\t%s\tShould record the transaction as failed.", failed)
		}
		if !strings.Contains(block.Receipts[0].Error, context.DeadlineExceeded.Error()) {
			t.Fatalf("\t%s\tShould classify the failure as a timeout, got %q.", failed, block.Receipts[0].Error)
		}
		t.Logf("\t%s\tShould classify the failure as a timeout.", success)

		// The cost is not refunded for a timed out payload.
		account, _ := st.QueryAccount(accountID)
		if account.Balance != 1000-gen.ExecCost {
			t.Fatalf("\t%s\tShould keep the execution cost debited, got %d.", failed, account.Balance)
		}
		t.Logf("\t%s\tShould keep the execution cost debited.", success)
	}
}

func Test_CreditAndCleanup(t *testing.T) {
	gen := newGenesis(0, nil)
	st := newState(t, gen, nil)

	key, accountID := genKey(t)
	pub := signaturePub(key)

	t.Log("Given the need to validate the account lifecycle.")
	{
		account, err := st.Credit(pub, 500)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to credit a new account: %v", failed, err)
		}
		if account.Balance != 500 || account.Nonce != 0 {
			t.Fatalf("\t%s\tShould create the account with balance 500 nonce 0.", failed)
		}
		t.Logf("\t%s\tShould create the account on first credit.", success)

		account, err = st.Credit(pub, 250)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to credit again: %v", failed, err)
		}
		if account.Balance != 750 {
			t.Fatalf("\t%s\tShould add to the balance, got %d.", failed, account.Balance)
		}
		t.Logf("\t%s\tShould add to the balance on later credits.", success)

		// A zero credit creates an account that cleanup removes.
		zeroKey, zeroID := genKey(t)
		if _, err := st.Credit(signaturePub(zeroKey), 0); err != nil {
			t.Fatalf("\t%s\tShould be able to credit zero: %v", failed, err)
		}

		removed, err := st.Cleanup()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to run cleanup: %v", failed, err)
		}
		if removed != 1 {
			t.Fatalf("\t%s\tShould remove exactly the zero balance account, removed %d.", failed, removed)
		}
		t.Logf("\t%s\tShould remove exactly the zero balance account.", success)

		if _, err := st.QueryAccount(zeroID); !errors.Is(err, state.ErrNotFound) {
			t.Fatalf("\t%s\tShould not find the removed account.", failed)
		}
		if _, err := st.QueryAccount(accountID); err != nil {
			t.Fatalf("\t%s\tShould still find the funded account: %v", failed, err)
		}
		t.Logf("\t%s\tShould keep the funded account.", success)
	}
}
