// Package state is the core API for the chain and implements all the
// business rules and processing: transaction admission, block closing and
// the account lifecycle.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DarkZeros/sqlchain/foundation/sqlchain/database"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/executor"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/genesis"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/signature"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/store"
)

// Config table parameter names. Only the block closer mutates these after
// genesis.
const (
	ParamBlockReward      = "block_reward"
	ParamStorageCost      = "storage_cost"
	ParamDifficulty       = "difficulty"
	ParamServerFeePercent = "server_fee_percent"
	ParamExecCost         = "exec_cost"
	ParamTransPerBlock    = "trans_per_block"
	ParamCurrentBlock     = "current_block"
)

// defaultExecTimeout bounds a single payload execution so a stuck payload
// cannot stall the block.
const defaultExecTimeout = 2 * time.Second

// EventHandler defines a function that is called when events occur in the
// processing of transactions and blocks.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to start the engine.
type Config struct {
	Genesis     genesis.Genesis
	DBPath      string
	Executor    executor.Executor
	ExecTimeout time.Duration
	EvHandler   EventHandler
}

// State manages the chain: the ledger, the pending queue, the blockchain
// and the config table, all behind the store.
type State struct {
	genesis     genesis.Genesis
	store       *store.Store
	executor    executor.Executor
	execTimeout time.Duration
	evHandler   EventHandler

	// Block closing is mutually exclusive process wide.
	closeMu sync.Mutex

	// Admission is serialized per account so nonce check-and-increment
	// is atomic.
	locksMu      sync.Mutex
	accountLocks map[database.AccountID]*sync.Mutex
}

// New constructs the engine, opening the store and applying the genesis
// information when the chain is empty.
func New(cfg Config) (*State, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	strg, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	execTimeout := cfg.ExecTimeout
	if execTimeout == 0 {
		execTimeout = defaultExecTimeout
	}

	s := State{
		genesis:      cfg.Genesis,
		store:        strg,
		executor:     cfg.Executor,
		execTimeout:  execTimeout,
		evHandler:    ev,
		accountLocks: make(map[database.AccountID]*sync.Mutex),
	}

	if err := s.applyGenesis(); err != nil {
		strg.Close()
		return nil, err
	}

	return &s, nil
}

// Shutdown cleanly brings the engine down.
func (s *State) Shutdown() error {
	return s.store.Close()
}

// =============================================================================

// applyGenesis seeds the config table, the funded accounts and the genesis
// block on a fresh store. An already initialized store is left untouched.
func (s *State) applyGenesis() error {
	return s.store.Update(func(tx *store.Tx) error {
		if _, err := tx.ConfigValue(ParamCurrentBlock); err == nil {
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		s.evHandler("state: applyGenesis: seeding fresh chain")

		params := map[string]uint64{
			ParamBlockReward:      s.genesis.BlockReward,
			ParamStorageCost:      s.genesis.StorageCost,
			ParamDifficulty:       uint64(s.genesis.Difficulty),
			ParamServerFeePercent: s.genesis.ServerFeePercent,
			ParamExecCost:         s.genesis.ExecCost,
			ParamTransPerBlock:    uint64(s.genesis.TransPerBlock),
			ParamCurrentBlock:     0,
		}
		for name, value := range params {
			if err := tx.SetConfigValue(name, value); err != nil {
				return err
			}
		}

		for accountStr, balance := range s.genesis.Balances {
			accountID, err := database.ToAccountID(accountStr)
			if err != nil {
				return fmt.Errorf("genesis account %q: %w", accountStr, err)
			}
			if _, err := creditAccount(tx, accountID, balance); err != nil {
				return err
			}
		}

		accounts, err := tx.Accounts()
		if err != nil {
			return err
		}

		nsDigest, err := tx.NamespacesDigest()
		if err != nil {
			return err
		}

		seed := database.BlockSeed(database.LedgerHash(accounts), database.TxLogHash(nil), nsDigest)
		genesisBlock := database.Block{
			Header: database.BlockHeader{
				Number:        0,
				PrevBlockHash: signature.ZeroHash,
				Difficulty:    s.genesis.Difficulty,
				TimeStamp:     uint64(s.genesis.Date.Unix()),
			},
			Hash: database.BlockHash(seed, 0),
		}

		return tx.SaveBlock(genesisBlock)
	})
}

// accountLock returns the admission lock for the specified account.
func (s *State) accountLock(accountID database.AccountID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	mu, exists := s.accountLocks[accountID]
	if !exists {
		mu = &sync.Mutex{}
		s.accountLocks[accountID] = mu
	}

	return mu
}
