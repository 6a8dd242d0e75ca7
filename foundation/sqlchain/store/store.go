// Package store provides the transactional persistence layer for the
// engine: the ledger, the pending queue, the blockchain, the config table
// and the per account namespaces, all inside one bbolt database. A writable
// transaction is the staging scope for a block close attempt, rolling it
// back discards every staged mutation at once.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/DarkZeros/sqlchain/foundation/sqlchain/database"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

var (
	bucketLedger     = []byte("ledger")
	bucketPending    = []byte("pending")
	bucketChain      = []byte("blockchain")
	bucketConfig     = []byte("config")
	bucketNamespaces = []byte("namespaces")
)

// Store manages access to the bbolt database backing the chain.
type Store struct {
	db *bolt.DB
}

// New opens or creates the database at the specified path and makes sure
// the top level buckets exist.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening store %q: %w", path, err)
	}

	err = db.Update(func(btx *bolt.Tx) error {
		for _, name := range [][]byte{bucketLedger, bucketPending, bucketChain, bucketConfig, bucketNamespaces} {
			if _, err := btx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// View runs the specified function inside a read only transaction.
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
}

// Update runs the specified function inside a writable transaction. If the
// function returns an error nothing is committed.
func (s *Store) Update(fn func(tx *Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
}

// =============================================================================

// Tx provides the record level operations over one store transaction. All
// reads within a transaction observe a consistent snapshot.
type Tx struct {
	btx *bolt.Tx
}

// Account retrieves the ledger entry for the specified account.
func (tx *Tx) Account(accountID database.AccountID) (database.Account, error) {
	data := tx.btx.Bucket(bucketLedger).Get([]byte(accountID))
	if data == nil {
		return database.Account{}, ErrNotFound
	}

	var account database.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return database.Account{}, fmt.Errorf("decoding account: %w", err)
	}

	return account, nil
}

// SaveAccount writes the ledger entry for an account.
func (tx *Tx) SaveAccount(account database.Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encoding account: %w", err)
	}

	return tx.btx.Bucket(bucketLedger).Put([]byte(account.AccountID), data)
}

// DeleteAccount removes the ledger entry for an account.
func (tx *Tx) DeleteAccount(accountID database.AccountID) error {
	return tx.btx.Bucket(bucketLedger).Delete([]byte(accountID))
}

// Accounts returns all ledger entries ordered by account id.
func (tx *Tx) Accounts() ([]database.Account, error) {
	var accounts []database.Account

	err := tx.btx.Bucket(bucketLedger).ForEach(func(k, v []byte) error {
		var account database.Account
		if err := json.Unmarshal(v, &account); err != nil {
			return fmt.Errorf("decoding account %q: %w", k, err)
		}
		accounts = append(accounts, account)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return accounts, nil
}

// =============================================================================

// AppendPending adds an admitted transaction to the tail of the pending
// queue and stamps it with its submission sequence.
func (tx *Tx) AppendPending(ptx database.PendingTx) (database.PendingTx, error) {
	bucket := tx.btx.Bucket(bucketPending)

	seq, err := bucket.NextSequence()
	if err != nil {
		return database.PendingTx{}, fmt.Errorf("next sequence: %w", err)
	}
	ptx.Sequence = seq

	data, err := json.Marshal(ptx)
	if err != nil {
		return database.PendingTx{}, fmt.Errorf("encoding pending tx: %w", err)
	}

	if err := bucket.Put(sequenceKey(seq), data); err != nil {
		return database.PendingTx{}, err
	}

	return ptx, nil
}

// DrainPending removes and returns up to max transactions from the head of
// the pending queue in submission order.
func (tx *Tx) DrainPending(max int) ([]database.PendingTx, error) {
	bucket := tx.btx.Bucket(bucketPending)

	var txs []database.PendingTx
	var keys [][]byte

	cursor := bucket.Cursor()
	for k, v := cursor.First(); k != nil && len(txs) < max; k, v = cursor.Next() {
		var ptx database.PendingTx
		if err := json.Unmarshal(v, &ptx); err != nil {
			return nil, fmt.Errorf("decoding pending tx: %w", err)
		}
		txs = append(txs, ptx)
		keys = append(keys, append([]byte(nil), k...))
	}

	for _, k := range keys {
		if err := bucket.Delete(k); err != nil {
			return nil, err
		}
	}

	return txs, nil
}

// PendingCount returns the current number of queued transactions.
func (tx *Tx) PendingCount() int {
	return tx.btx.Bucket(bucketPending).Stats().KeyN
}

// =============================================================================

// SaveBlock appends a finalized block record to the chain.
func (tx *Tx) SaveBlock(block database.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("encoding block: %w", err)
	}

	return tx.btx.Bucket(bucketChain).Put(sequenceKey(block.Header.Number), data)
}

// Block retrieves the block with the specified number.
func (tx *Tx) Block(number uint64) (database.Block, error) {
	data := tx.btx.Bucket(bucketChain).Get(sequenceKey(number))
	if data == nil {
		return database.Block{}, ErrNotFound
	}

	var block database.Block
	if err := json.Unmarshal(data, &block); err != nil {
		return database.Block{}, fmt.Errorf("decoding block: %w", err)
	}

	return block, nil
}

// LatestBlock retrieves the block with the highest number.
func (tx *Tx) LatestBlock() (database.Block, error) {
	k, v := tx.btx.Bucket(bucketChain).Cursor().Last()
	if k == nil {
		return database.Block{}, ErrNotFound
	}

	var block database.Block
	if err := json.Unmarshal(v, &block); err != nil {
		return database.Block{}, fmt.Errorf("decoding block: %w", err)
	}

	return block, nil
}

// =============================================================================

// ConfigValue retrieves the named config parameter.
func (tx *Tx) ConfigValue(name string) (uint64, error) {
	data := tx.btx.Bucket(bucketConfig).Get([]byte(name))
	if data == nil {
		return 0, ErrNotFound
	}

	return binary.BigEndian.Uint64(data), nil
}

// SetConfigValue writes the named config parameter.
func (tx *Tx) SetConfigValue(name string, value uint64) error {
	return tx.btx.Bucket(bucketConfig).Put([]byte(name), binary.BigEndian.AppendUint64(nil, value))
}

// ConfigValues returns a copy of the full config table.
func (tx *Tx) ConfigValues() (map[string]uint64, error) {
	values := make(map[string]uint64)

	err := tx.btx.Bucket(bucketConfig).ForEach(func(k, v []byte) error {
		values[string(k)] = binary.BigEndian.Uint64(v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return values, nil
}

// =============================================================================

func sequenceKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}
