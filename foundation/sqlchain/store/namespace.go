package store

import (
	"fmt"

	"github.com/DarkZeros/sqlchain/foundation/sqlchain/database"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/signature"
)

// Namespace is a handle over one account's isolated storage region. A
// handle is scoped to the transaction it was acquired from and can only
// reach the keys under its own account sub-bucket, which is the isolation
// boundary payload execution runs behind.
type Namespace struct {
	tx        *Tx
	accountID database.AccountID
}

// Get retrieves the value for a key in the namespace.
func (ns Namespace) Get(key []byte) ([]byte, error) {
	bucket := ns.tx.btx.Bucket(bucketNamespaces).Bucket([]byte(ns.accountID))
	if bucket == nil {
		return nil, ErrNotFound
	}

	value := bucket.Get(key)
	if value == nil {
		return nil, ErrNotFound
	}

	return append([]byte(nil), value...), nil
}

// Put writes a key/value pair into the namespace.
func (ns Namespace) Put(key, value []byte) error {
	bucket := ns.tx.btx.Bucket(bucketNamespaces).Bucket([]byte(ns.accountID))
	if bucket == nil {
		return ErrNotFound
	}

	return bucket.Put(key, value)
}

// Delete removes a key from the namespace.
func (ns Namespace) Delete(key []byte) error {
	bucket := ns.tx.btx.Bucket(bucketNamespaces).Bucket([]byte(ns.accountID))
	if bucket == nil {
		return ErrNotFound
	}

	return bucket.Delete(key)
}

// =============================================================================

// CreateNamespace provisions the isolated storage region for an account.
func (tx *Tx) CreateNamespace(accountID database.AccountID) error {
	if _, err := tx.btx.Bucket(bucketNamespaces).CreateBucketIfNotExists([]byte(accountID)); err != nil {
		return fmt.Errorf("creating namespace: %w", err)
	}

	return nil
}

// DeleteNamespace tears down an account's storage region and everything
// in it.
func (tx *Tx) DeleteNamespace(accountID database.AccountID) error {
	root := tx.btx.Bucket(bucketNamespaces)
	if root.Bucket([]byte(accountID)) == nil {
		return nil
	}

	return root.DeleteBucket([]byte(accountID))
}

// Namespace returns the handle for an account's storage region.
func (tx *Tx) Namespace(accountID database.AccountID) Namespace {
	return Namespace{tx: tx, accountID: accountID}
}

// NamespaceSize returns the number of bytes an account's namespace
// occupies, counting key and value lengths.
func (tx *Tx) NamespaceSize(accountID database.AccountID) (uint64, error) {
	bucket := tx.btx.Bucket(bucketNamespaces).Bucket([]byte(accountID))
	if bucket == nil {
		return 0, nil
	}

	var size uint64
	err := bucket.ForEach(func(k, v []byte) error {
		size += uint64(len(k) + len(v))
		return nil
	})
	if err != nil {
		return 0, err
	}

	return size, nil
}

// NamespacesDigest computes a digest over the contents of every namespace.
// Buckets and keys iterate in sorted order, so the digest is a canonical
// commitment to all account storage.
func (tx *Tx) NamespacesDigest() ([32]byte, error) {
	var data []byte

	root := tx.btx.Bucket(bucketNamespaces)
	err := root.ForEach(func(name, v []byte) error {
		if v != nil {
			return nil
		}

		data = append(data, name...)
		return root.Bucket(name).ForEach(func(k, val []byte) error {
			data = append(data, k...)
			data = append(data, val...)
			return nil
		})
	})
	if err != nil {
		return [32]byte{}, err
	}

	return signature.Hash(data), nil
}
