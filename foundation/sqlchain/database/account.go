package database

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sort"

	"github.com/DarkZeros/sqlchain/foundation/sqlchain/signature"
)

// Account represents information stored in the ledger for an individual
// account. The account id doubles as the public key used to verify the
// account's transaction signatures.
type Account struct {
	AccountID AccountID `json:"account_id"`
	Balance   uint64    `json:"balance"`
	Nonce     uint64    `json:"nonce"`
}

// NewAccount constructs a ledger entry for an account receiving its first
// credit. The nonce starts at zero and becomes strictly positive with the
// account's first transaction.
func NewAccount(accountID AccountID, balance uint64) Account {
	return Account{
		AccountID: accountID,
		Balance:   balance,
	}
}

// =============================================================================

// AccountID represents the hex encoding of a compressed secp256k1 public
// key. It is the sole external identifier of an account.
type AccountID string

// ToAccountID converts a hex encoded string to an account id and validates
// it decodes to a proper compressed public key.
func ToAccountID(hexStr string) (AccountID, error) {
	if _, err := signature.ToPublicKey(hexStr); err != nil {
		return "", errors.New("invalid account format")
	}

	return AccountID(hexStr), nil
}

// PublicKeyToAccountID converts the public key to an account id.
func PublicKeyToAccountID(pk ecdsa.PublicKey) AccountID {
	return AccountID(hex.EncodeToString(signature.PublicKeyBytes(&pk)))
}

// BytesToAccountID converts a compressed public key in byte form to an
// account id.
func BytesToAccountID(pub []byte) AccountID {
	return AccountID(hex.EncodeToString(pub))
}

// PublicKey returns the compressed public key the account id encodes.
func (a AccountID) PublicKey() ([]byte, error) {
	return signature.ToPublicKey(string(a))
}

// IsAccountID verifies whether the underlying data represents a valid
// account id.
func (a AccountID) IsAccountID() bool {
	_, err := signature.ToPublicKey(string(a))
	return err == nil
}

// =============================================================================

// LedgerHash computes the hash over a canonical serialization of the
// specified accounts. The accounts are serialized sorted by account id so
// the result never depends on map or iteration order.
func LedgerHash(accounts []Account) [32]byte {
	sorted := make([]Account, len(accounts))
	copy(sorted, accounts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].AccountID < sorted[j].AccountID
	})

	var data []byte
	for _, account := range sorted {
		data = append(data, account.AccountID...)
		data = binary.BigEndian.AppendUint64(data, account.Balance)
		data = binary.BigEndian.AppendUint64(data, account.Nonce)
	}

	return signature.Hash(data)
}
