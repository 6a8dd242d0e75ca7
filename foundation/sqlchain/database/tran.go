package database

import (
	"encoding/binary"
	"fmt"

	"github.com/DarkZeros/sqlchain/foundation/sqlchain/signature"
)

// SignedTx is the transaction as a submitter provides it. The payload is
// opaque to the engine, it only flows through to the executor.
type SignedTx struct {
	AccountID AccountID `json:"account_id"`
	Payload   []byte    `json:"payload"`
	Nonce     uint64    `json:"nonce"`
	Sig       []byte    `json:"sig"`
}

// Validate verifies the transaction signature against the public key the
// account id encodes.
func (tx SignedTx) Validate() error {
	pub, err := tx.AccountID.PublicKey()
	if err != nil {
		return fmt.Errorf("account id: %w", err)
	}

	return signature.Verify(pub, tx.Payload, tx.Nonce, tx.Sig)
}

// String implements the fmt.Stringer interface for logging.
func (tx SignedTx) String() string {
	return fmt.Sprintf("%s:%d", tx.AccountID, tx.Nonce)
}

// =============================================================================

// PendingTx represents an admitted transaction waiting in the queue for the
// next block. Once created it is never mutated, only drained by the block
// closer in submission order.
type PendingTx struct {
	SignedTx
	TxID      string `json:"tx_id"`
	Sequence  uint64 `json:"sequence"`
	TimeStamp uint64 `json:"timestamp"`
}

// =============================================================================

// TxReceipt records the outcome of one transaction executed into a block.
// Failures are recorded here rather than aborting the block.
type TxReceipt struct {
	TxID      string    `json:"tx_id"`
	AccountID AccountID `json:"account_id"`
	Nonce     uint64    `json:"nonce"`
	Ok        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
}

// TxLogHash computes the hash over the canonical serialization of the
// executed transaction log. Receipts are serialized in execution order,
// which is the deterministic submission order of the drained queue.
func TxLogHash(receipts []TxReceipt) [32]byte {
	var data []byte
	for _, receipt := range receipts {
		data = append(data, receipt.TxID...)
		data = append(data, receipt.AccountID...)
		data = binary.BigEndian.AppendUint64(data, receipt.Nonce)
		if receipt.Ok {
			data = append(data, 1)
		} else {
			data = append(data, 0)
		}
		data = append(data, receipt.Error...)
	}

	return signature.Hash(data)
}
