package public

import (
	"encoding/hex"
	"fmt"

	"github.com/DarkZeros/sqlchain/foundation/sqlchain/database"
)

// submitTx is what a submitter provides to admit a transaction.
type submitTx struct {
	AccountID string `json:"account_id" validate:"required,len=66,hexadecimal"`
	Payload   string `json:"payload" validate:"required,hexadecimal"`
	Nonce     uint64 `json:"nonce" validate:"required"`
	Sig       string `json:"sig" validate:"required,len=128,hexadecimal"`
}

// toSignedTx converts the request model into the database value.
func (tx submitTx) toSignedTx() (database.SignedTx, error) {
	accountID, err := database.ToAccountID(tx.AccountID)
	if err != nil {
		return database.SignedTx{}, fmt.Errorf("account id: %w", err)
	}

	payload, err := hex.DecodeString(tx.Payload)
	if err != nil {
		return database.SignedTx{}, fmt.Errorf("payload: %w", err)
	}

	sig, err := hex.DecodeString(tx.Sig)
	if err != nil {
		return database.SignedTx{}, fmt.Errorf("sig: %w", err)
	}

	signedTx := database.SignedTx{
		AccountID: accountID,
		Payload:   payload,
		Nonce:     tx.Nonce,
		Sig:       sig,
	}

	return signedTx, nil
}

// submitTxResult is returned to the submitter on admission.
type submitTxResult struct {
	TxID string `json:"tx_id"`
}

// closeBlock is what a miner provides to attempt a block close.
type closeBlock struct {
	MinerPub  string `json:"miner_pub" validate:"required,len=66,hexadecimal"`
	ServerPub string `json:"server_pub" validate:"required,len=66,hexadecimal"`
	Nonce     uint64 `json:"nonce"`
}

// chainInfo summarizes the current chain for read-only callers.
type chainInfo struct {
	CurrentBlock uint64 `json:"current_block"`
	LatestHash   string `json:"latest_hash"`
	PendingCount int    `json:"pending_count"`
	Accounts     int    `json:"accounts"`
}
