package database

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/DarkZeros/sqlchain/foundation/sqlchain/signature"
)

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Number        uint64    `json:"number"`          // Block number in the chain, 0 is the genesis block.
	PrevBlockHash string    `json:"prev_block_hash"` // Hash of the previous block in the chain.
	BeneficiaryID AccountID `json:"beneficiary"`     // The miner account receiving the reward minus the fee.
	ServerID      AccountID `json:"server"`          // The server account receiving the fee.
	Difficulty    uint16    `json:"difficulty"`      // Number of leading zero hex characters the hash had to meet.
	Nonce         uint64    `json:"nonce"`           // Value found by the miner to solve the hash.
	TransCount    int       `json:"trans_count"`     // Number of transactions executed into the block.
	Reward        uint64    `json:"reward"`          // Credits minted by this block.
	Fee           uint64    `json:"fee"`             // Portion of the reward paid to the server account.
	TimeStamp     uint64    `json:"timestamp"`       // Time the block was accepted.
}

// Block represents a finalized block record in the chain. Blocks are
// immutable once accepted.
type Block struct {
	Header   BlockHeader `json:"header"`
	Hash     string      `json:"hash"`
	Receipts []TxReceipt `json:"receipts"`
}

// BlockResult is returned to the miner from a close attempt.
type BlockResult struct {
	BlockID uint64 `json:"block_id"`
	Hash    string `json:"hash"`
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// =============================================================================

// BlockSeed concatenates the state digests a block hash commits to. A miner
// only needs the seed and a nonce to reproduce the block hash, which is what
// makes off-engine nonce searching possible.
func BlockSeed(ledgerHash [32]byte, txLogHash [32]byte, nsDigest [32]byte) []byte {
	seed := make([]byte, 0, 96)
	seed = append(seed, ledgerHash[:]...)
	seed = append(seed, txLogHash[:]...)
	seed = append(seed, nsDigest[:]...)

	return seed
}

// BlockHash computes the hash for a block from its seed and the mining
// nonce. The same seed and nonce always produce the same hash.
func BlockHash(seed []byte, nonce uint64) string {
	data := make([]byte, 0, len(seed)+8)
	data = append(data, seed...)
	data = binary.BigEndian.AppendUint64(data, nonce)

	hash := signature.Hash(data)
	return hex.EncodeToString(hash[:])
}

// HashSolved checks the hash complies with the difficulty requirement of
// leading zero hex characters.
func HashSolved(difficulty uint16, hash string) bool {
	if len(hash) != 64 || int(difficulty) > len(hash) {
		return false
	}

	for _, c := range hash[:difficulty] {
		if c != '0' {
			return false
		}
	}

	return true
}
