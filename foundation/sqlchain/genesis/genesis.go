// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"os"
	"time"
)

// Genesis represents the chain parameters the engine starts from. After the
// genesis block these values are owned by the config table in the store.
type Genesis struct {
	Date             time.Time         `json:"date"`
	ChainID          uint16            `json:"chain_id"`           // An unique id for this running instance.
	TransPerBlock    uint16            `json:"trans_per_block"`    // The maximum number of transactions drained into a block.
	Difficulty       uint16            `json:"difficulty"`         // Number of leading zero hex characters required of a block hash.
	BlockReward      uint64            `json:"block_reward"`       // Credits minted per accepted block.
	ServerFeePercent uint64            `json:"server_fee_percent"` // Percent of the block reward paid to the server account.
	StorageCost      uint64            `json:"storage_cost"`       // Milli-credits charged per namespace byte per block.
	ExecCost         uint64            `json:"exec_cost"`          // Credits debited per executed transaction.
	Balances         map[string]uint64 `json:"balances"`           // Accounts funded at genesis.
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load() (Genesis, error) {
	path := "zblock/genesis.json"
	return LoadFile(path)
}

// LoadFile opens and consumes a genesis file from the specified path.
func LoadFile(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}
