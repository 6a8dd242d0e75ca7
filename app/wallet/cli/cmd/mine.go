package cmd

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/DarkZeros/sqlchain/foundation/sqlchain/database"
)

var (
	serverPub     string
	maxIterations uint64
)

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Search for a winning nonce and close the next block",
	Run:   mineRun,
}

func init() {
	rootCmd.AddCommand(mineCmd)
	mineCmd.Flags().StringVarP(&serverPub, "server", "s", "", "Account id of the server fee recipient.")
	mineCmd.Flags().Uint64VarP(&maxIterations, "max-iterations", "m", 0, "Maximum nonces to try, 0 for unbounded.")
	mineCmd.MarkFlagRequired("server")
}

func mineRun(cmd *cobra.Command, args []string) {
	privateKey, err := loadPrivateKey()
	if err != nil {
		log.Fatal(err)
	}

	minerID := database.PublicKeyToAccountID(privateKey.PublicKey)

	// Ask the node for the hash seed of the next block.
	resp, err := http.Get(fmt.Sprintf("%s/v1/mine/info", url))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var info struct {
		NextBlock  uint64 `json:"next_block"`
		Seed       string `json:"seed"`
		Difficulty uint16 `json:"difficulty"`
		Reward     uint64 `json:"reward"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		log.Fatal(err)
	}

	seed, err := hex.DecodeString(info.Seed)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("mining block %d, difficulty %d, reward %d\n", info.NextBlock, info.Difficulty, info.Reward)

	// Brute force nonces until the hash meets the difficulty.
	var nonce uint64
	for {
		if database.HashSolved(info.Difficulty, database.BlockHash(seed, nonce)) {
			break
		}

		nonce++
		if nonce%1_000_000 == 0 {
			fmt.Printf("tried %d nonces...\n", nonce)
		}
		if maxIterations > 0 && nonce >= maxIterations {
			log.Fatalf("no winning nonce in %d attempts", maxIterations)
		}
	}

	fmt.Printf("found nonce %d, hash %s\n", nonce, database.BlockHash(seed, nonce))

	// Submit the close attempt.
	cb := struct {
		MinerPub  string `json:"miner_pub"`
		ServerPub string `json:"server_pub"`
		Nonce     uint64 `json:"nonce"`
	}{
		MinerPub:  string(minerID),
		ServerPub: serverPub,
		Nonce:     nonce,
	}

	data, err := json.Marshal(cb)
	if err != nil {
		log.Fatal(err)
	}

	closeResp, err := http.Post(fmt.Sprintf("%s/v1/mine/close", url), "application/json", bytes.NewBuffer(data))
	if err != nil {
		log.Fatal(err)
	}
	defer closeResp.Body.Close()

	var result database.BlockResult
	if err := json.NewDecoder(closeResp.Body).Decode(&result); err != nil {
		log.Fatal(err)
	}

	if !result.Valid {
		fmt.Printf("block rejected: %s\n", result.Message)
		return
	}

	fmt.Printf("block %d accepted, hash %s\n", result.BlockID, result.Hash)
}
