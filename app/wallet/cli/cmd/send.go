package cmd

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/DarkZeros/sqlchain/foundation/sqlchain/database"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/signature"
)

var (
	sendNonce   uint64
	payloadHex  []byte
	payloadFile string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign and submit a transaction",
	Run:   sendRun,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Uint64VarP(&sendNonce, "nonce", "n", 0, "The next nonce for your account.")
	sendCmd.Flags().BytesHexVarP(&payloadHex, "payload", "d", nil, "Payload bytes in hex.")
	sendCmd.Flags().StringVarP(&payloadFile, "payload-file", "f", "", "Path to a payload file (e.g. a wasm module).")
}

func sendRun(cmd *cobra.Command, args []string) {
	privateKey, err := loadPrivateKey()
	if err != nil {
		log.Fatal(err)
	}

	payload := payloadHex
	if payloadFile != "" {
		payload, err = os.ReadFile(payloadFile)
		if err != nil {
			log.Fatal(err)
		}
	}

	pub := signature.PublicKeyBytes(&privateKey.PublicKey)

	sig, err := signature.Sign(pub, payload, sendNonce, privateKey)
	if err != nil {
		log.Fatal(err)
	}

	tx := struct {
		AccountID string `json:"account_id"`
		Payload   string `json:"payload"`
		Nonce     uint64 `json:"nonce"`
		Sig       string `json:"sig"`
	}{
		AccountID: string(database.BytesToAccountID(pub)),
		Payload:   hex.EncodeToString(payload),
		Nonce:     sendNonce,
		Sig:       hex.EncodeToString(sig),
	}

	data, err := json.Marshal(tx)
	if err != nil {
		log.Fatal(err)
	}

	resp, err := http.Post(fmt.Sprintf("%s/v1/tx/submit", url), "application/json", bytes.NewBuffer(data))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(string(body))
}
