// Package signature provides the cryptographic helpers for the chain. The
// suite is fixed: sha256 digests and secp256k1 keys with 33 byte compressed
// public keys and 64 byte r||s signatures.
package signature

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ZeroHash represents a hash code of zeros. It is the previous block hash
// reference of the first block in the chain.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// PubKeySize is the length in bytes of a compressed secp256k1 public key.
const PubKeySize = 33

// SignatureSize is the length in bytes of an r||s signature.
const SignatureSize = 64

// =============================================================================

// Hash returns the sha256 digest for the specified data.
func Hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// HashHex returns the sha256 digest for the specified data as a hex string.
func HashHex(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// TxDigest produces the digest a submitter must sign for a transaction. The
// preimage binds the submitting account, the payload and the account nonce
// so a signature can never be replayed for different content.
func TxDigest(pub []byte, payload []byte, nonce uint64) [32]byte {
	data := make([]byte, 0, len(pub)+len(payload)+8)
	data = append(data, pub...)
	data = append(data, payload...)
	data = binary.BigEndian.AppendUint64(data, nonce)

	return sha256.Sum256(data)
}

// Sign signs the digest for a transaction with the specified private key and
// returns the 64 byte r||s signature.
func Sign(pub []byte, payload []byte, nonce uint64, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	digest := TxDigest(pub, payload, nonce)

	sig, err := crypto.Sign(digest[:], privateKey)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}

	// Drop the recovery id. The verifier holds the full public key so it
	// doesn't need to recover it from the signature.
	return sig[:SignatureSize], nil
}

// Verify checks the r||s signature over the transaction digest against the
// specified compressed public key.
func Verify(pub []byte, payload []byte, nonce uint64, sig []byte) error {
	if len(pub) != PubKeySize {
		return fmt.Errorf("public key must be %d bytes, got %d", PubKeySize, len(pub))
	}

	if len(sig) != SignatureSize {
		return fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(sig))
	}

	digest := TxDigest(pub, payload, nonce)

	if !crypto.VerifySignature(pub, digest[:], sig) {
		return errors.New("invalid signature")
	}

	return nil
}

// =============================================================================

// PublicKeyBytes returns the compressed form of the specified public key.
func PublicKeyBytes(pk *ecdsa.PublicKey) []byte {
	return crypto.CompressPubkey(pk)
}

// ToPublicKey converts a hex encoded compressed public key into its byte
// form and validates the encoding.
func ToPublicKey(hexPub string) ([]byte, error) {
	pub, err := hex.DecodeString(hexPub)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}

	if _, err := crypto.DecompressPubkey(pub); err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}

	return pub, nil
}
