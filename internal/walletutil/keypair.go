// Package walletutil provides key parsing and account-derivation helpers
// shared by the signer orchestrator and the fee/payment calculators.
package walletutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// ParsePrivateKey parses a relayer signing key from either base58 or the
// JSON byte-array format wallets commonly export.
func ParsePrivateKey(keyStr string) (solana.PrivateKey, error) {
	if keyStr == "" {
		return solana.PrivateKey{}, fmt.Errorf("private key string is empty")
	}
	keyStr = strings.TrimSpace(keyStr)

	if !strings.HasPrefix(keyStr, "[") {
		privateKey, err := solana.PrivateKeyFromBase58(keyStr)
		if err != nil {
			return solana.PrivateKey{}, fmt.Errorf("invalid base58 private key: %w", err)
		}
		return privateKey, nil
	}

	return parsePrivateKeyArray(keyStr)
}

func parsePrivateKeyArray(keyStr string) (solana.PrivateKey, error) {
	if !strings.HasPrefix(keyStr, "[") || !strings.HasSuffix(keyStr, "]") {
		return solana.PrivateKey{}, fmt.Errorf("private key array must be in JSON format: [1,2,3,...]")
	}

	arrayContent := keyStr[1 : len(keyStr)-1]
	parts := strings.Split(arrayContent, ",")
	if len(parts) != 64 {
		return solana.PrivateKey{}, fmt.Errorf("private key must be a 64-byte array, got %d bytes", len(parts))
	}

	var keyBytes [64]byte
	for i, part := range parts {
		part = strings.TrimSpace(part)
		val, err := strconv.Atoi(part)
		if err != nil {
			return solana.PrivateKey{}, fmt.Errorf("invalid byte value at position %d: %s (%w)", i, part, err)
		}
		if val < 0 || val > 255 {
			return solana.PrivateKey{}, fmt.Errorf("byte value at position %d out of range (0-255): %d", i, val)
		}
		keyBytes[i] = byte(val)
	}

	return solana.PrivateKey(keyBytes[:]), nil
}

// SignerSlot returns the index of pubkey within the first requiredSigners
// entries of allAccountKeys, or -1 if it is not a signer.
func SignerSlot(allAccountKeys []solana.PublicKey, requiredSigners uint8, pubkey solana.PublicKey) int {
	limit := int(requiredSigners)
	if limit > len(allAccountKeys) {
		limit = len(allAccountKeys)
	}
	for i := 0; i < limit; i++ {
		if allAccountKeys[i].Equals(pubkey) {
			return i
		}
	}
	return -1
}

// AssociatedTokenAddress derives the deterministic associated token
// account for owner+mint under the requested token program variant.
func AssociatedTokenAddress(owner, mint solana.PublicKey, programID solana.PublicKey) (solana.PublicKey, error) {
	seeds := [][]byte{
		owner[:],
		programID[:],
		mint[:],
	}
	addr, _, err := solana.FindProgramAddress(seeds, solana.SPLAssociatedTokenAccountProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive associated token account: %w", err)
	}
	return addr, nil
}
