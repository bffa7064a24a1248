package signer

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// DerivePublicKey returns the x-only schnorr public key for a 32-byte hex
// private key, the form clients address the signer by.
func DerivePublicKey(privateKeyHex string) (string, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return "", fmt.Errorf("private key is not hex: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	if priv.Key.IsZero() {
		return "", fmt.Errorf("private key is zero")
	}
	return hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())), nil
}
