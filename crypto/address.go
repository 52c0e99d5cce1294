// Package crypto verifies message-envelope signatures across the chains
// this node ingests from, and provides the address derivation helpers the
// pending-message validator needs.
package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EVMAddressFromPubkey derives the 20-byte EVM address (ETH, BNB) from an
// uncompressed secp256k1 public key, the way ethclient-backed chains do it.
func EVMAddressFromPubkey(pub []byte) (string, error) {
	key, err := crypto.UnmarshalPubkey(pub)
	if err != nil {
		return "", fmt.Errorf("crypto: unmarshal pubkey: %w", err)
	}
	return crypto.PubkeyToAddress(*key).Hex(), nil
}

// Bech32Encode encodes raw bytes under a human-readable prefix, the
// encoding NULS2-style addresses in this pipeline's test fixtures use.
func Bech32Encode(prefix string, data []byte) (string, error) {
	conv, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("crypto: convert bits: %w", err)
	}
	return bech32.Encode(prefix, conv)
}

// Bech32Decode is the inverse of Bech32Encode.
func Bech32Decode(addr string) (prefix string, data []byte, err error) {
	prefix, decoded, err := bech32.Decode(addr)
	if err != nil {
		return "", nil, fmt.Errorf("crypto: decode bech32: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return "", nil, fmt.Errorf("crypto: convert bits: %w", err)
	}
	return prefix, conv, nil
}

// NormalizeEVMAddress lower-cases and validates the 0x-prefixed hex shape
// used to compare a recovered address against an envelope's sender field.
func NormalizeEVMAddress(addr string) (string, error) {
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return "", fmt.Errorf("crypto: address %q missing 0x prefix", addr)
	}
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("crypto: %q is not a valid hex address", addr)
	}
	return strings.ToLower(addr), nil
}
