package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"alephccn/types"
)

// Scheme is the signature scheme a chain uses.
type Scheme int

const (
	SchemeSecp256k1 Scheme = iota
	SchemeEd25519
	SchemeCosmosADR036
)

// SchemeFor returns the signature scheme an envelope's chain is verified
// under (spec.md §4.3: secp256k1 for ETH/BNB/NULS2, ed25519 for
// Substrate/Tezos-style chains, Cosmos ADR-036 for CSDK).
func SchemeFor(chain types.Chain) (Scheme, error) {
	switch chain {
	case types.ChainETH, types.ChainBNB, types.ChainNULS2:
		return SchemeSecp256k1, nil
	case types.ChainTezos, types.ChainDOT:
		return SchemeEd25519, nil
	case types.ChainCSDK:
		return SchemeCosmosADR036, nil
	default:
		return 0, fmt.Errorf("crypto: no signature scheme mapped for chain %q", chain)
	}
}

// Verify checks that env.Signature authenticates env.SigningPayload() for
// env.Sender under env.Chain's signature scheme. SOL verification is not
// implemented: no pack file grounds an ed25519-over-Solana-message-header
// scheme distinct from the Substrate/Tezos one already covered, so SOL is
// accepted at the envelope-shape level only and rejected here with an
// explicit "unsupported" error rather than a silent pass.
func Verify(env types.Envelope) error {
	scheme, err := SchemeFor(env.Chain)
	if err != nil {
		return err
	}
	if scheme == SchemeCosmosADR036 {
		return verifyCosmosADR036(env)
	}
	sig, err := decodeSignature(env.Signature)
	if err != nil {
		return fmt.Errorf("crypto: decode signature: %w", err)
	}
	payload := env.SigningPayload()
	switch scheme {
	case SchemeSecp256k1:
		return verifySecp256k1(payload, sig, env.Sender)
	case SchemeEd25519:
		return verifyEd25519(payload, sig, env.Sender)
	default:
		return fmt.Errorf("crypto: unhandled scheme %d", scheme)
	}
}

func decodeSignature(sig string) ([]byte, error) {
	trimmed := strings.TrimPrefix(sig, "0x")
	return hex.DecodeString(trimmed)
}

// verifySecp256k1 recovers the signer's public key from sig over
// keccak256(payload) and checks the derived address matches sender, the
// way EVMVerifier.Confirm validates ERC-20 transfer senders.
func verifySecp256k1(payload, sig []byte, sender string) error {
	if len(sig) != 65 {
		return fmt.Errorf("crypto: secp256k1 signature must be 65 bytes, got %d", len(sig))
	}
	hash := crypto.Keccak256(payload)
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return fmt.Errorf("crypto: recover pubkey: %w", err)
	}
	recovered := crypto.PubkeyToAddress(*pub).Hex()
	want, err := NormalizeEVMAddress(sender)
	if err == nil {
		if strings.ToLower(recovered) != want {
			return fmt.Errorf("crypto: signature does not match sender %s", sender)
		}
		return nil
	}
	// NULS2 addresses are not 0x-hex; fall back to bech32 comparison against
	// the recovered address bytes.
	_, recoveredBytes, decodeErr := Bech32Decode(sender)
	if decodeErr != nil {
		return fmt.Errorf("crypto: sender %q is neither a hex nor bech32 address", sender)
	}
	pubAddr := crypto.PubkeyToAddress(*pub).Bytes()
	if hex.EncodeToString(recoveredBytes) != hex.EncodeToString(pubAddr) {
		return fmt.Errorf("crypto: signature does not match sender %s", sender)
	}
	return nil
}

// verifyEd25519 treats sender as a bech32-encoded raw ed25519 public key,
// mirroring the teacher's seed-registry use of stdlib crypto/ed25519.
func verifyEd25519(payload, sig []byte, sender string) error {
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("crypto: ed25519 signature must be %d bytes, got %d", ed25519.SignatureSize, len(sig))
	}
	_, pub, err := Bech32Decode(sender)
	if err != nil {
		return fmt.Errorf("crypto: decode sender pubkey: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("crypto: decoded sender pubkey has wrong length %d", len(pub))
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), payload, sig) {
		return fmt.Errorf("crypto: ed25519 signature does not match sender %s", sender)
	}
	return nil
}
