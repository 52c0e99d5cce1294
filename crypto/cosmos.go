package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // ripemd160 is what Cosmos SDK address derivation uses

	"alephccn/types"
)

// cosmosSignature is the JSON envelope Cosmos SDK wallets place in
// env.Signature: a tendermint/PubKeySecp256k1 public key alongside a
// 64-byte compact (R||S) signature, base64-encoded, grounded on
// aleph.chains.cosmos.CosmosConnector.verify_signature.
type cosmosSignature struct {
	PubKey struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"pub_key"`
	Signature string `json:"signature"`
}

// cosmosSignDoc mirrors the ADR-036 off-chain sign doc
// (https://docs.cosmos.network/main/architecture/adr-036-arbitrary-signature),
// field order matching the Python original's
// json.dumps(sort_keys=True, separators=(",", ":")) canonicalization.
type cosmosSignDoc struct {
	AccountNumber string          `json:"account_number"`
	ChainID       string          `json:"chain_id"`
	Fee           cosmosSignFee   `json:"fee"`
	Memo          string          `json:"memo"`
	Msgs          []cosmosSignMsg `json:"msgs"`
	Sequence      string          `json:"sequence"`
}

type cosmosSignFee struct {
	Amount []any  `json:"amount"`
	Gas    string `json:"gas"`
}

type cosmosSignMsg struct {
	Type  string          `json:"type"`
	Value cosmosSignValue `json:"value"`
}

type cosmosSignValue struct {
	Message string `json:"message"`
	Signer  string `json:"signer"`
}

// verifyCosmosADR036 checks env.Signature against env.Sender under the
// Cosmos SDK's ADR-036 arbitrary-data signing convention: env.Signature is
// a {pub_key, signature} JSON blob, the pub_key must hash (via
// sha256+ripemd160, the standard Cosmos address derivation) to env.Sender's
// bech32 payload, and the signature must verify over sha256 of the
// canonical ADR-036 sign doc wrapping env.SigningPayload() as the signed
// message text.
func verifyCosmosADR036(env types.Envelope) error {
	var sig cosmosSignature
	if err := json.Unmarshal([]byte(env.Signature), &sig); err != nil {
		return fmt.Errorf("crypto: decode cosmos signature envelope: %w", err)
	}
	if sig.PubKey.Type != "tendermint/PubKeySecp256k1" {
		return fmt.Errorf("crypto: unsupported cosmos pubkey type %q", sig.PubKey.Type)
	}
	pubKey, err := base64.StdEncoding.DecodeString(sig.PubKey.Value)
	if err != nil {
		return fmt.Errorf("crypto: decode cosmos pubkey: %w", err)
	}
	sigBytes, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil {
		return fmt.Errorf("crypto: decode cosmos signature: %w", err)
	}
	if len(sigBytes) != 64 {
		return fmt.Errorf("crypto: cosmos signature must be 64 bytes, got %d", len(sigBytes))
	}

	hrp, err := cosmosHRP(env.Sender)
	if err != nil {
		return err
	}
	address, err := cosmosPubkeyToAddress(hrp, pubKey)
	if err != nil {
		return fmt.Errorf("crypto: derive cosmos address: %w", err)
	}
	if address != env.Sender {
		return fmt.Errorf("crypto: cosmos signature pubkey does not match sender %s", env.Sender)
	}

	doc := cosmosSignDoc{
		AccountNumber: "0",
		ChainID:       "signed-message-v1",
		Fee:           cosmosSignFee{Amount: []any{}, Gas: "0"},
		Memo:          "",
		Sequence:      "0",
		Msgs: []cosmosSignMsg{{
			Type:  "signutil/MsgSignText",
			Value: cosmosSignValue{Message: string(env.SigningPayload()), Signer: env.Sender},
		}},
	}
	verification, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("crypto: marshal cosmos sign doc: %w", err)
	}
	hash := sha256.Sum256(verification)
	if !crypto.VerifySignature(pubKey, hash[:], sigBytes) {
		return fmt.Errorf("crypto: cosmos signature does not match sender %s", env.Sender)
	}
	return nil
}

// cosmosHRP returns the bech32 human-readable prefix of a Cosmos address
// ("cosmos" in "cosmos1abc...").
func cosmosHRP(address string) (string, error) {
	idx := strings.Index(address, "1")
	if idx <= 0 {
		return "", fmt.Errorf("crypto: %q is not a bech32 cosmos address", address)
	}
	return address[:idx], nil
}

// cosmosPubkeyToAddress derives the bech32 address for a compressed
// secp256k1 public key: ripemd160(sha256(pubkey)), bech32-encoded under hrp.
func cosmosPubkeyToAddress(hrp string, pubKey []byte) (string, error) {
	shaSum := sha256.Sum256(pubKey)
	ripemd := ripemd160.New()
	if _, err := ripemd.Write(shaSum[:]); err != nil {
		return "", err
	}
	return Bech32Encode(hrp, ripemd.Sum(nil))
}
