// Package types defines the wire formats and shared enums that flow through
// every stage of the ingestion pipeline: chain indexers, the pending queues,
// the processors, and the message-type handlers.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Chain identifies one of the chains this node indexes or accepts signatures from.
type Chain string

const (
	ChainETH   Chain = "ETH"
	ChainBNB   Chain = "BNB"
	ChainNULS2 Chain = "NULS2"
	ChainTezos Chain = "TEZOS"
	ChainCSDK  Chain = "CSDK"
	ChainSOL   Chain = "SOL"
	ChainDOT   Chain = "DOT"
)

// Valid reports whether c is one of the chains named in the wire envelope.
func (c Chain) Valid() bool {
	switch c {
	case ChainETH, ChainBNB, ChainNULS2, ChainTezos, ChainCSDK, ChainSOL, ChainDOT:
		return true
	default:
		return false
	}
}

// MessageType is the type discriminator of a message envelope.
type MessageType string

const (
	TypeAggregate MessageType = "AGGREGATE"
	TypePost      MessageType = "POST"
	TypeStore     MessageType = "STORE"
	TypeForget    MessageType = "FORGET"
	TypeProgram   MessageType = "PROGRAM"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeAggregate, TypePost, TypeStore, TypeForget, TypeProgram:
		return true
	default:
		return false
	}
}

// ItemType describes how an envelope's content is carried.
type ItemType string

const (
	ItemInline  ItemType = "inline"
	ItemStorage ItemType = "storage"
	ItemIPFS    ItemType = "ipfs"
)

func (it ItemType) Valid() bool {
	switch it {
	case ItemInline, ItemStorage, ItemIPFS:
		return true
	default:
		return false
	}
}

// Origin records which ingestion source produced a pending row.
type Origin string

const (
	OriginP2P     Origin = "p2p"
	OriginHTTP    Origin = "http"
	OriginOnChain Origin = "onchain"
)

// Protocol identifies how a chain transaction's payload is carried.
type Protocol string

const (
	ProtocolBatchInline Protocol = "batch_inline"
	ProtocolBatchRef    Protocol = "batch_ref"
)

// MaxInlineContentBytes is the §6 inline-content size limit.
const MaxInlineContentBytes = 200 * 1024

// Confirmation proves a message was ordered on-chain.
type Confirmation struct {
	Chain  Chain  `json:"chain"`
	Height uint64 `json:"height"`
	TxHash string `json:"tx_hash"`
}

// Envelope is the signed wire format described in spec.md §6. It is the unit
// handled by P2P inbound, HTTP inbound, and the pending-tx fan-out.
type Envelope struct {
	Chain         Chain       `json:"chain"`
	Sender        string      `json:"sender"`
	Address       string      `json:"address,omitempty"`
	Type          MessageType `json:"type"`
	Channel       string      `json:"channel"`
	Time          float64     `json:"time"`
	ItemType      ItemType    `json:"item_type"`
	ItemHash      string      `json:"item_hash"`
	ItemContent   string      `json:"item_content,omitempty"`
	Signature     string      `json:"signature"`
}

// EffectiveAddress is the address this message acts on: Address when the
// publisher signed on behalf of someone else (delegation), else Sender.
func (e Envelope) EffectiveAddress() string {
	if e.Address == "" {
		return e.Sender
	}
	return e.Address
}

// SigningPayload returns the canonical encoding the signature covers:
// {sender, chain, type, item_hash} with sorted keys and no whitespace.
func (e Envelope) SigningPayload() []byte {
	type signed struct {
		Chain    Chain       `json:"chain"`
		ItemHash string      `json:"item_hash"`
		Sender   string      `json:"sender"`
		Type     MessageType `json:"type"`
	}
	// Field order in the struct is alphabetical by JSON key so the encoder
	// emits sorted keys without a map (avoids map iteration non-determinism).
	b, err := json.Marshal(signed{
		Chain:    e.Chain,
		ItemHash: e.ItemHash,
		Sender:   e.Sender,
		Type:     e.Type,
	})
	if err != nil {
		// fields are all plain strings; Marshal cannot fail.
		panic(fmt.Sprintf("types: marshal signing payload: %v", err))
	}
	return b
}

// VerifyInlineHash checks that, for item_type=inline envelopes, the content
// hashes to item_hash per the global invariant in spec.md §3.
func (e Envelope) VerifyInlineHash() error {
	if e.ItemType != ItemInline {
		return nil
	}
	sum := sha256.Sum256([]byte(e.ItemContent))
	got := hex.EncodeToString(sum[:])
	if got != e.ItemHash {
		return fmt.Errorf("types: inline hash mismatch: want %s got %s", e.ItemHash, got)
	}
	return nil
}

// ChainTxPayload is the decoded body of an on-chain transaction, either an
// inline batch of envelopes or a CAS reference to one.
type ChainTxPayload struct {
	Protocol Protocol          `json:"protocol"`
	Version  int               `json:"version"`
	Content  json.RawMessage   `json:"content"`
}

// RawTx is one transaction/event observed by a chain.Client, prior to
// being decoded into a ChainTxPayload.
type RawTx struct {
	TxHash    string
	Height    uint64
	TxIndex   uint32
	Publisher string
	Protocol  Protocol
	Payload   []byte // the on-chain ChainTxPayload JSON object, undecoded
}
