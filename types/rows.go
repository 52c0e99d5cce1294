package types

import "time"

// PendingTx is a chain transaction awaiting fan-out by the Pending-TX
// Processor (spec.md §3, §4.2).
type PendingTx struct {
	ID            string
	TxHash        string
	Chain         Chain
	Height        uint64
	Publisher     string
	Protocol      Protocol
	Payload       []byte
	Retries       uint32
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// PendingMessage is a message envelope awaiting processing by the
// Pending-Message Processor (spec.md §3, §4.3).
type PendingMessage struct {
	ID            string
	ItemHash      string
	Sender        string
	Address       string
	Chain         Chain
	Signature     string
	Type          MessageType
	Channel       string
	Time          float64
	ItemType      ItemType
	ItemContent   *string
	Origin        Origin
	Confirmation  *Confirmation
	Retries       uint32
	NextAttemptAt time.Time
	CheckMessage  bool
	ClaimedBy     *string
	ClaimedAt     *time.Time
	CreatedAt     time.Time
}

// Envelope reconstructs the wire envelope carried by this pending row.
func (p PendingMessage) Envelope() Envelope {
	e := Envelope{
		Chain:     p.Chain,
		Sender:    p.Sender,
		Address:   p.Address,
		Type:      p.Type,
		Channel:   p.Channel,
		Time:      p.Time,
		ItemType:  p.ItemType,
		ItemHash:  p.ItemHash,
		Signature: p.Signature,
	}
	if p.ItemContent != nil {
		e.ItemContent = *p.ItemContent
	}
	return e
}

// Message is a confirmed, durably-applied envelope (spec.md §3).
type Message struct {
	ItemHash      string
	Sender        string
	Address       string
	Chain         Chain
	Type          MessageType
	Channel       string
	Time          float64
	ItemType      ItemType
	Content       *string // nulled by FORGET
	Size          uint64
	Confirmations []Confirmation
	ForgottenBy   *string
	CreatedAt     time.Time
}

// AggregateElement is one raw AGGREGATE fold input, plus the current
// materialised view for the (address, key) pair it belongs to.
type AggregateElement struct {
	Address          string
	Key              string
	ItemHash         string
	Time             float64
	Content          []byte // the raw AGGREGATE content JSON for this element
	CreationTime     float64
	LastRevisionTime float64
}

// AggregateView is the materialised, folded document for (address, key).
type AggregateView struct {
	Address          string
	Key              string
	Content          []byte
	CreationTime     float64
	LastRevisionTime float64
}

// Post is a confirmed POST message, original or amendment.
type Post struct {
	ItemHash string
	Ref      *string
	Address  string
	PostType string
	Time     float64
	Content  []byte
}

// StoredFile tracks reference counts and GC scheduling for one CAS object.
type StoredFile struct {
	FileHash     string
	Storage      string // "local" | "ipfs"
	Size         uint64
	PinCount     int64
	PinDeleteAt  *time.Time
	LastAccessAt time.Time
}

// Balance is fed by chain indexers and consumed by the Balance Reconciler.
type Balance struct {
	Address    string
	Chain      Chain
	Token      string
	Amount     float64
	LastUpdate time.Time
}

// ChainCursor records per-chain indexer progress. LastBlockHash is the
// canonical block/level hash observed at LastHeight at the time the
// cursor was last advanced, so the next Tick can detect a reorg that
// replaced that block before trusting LastHeight as a scan floor.
type ChainCursor struct {
	Chain         Chain
	LastHeight    uint64
	LastTxHash    string
	LastBlockHash string
	UpdatedAt     time.Time
}

// RejectedTx is the terminal landing spot for a PendingTx that exhausted
// its retries or failed a hard parse (spec.md §4.2, expanded in SPEC_FULL §3).
type RejectedTx struct {
	ID              string
	Chain           Chain
	TxHash          string
	Reason          string
	PayloadSnapshot []byte
	RejectedAt      time.Time
}

// RejectedMessage is the terminal landing spot for a PendingMessage that
// failed validation, authorization, or exhausted its retries.
type RejectedMessage struct {
	ID              string
	ItemHash        string
	Reason          string
	PayloadSnapshot []byte
	RejectedAt      time.Time
}

// UsageSnapshot is the Balance Reconciler's persisted working state so a
// restart does not force a full recompute before the next tick.
type UsageSnapshot struct {
	Address        string
	BytesUsed       uint64
	LastComputedAt time.Time
}
