package rs

import (
	"time"

	"gorm.io/gorm"
)

// Gorm models for the clustered (postgres) backend, grounded on
// services/otc-gateway/models/models.go's tag style. These mirror the
// sqlite schema.go tables field-for-field; conversion to/from the shared
// types.* structs happens in gorm_store.go so Queries callers never see a
// gorm type.

type pendingTxModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	Chain         string `gorm:"size:16;uniqueIndex:idx_pending_tx_chain_hash"`
	TxHash        string `gorm:"size:128;uniqueIndex:idx_pending_tx_chain_hash"`
	Height        uint64
	Publisher     string `gorm:"size:128"`
	Protocol      string `gorm:"size:32"`
	Payload       []byte
	Retries       uint32
	NextAttemptAt time.Time `gorm:"index"`
	CreatedAt     time.Time
	ClaimedBy     *string
	ClaimedAt     *time.Time
}

func (pendingTxModel) TableName() string { return "pending_tx" }

type rejectedTxModel struct {
	ID              string `gorm:"primaryKey;size:36"`
	Chain           string `gorm:"size:16"`
	TxHash          string `gorm:"size:128"`
	Reason          string `gorm:"size:256"`
	PayloadSnapshot []byte
	RejectedAt      time.Time
}

func (rejectedTxModel) TableName() string { return "rejected_tx" }

type pendingMessageModel struct {
	ID                  string `gorm:"primaryKey;size:36"`
	ItemHash            string `gorm:"size:128;index"`
	Sender              string `gorm:"size:128"`
	Address             string `gorm:"size:128"`
	Chain               string `gorm:"size:16"`
	Signature           string
	Type                string `gorm:"size:16;index"`
	Channel             string `gorm:"size:128"`
	Time                float64
	ItemType            string `gorm:"size:16"`
	ItemContent         *string
	Origin              string `gorm:"size:16"`
	ConfirmationChain   *string
	ConfirmationHeight  *uint64
	ConfirmationTxHash  *string
	Retries             uint32
	NextAttemptAt       time.Time `gorm:"index:idx_pending_message_claim"`
	CheckMessage        bool
	ClaimedBy           *string `gorm:"index:idx_pending_message_claim"`
	ClaimedAt           *time.Time
	CreatedAt           time.Time
}

func (pendingMessageModel) TableName() string { return "pending_message" }

type rejectedMessageModel struct {
	ID              string `gorm:"primaryKey;size:36"`
	ItemHash        string `gorm:"size:128"`
	Reason          string `gorm:"size:256"`
	PayloadSnapshot []byte
	RejectedAt      time.Time
}

func (rejectedMessageModel) TableName() string { return "rejected_message" }

type chainCursorModel struct {
	Chain         string `gorm:"primaryKey;size:16"`
	LastHeight    uint64
	LastTxHash    string `gorm:"size:128"`
	LastBlockHash string `gorm:"size:128"`
	UpdatedAt     time.Time
}

func (chainCursorModel) TableName() string { return "chain_cursor" }

type messageModel struct {
	ItemHash      string `gorm:"primaryKey;size:128"`
	Sender        string `gorm:"size:128;index"`
	Address       string `gorm:"size:128;index"`
	Chain         string `gorm:"size:16"`
	Type          string `gorm:"size:16"`
	Channel       string `gorm:"size:128"`
	Time          float64
	ItemType      string `gorm:"size:16"`
	Content       *string
	Size          uint64
	Confirmations string `gorm:"type:text"`
	ForgottenBy   *string
	CreatedAt     time.Time
}

func (messageModel) TableName() string { return "message" }

type aggregateElementModel struct {
	Address  string `gorm:"primaryKey;size:128"`
	Key      string `gorm:"primaryKey;size:128"`
	ItemHash string `gorm:"primaryKey;size:128"`
	Time     float64
	Content  string `gorm:"type:text"`
}

func (aggregateElementModel) TableName() string { return "aggregate_element" }

type aggregateViewModel struct {
	Address          string `gorm:"primaryKey;size:128"`
	Key              string `gorm:"primaryKey;size:128"`
	Content          string `gorm:"type:text"`
	CreationTime     float64
	LastRevisionTime float64
}

func (aggregateViewModel) TableName() string { return "aggregate_view" }

type postModel struct {
	ItemHash string  `gorm:"primaryKey;size:128"`
	Ref      *string `gorm:"index"`
	Address  string  `gorm:"size:128"`
	PostType string  `gorm:"size:64"`
	Time     float64
	Content  string `gorm:"type:text"`
}

func (postModel) TableName() string { return "post" }

type storedFileModel struct {
	FileHash     string `gorm:"primaryKey;size:128"`
	Storage      string `gorm:"size:16"`
	Size         uint64
	PinCount     int64
	PinDeleteAt  *time.Time `gorm:"index"`
	LastAccessAt time.Time
}

func (storedFileModel) TableName() string { return "stored_file" }

type balanceModel struct {
	Address    string `gorm:"primaryKey;size:128"`
	Chain      string `gorm:"primaryKey;size:16"`
	Token      string `gorm:"primaryKey;size:64"`
	Amount     float64
	LastUpdate time.Time
}

func (balanceModel) TableName() string { return "balance" }

type usageSnapshotModel struct {
	Address        string `gorm:"primaryKey;size:128"`
	BytesUsed      uint64
	LastComputedAt time.Time
}

func (usageSnapshotModel) TableName() string { return "usage_snapshot" }

type programModel struct {
	ItemHash  string `gorm:"primaryKey;size:128"`
	Sender    string `gorm:"size:128"`
	Content   string `gorm:"type:text"`
	CreatedAt time.Time
}

func (programModel) TableName() string { return "program" }

// autoMigrateAll mirrors services/otc-gateway/models.AutoMigrate.
func autoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&pendingTxModel{},
		&rejectedTxModel{},
		&pendingMessageModel{},
		&rejectedMessageModel{},
		&chainCursorModel{},
		&messageModel{},
		&aggregateElementModel{},
		&aggregateViewModel{},
		&postModel{},
		&storedFileModel{},
		&balanceModel{},
		&usageSnapshotModel{},
		&programModel{},
	)
}
