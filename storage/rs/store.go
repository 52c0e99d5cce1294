// Package rs is the Relational Store: durable pending queues, confirmed
// messages, derived tables (aggregates, posts, stored files, balances),
// and per-chain cursors. Two backends implement the same interface —
// sqlstore (embedded, database/sql + modernc.org/sqlite) and gormstore
// (clustered, gorm + postgres) — selected by config.StoreConfig.Driver.
package rs

import (
	"context"
	"time"

	"alephccn/types"
)

// Queries is the set of operations available both on a Store directly
// (each call its own implicit transaction) and inside a RunInTx callback
// (all calls share one transaction, the way funding.Processor.Process runs
// its row-locked read-modify-write inside a single gorm.DB.Transaction).
type Queries interface {
	// Pending Tx (§3, §4.2)
	UpsertPendingTx(ctx context.Context, tx types.PendingTx) error
	ClaimPendingTxs(ctx context.Context, limit int) ([]types.PendingTx, error)
	DeletePendingTx(ctx context.Context, id string) error
	BumpPendingTxRetry(ctx context.Context, id string, nextAttempt time.Time) error
	RejectPendingTx(ctx context.Context, tx types.PendingTx, reason string) error
	CountPendingTxs(ctx context.Context) (int, error)

	// Pending Message (§3, §4.3)
	InsertPendingMessage(ctx context.Context, msg types.PendingMessage) error
	ClaimPendingMessages(ctx context.Context, claimID string, types_ []types.MessageType, limit int) ([]types.PendingMessage, error)
	ReleasePendingMessage(ctx context.Context, id string, nextAttempt time.Time, retries uint32) error
	DeletePendingMessage(ctx context.Context, id string) error
	RejectPendingMessage(ctx context.Context, msg types.PendingMessage, reason string) error
	CountPendingMessages(ctx context.Context) (int, error)
	ReclaimStalePendingMessages(ctx context.Context, olderThan time.Time) (int, error)
	ExistsPendingMessageByHash(ctx context.Context, hash string) (bool, error)

	// Chain cursor (§3, §4.1)
	GetCursor(ctx context.Context, chain types.Chain) (*types.ChainCursor, error)
	AdvanceCursor(ctx context.Context, chain types.Chain, height uint64, txHash, blockHash string) error

	// Confirmed messages (§3)
	GetMessageByHash(ctx context.Context, hash string) (*types.Message, error)
	InsertMessage(ctx context.Context, msg types.Message) error
	MergeConfirmation(ctx context.Context, hash string, conf types.Confirmation) error
	ForgetMessage(ctx context.Context, hash, forgottenBy string) error

	// Aggregates (§4.4 AGGREGATE)
	InsertAggregateElement(ctx context.Context, el types.AggregateElement) error
	DeleteAggregateElement(ctx context.Context, address, key, itemHash string) error
	ListAggregateElements(ctx context.Context, address, key string) ([]types.AggregateElement, error)
	GetAggregateView(ctx context.Context, address, key string) (*types.AggregateView, error)
	SetAggregateView(ctx context.Context, view types.AggregateView) error
	GetSecurityAggregate(ctx context.Context, address string) (*types.SecurityContent, error)

	// Posts (§4.4 POST)
	UpsertPost(ctx context.Context, post types.Post) error
	GetPost(ctx context.Context, itemHash string) (*types.Post, error)
	ListAmendments(ctx context.Context, ref string) ([]types.Post, error)
	DeletePost(ctx context.Context, itemHash string) error

	// Stored files (§4.4 STORE, §4.5 GC)
	GetStoredFileForUpdate(ctx context.Context, hash string) (*types.StoredFile, error)
	UpsertStoredFile(ctx context.Context, file types.StoredFile) error
	DeleteStoredFile(ctx context.Context, hash string) error
	ListExpiredStoredFiles(ctx context.Context, now time.Time) ([]types.StoredFile, error)
	ListStoredFilesByLastAccess(ctx context.Context, limit int) ([]types.StoredFile, error)

	// Balances (§4.7 BR)
	UpsertBalance(ctx context.Context, bal types.Balance) error
	ListBalances(ctx context.Context, address string) ([]types.Balance, error)
	GetUsageSnapshot(ctx context.Context, address string) (*types.UsageSnapshot, error)
	SetUsageSnapshot(ctx context.Context, snap types.UsageSnapshot) error
	ListUsageSnapshots(ctx context.Context) ([]types.UsageSnapshot, error)
	SumMessageSizeByAddress(ctx context.Context, address string) (uint64, error)
	ListKnownAddresses(ctx context.Context) ([]string, error)

	// Programs (§4.4 PROGRAM)
	UpsertProgram(ctx context.Context, itemHash, sender string, content []byte) error
}

// Tx is a Queries handle bound to one in-flight transaction.
type Tx interface {
	Queries
}

// Store is the top-level handle. RunInTx runs fn inside a single
// transaction, the way otc-gateway/funding.Processor.Process wraps its
// row-locked dispatch in one gorm.DB.Transaction closure; PMP's §4.3 step 6
// (dedupe + handler dispatch) always goes through RunInTx so a schema-level
// handler error rolls back cleanly.
type Store interface {
	Queries
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
