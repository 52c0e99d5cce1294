package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"alephccn/observability/metrics"
	"alephccn/pipeline"
	"alephccn/types"
)

// CursorStore is the narrow rs.Queries slice the indexer needs.
type CursorStore interface {
	GetCursor(ctx context.Context, chain types.Chain) (*types.ChainCursor, error)
	AdvanceCursor(ctx context.Context, chain types.Chain, height uint64, txHash, blockHash string) error
	UpsertPendingTx(ctx context.Context, tx types.PendingTx) error
}

// Indexer drives one Client on a poll interval, grounded on
// services/swapd/oracle/manager.go's Manager.Run/Tick ticker loop, with
// failed ticks backed off per pipeline.Backoff instead of a fixed sleep.
type Indexer struct {
	logger   *slog.Logger
	client   Client
	store    CursorStore
	interval time.Duration
	retries  uint32
}

// NewIndexer constructs an Indexer for client, polling at interval.
func NewIndexer(logger *slog.Logger, client Client, store CursorStore, interval time.Duration) *Indexer {
	return &Indexer{logger: logger, client: client, store: store, interval: interval}
}

// Run blocks, polling until ctx is cancelled.
func (idx *Indexer) Run(ctx context.Context) error {
	ticker := time.NewTicker(idx.interval)
	defer ticker.Stop()
	for {
		wait := idx.interval
		if err := idx.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			idx.retries++
			wait = pipeline.Backoff(idx.retries, pipeline.ChainRPCBackoffBase, pipeline.ChainRPCBackoffCap)
			idx.logger.Error("chain indexer tick failed", "chain", idx.client.Chain(), "error", err, "retry_in", wait)
		} else {
			idx.retries = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Tick performs one poll-and-persist cycle. Before trusting a previously
// recorded cursor height, it re-checks the canonical hash at that height:
// a mismatch means a reorg replaced it, and the cursor is rewound by
// confirmation_depth so the affected range is re-scanned (spec.md §4.1
// "reorg shallower than confirmation_depth -> rewind cursor and re-scan").
// UpsertPendingTx is keyed on (chain, tx_hash), so re-scanning the same
// range twice is idempotent.
func (idx *Indexer) Tick(ctx context.Context) error {
	cursor, err := idx.store.GetCursor(ctx, idx.client.Chain())
	if err != nil {
		return fmt.Errorf("chain: load cursor: %w", err)
	}
	lastHeight := uint64(0)
	lastHash := ""
	if cursor != nil {
		lastHeight = cursor.LastHeight
		lastHash = cursor.LastBlockHash
	}

	if lastHeight > 0 && lastHash != "" {
		currentHash, err := idx.client.BlockHash(ctx, lastHeight)
		if err != nil {
			return fmt.Errorf("chain: verify cursor at height %d: %w", lastHeight, err)
		}
		if currentHash != "" && currentHash != lastHash {
			depth := idx.client.ConfirmationDepth()
			rewound := uint64(0)
			if lastHeight > depth {
				rewound = lastHeight - depth
			}
			idx.logger.Warn("chain: reorg detected, rewinding cursor", "chain", idx.client.Chain(),
				"from_height", lastHeight, "to_height", rewound, "stale_hash", lastHash, "current_hash", currentHash)
			if err := idx.store.AdvanceCursor(ctx, idx.client.Chain(), rewound, "", ""); err != nil {
				return fmt.Errorf("chain: rewind cursor: %w", err)
			}
			lastHeight = rewound
		}
	}

	txs, newHeight, newHash, err := idx.client.FetchSince(ctx, lastHeight)
	if err != nil {
		return fmt.Errorf("chain: fetch since %d: %w", lastHeight, err)
	}

	for _, tx := range txs {
		pt := types.PendingTx{
			ID: uuid.NewString(), Chain: idx.client.Chain(), TxHash: tx.TxHash, Height: tx.Height,
			Publisher: tx.Publisher, Protocol: tx.Protocol, Payload: tx.Payload, NextAttemptAt: time.Now().UTC(),
		}
		if err := idx.store.UpsertPendingTx(ctx, pt); err != nil {
			return fmt.Errorf("chain: upsert pending_tx %s: %w", tx.TxHash, err)
		}
	}

	if newHeight > lastHeight {
		lastTxHash := ""
		if len(txs) > 0 {
			lastTxHash = txs[len(txs)-1].TxHash
		}
		if err := idx.store.AdvanceCursor(ctx, idx.client.Chain(), newHeight, lastTxHash, newHash); err != nil {
			return fmt.Errorf("chain: advance cursor: %w", err)
		}
		metrics.Default().LastCommittedHeight.WithLabelValues(string(idx.client.Chain())).Set(float64(newHeight))
	}
	return nil
}
