// Package chain implements the Chain Indexer (CI, spec.md §4.1): per-chain
// pollers that watch for transactions sent to a configured contract
// address and turn each into a types.RawTx ready for fan-out into
// pending_tx. Two shapes are grounded in the pack: an EVM client built on
// go-ethereum's ethclient (grounded on oracle-attesterd/evm_confirm.go's
// EVMClient-interface-over-ethclient.Client pattern), and a generic
// JSON/REST poller for NULS2 and Tezos, grounded on
// services/swapd/adapters/sources.go + native/swap/oracle.go's
// HTTPDoer-over-http.Client adapter shape.
package chain

import (
	"context"

	"alephccn/types"
)

// Client is implemented by each per-chain indexer. FetchSince returns every
// RawTx observed strictly after lastHeight up to (head - confirmationDepth),
// the new cursor height to persist, and the canonical hash identifying the
// block/level at that new height (empty if the client cannot produce one).
// BlockHash and ConfirmationDepth exist so Indexer can detect a reorg
// shallower than confirmation_depth before trusting a stored cursor: it
// re-fetches the hash at the previously recorded height and compares it
// against what was persisted alongside that cursor.
type Client interface {
	Chain() types.Chain
	FetchSince(ctx context.Context, lastHeight uint64) (txs []types.RawTx, newHeight uint64, newHash string, err error)
	BlockHash(ctx context.Context, height uint64) (hash string, err error)
	ConfirmationDepth() uint64
}
