package chain_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alephccn/chain"
	"alephccn/types"
)

func httpBody(b []byte) io.ReadCloser { return io.NopCloser(bytes.NewReader(b)) }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memCursorStore struct {
	mu      sync.Mutex
	cursors map[types.Chain]types.ChainCursor
	pending []types.PendingTx
}

func newMemCursorStore() *memCursorStore {
	return &memCursorStore{cursors: map[types.Chain]types.ChainCursor{}}
}

func (m *memCursorStore) GetCursor(_ context.Context, c types.Chain) (*types.ChainCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.cursors[c]; ok {
		return &cur, nil
	}
	return nil, nil
}

func (m *memCursorStore) AdvanceCursor(_ context.Context, c types.Chain, height uint64, txHash, blockHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[c] = types.ChainCursor{Chain: c, LastHeight: height, LastTxHash: txHash, LastBlockHash: blockHash}
	return nil
}

func (m *memCursorStore) UpsertPendingTx(_ context.Context, tx types.PendingTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, tx)
	return nil
}

// fakeClient satisfies chain.Client. blockHashes maps height -> canonical
// hash at that height, letting tests simulate a reorg by changing the hash
// a previously-recorded cursor height now resolves to.
type fakeClient struct {
	chain             types.Chain
	txs               []types.RawTx
	newH              uint64
	newHash           string
	err               error
	confirmationDepth uint64
	blockHashes       map[uint64]string
}

func (f *fakeClient) Chain() types.Chain             { return f.chain }
func (f *fakeClient) ConfirmationDepth() uint64       { return f.confirmationDepth }
func (f *fakeClient) FetchSince(_ context.Context, lastHeight uint64) ([]types.RawTx, uint64, string, error) {
	if f.err != nil {
		return nil, lastHeight, "", f.err
	}
	return f.txs, f.newH, f.newHash, nil
}
func (f *fakeClient) BlockHash(_ context.Context, height uint64) (string, error) {
	return f.blockHashes[height], nil
}

func TestIndexerTickPersistsTxsAndAdvancesCursor(t *testing.T) {
	store := newMemCursorStore()
	client := &fakeClient{
		chain: types.ChainETH,
		txs: []types.RawTx{
			{TxHash: "0xabc", Height: 10, Publisher: "0xsender", Protocol: types.ProtocolBatchInline, Payload: []byte(`{}`)},
		},
		newH:    10,
		newHash: "0xblock10",
	}
	idx := chain.NewIndexer(discardLogger(), client, store, time.Second)

	require.NoError(t, idx.Tick(context.Background()))
	require.Len(t, store.pending, 1)
	require.Equal(t, "0xabc", store.pending[0].TxHash)

	cursor, err := store.GetCursor(context.Background(), types.ChainETH)
	require.NoError(t, err)
	require.EqualValues(t, 10, cursor.LastHeight)
	require.Equal(t, "0xblock10", cursor.LastBlockHash)
}

func TestIndexerTickRewindsCursorOnReorg(t *testing.T) {
	store := newMemCursorStore()
	store.cursors[types.ChainETH] = types.ChainCursor{
		Chain: types.ChainETH, LastHeight: 100, LastTxHash: "0xstale", LastBlockHash: "0xstale-block-100",
	}
	client := &fakeClient{
		chain:             types.ChainETH,
		confirmationDepth: 12,
		// the chain now reports a different hash at height 100 than what
		// was persisted: the block the cursor pointed to was reorged away.
		blockHashes: map[uint64]string{100: "0xnew-block-100"},
		txs: []types.RawTx{
			{TxHash: "0xreplay", Height: 90, Publisher: "0xsender", Protocol: types.ProtocolBatchInline, Payload: []byte(`{}`)},
		},
		newH:    95,
		newHash: "0xnew-block-95",
	}
	idx := chain.NewIndexer(discardLogger(), client, store, time.Second)

	require.NoError(t, idx.Tick(context.Background()))

	cursor, err := store.GetCursor(context.Background(), types.ChainETH)
	require.NoError(t, err)
	// rewound to 100-12=88 before FetchSince ran, then FetchSince reported
	// progress back up to 95 — re-scanning [89,95] idempotently via the
	// (chain, tx_hash) upsert key.
	require.EqualValues(t, 95, cursor.LastHeight)
	require.Equal(t, "0xnew-block-95", cursor.LastBlockHash)
	require.Len(t, store.pending, 1)
	require.Equal(t, "0xreplay", store.pending[0].TxHash)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func TestNULS2DecodeFiltersByContractAndParsesRemark(t *testing.T) {
	payload := []byte(`{"protocol":"aleph","version":1,"content":[]}`)
	remark := hex.EncodeToString(payload)
	listBody, err := json.Marshal(map[string]any{
		"list": []map[string]any{
			{"hash": "tx1", "height": 5, "txIndex": 0, "from": "NULSsender", "to": "NULScontract", "remark": remark},
			{"hash": "tx2", "height": 6, "txIndex": 0, "from": "NULSsender", "to": "NULSother", "remark": remark},
		},
	})
	require.NoError(t, err)
	blockBody, err := json.Marshal(map[string]any{"hash": "nuls-block-6"})
	require.NoError(t, err)

	fakeHTTP := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if strings.Contains(r.URL.Path, "/block/") {
			return &http.Response{StatusCode: http.StatusOK, Body: httpBody(blockBody)}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: httpBody(listBody)}, nil
	})

	poller := chain.NewNULS2(fakeHTTP, "http://example.invalid/api", "NULScontract", 0)
	txs, newHeight, hash, err := poller.FetchSince(context.Background(), 0)
	require.NoError(t, err)
	require.EqualValues(t, 6, newHeight) // cursor advances past the filtered-out tx too
	require.Equal(t, "nuls-block-6", hash)
	require.Len(t, txs, 1)
	require.Equal(t, "tx1", txs[0].TxHash)
}

func TestNULS2FetchSinceWithholdsUnconfirmedHeights(t *testing.T) {
	payload := []byte(`{"protocol":"aleph","version":1,"content":[]}`)
	remark := hex.EncodeToString(payload)
	listBody, err := json.Marshal(map[string]any{
		"list": []map[string]any{
			{"hash": "tx1", "height": 5, "txIndex": 0, "from": "NULSsender", "to": "NULScontract", "remark": remark},
		},
	})
	require.NoError(t, err)

	fakeHTTP := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: httpBody(listBody)}, nil
	})

	// confirmationDepth of 10 exceeds the observed max height of 5, so
	// nothing is confirmed yet and the cursor must not move.
	poller := chain.NewNULS2(fakeHTTP, "http://example.invalid/api", "NULScontract", 10)
	txs, newHeight, hash, err := poller.FetchSince(context.Background(), 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, newHeight)
	require.Empty(t, hash)
	require.Empty(t, txs)
}
