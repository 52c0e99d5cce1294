package pending_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alephccn/pending"
	"alephccn/storage/cas"
	"alephccn/storage/rs"
	"alephccn/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *rs.SQLStore {
	t.Helper()
	store, err := rs.OpenSQL(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPTPBatchInlineFansOutAndDeletesTx(t *testing.T) {
	store := openTestStore(t)
	ptp := pending.NewPTP(testLogger(), store, nil, 10, time.Second)

	envs := []types.Envelope{{
		Chain: types.ChainETH, Sender: "0xabc", Type: types.TypeAggregate,
		Channel: "TEST", Time: 1, ItemType: types.ItemInline, ItemHash: "h1", ItemContent: `{"key":"k"}`,
	}}
	payload, err := json.Marshal(envs)
	require.NoError(t, err)

	require.NoError(t, store.UpsertPendingTx(context.Background(), types.PendingTx{
		Chain: types.ChainETH, TxHash: "0xtx1", Height: 10, Publisher: "0xabc",
		Protocol: types.ProtocolBatchInline, Payload: payload,
	}))

	n, err := ptp.Tick(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	count, err := store.CountPendingTxs(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)

	msgCount, err := store.CountPendingMessages(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, msgCount)

	msgs, err := store.ClaimPendingMessages(context.Background(), "test", nil, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, types.OriginOnChain, msgs[0].Origin)
	require.NotNil(t, msgs[0].Confirmation)
	require.Equal(t, "0xtx1", msgs[0].Confirmation.TxHash)
}

func TestPTPMalformedJSONHardDrops(t *testing.T) {
	store := openTestStore(t)
	ptp := pending.NewPTP(testLogger(), store, nil, 10, time.Second)

	require.NoError(t, store.UpsertPendingTx(context.Background(), types.PendingTx{
		Chain: types.ChainETH, TxHash: "0xtx2", Height: 11, Publisher: "0xabc",
		Protocol: types.ProtocolBatchInline, Payload: []byte("not json"),
	}))

	_, err := ptp.Tick(context.Background(), 10)
	require.NoError(t, err)

	count, err := store.CountPendingTxs(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)

	msgCount, err := store.CountPendingMessages(context.Background())
	require.NoError(t, err)
	require.Zero(t, msgCount)
}

type casFetcher struct {
	local *cas.Local
}

func (f casFetcher) Get(ctx context.Context, hash string) ([]byte, error) { return f.local.Get(ctx, hash) }

func TestPTPBatchRefFetchesFromCAS(t *testing.T) {
	store := openTestStore(t)
	local, err := cas.NewLocal(t.TempDir())
	require.NoError(t, err)

	envs := []types.Envelope{{
		Chain: types.ChainETH, Sender: "0xabc", Type: types.TypePost,
		Channel: "TEST", Time: 2, ItemType: types.ItemInline, ItemHash: "h2", ItemContent: `{"type":"blog"}`,
	}}
	payload, err := json.Marshal(envs)
	require.NoError(t, err)
	hash, err := local.Put(context.Background(), payload)
	require.NoError(t, err)

	ptp := pending.NewPTP(testLogger(), store, casFetcher{local: local}, 10, time.Second)
	require.NoError(t, store.UpsertPendingTx(context.Background(), types.PendingTx{
		Chain: types.ChainETH, TxHash: "0xtx3", Height: 12, Publisher: "0xabc",
		Protocol: types.ProtocolBatchRef, Payload: []byte(hash),
	}))

	n, err := ptp.Tick(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	msgCount, err := store.CountPendingMessages(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, msgCount)
}
