package handlers_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alephccn/handlers"
	"alephccn/storage/cas"
	"alephccn/storage/rs"
	"alephccn/types"
)

func openStore(t *testing.T) *rs.SQLStore {
	t.Helper()
	store, err := rs.OpenSQL(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func aggregateMessage(itemHash, address string, time_ float64, content string) types.Message {
	c := content
	return types.Message{ItemHash: itemHash, Sender: address, Address: address, Chain: types.ChainETH,
		Type: types.TypeAggregate, Channel: "test", Time: time_, ItemType: types.ItemInline, Content: &c}
}

func TestAggregateHandlerDeepMergesInFoldOrder(t *testing.T) {
	store := openStore(t)
	h := &handlers.AggregateHandler{Tiebreak: "item_hash"}

	m1 := aggregateMessage("h1", "0xA", 1, `{"key":"profile","content":{"name":"alice","age":30},"time":1}`)
	m2 := aggregateMessage("h2", "0xA", 2, `{"key":"profile","content":{"age":31,"bio":"hi"},"time":2}`)

	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Apply(ctx, tx, m1)
	}))
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Apply(ctx, tx, m2)
	}))

	view, err := store.GetAggregateView(context.Background(), "0xA", "profile")
	require.NoError(t, err)
	require.NotNil(t, view)

	var merged map[string]any
	require.NoError(t, json.Unmarshal(view.Content, &merged))
	require.Equal(t, "alice", merged["name"])
	require.Equal(t, float64(31), merged["age"])
	require.Equal(t, "hi", merged["bio"])
	require.Equal(t, float64(2), view.LastRevisionTime)
}

func TestAggregateHandlerNullRemovesKey(t *testing.T) {
	store := openStore(t)
	h := &handlers.AggregateHandler{Tiebreak: "item_hash"}

	m1 := aggregateMessage("h1", "0xA", 1, `{"key":"profile","content":{"name":"alice","temp":"x"},"time":1}`)
	m2 := aggregateMessage("h2", "0xA", 2, `{"key":"profile","content":{"temp":null},"time":2}`)

	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Apply(ctx, tx, m1)
	}))
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Apply(ctx, tx, m2)
	}))

	view, err := store.GetAggregateView(context.Background(), "0xA", "profile")
	require.NoError(t, err)
	var merged map[string]any
	require.NoError(t, json.Unmarshal(view.Content, &merged))
	require.Equal(t, "alice", merged["name"])
	_, hasTemp := merged["temp"]
	require.False(t, hasTemp)
}

func TestAggregateHandlerReverseRecomputesView(t *testing.T) {
	store := openStore(t)
	h := &handlers.AggregateHandler{Tiebreak: "item_hash"}

	m1 := aggregateMessage("h1", "0xA", 1, `{"key":"profile","content":{"name":"alice"},"time":1}`)
	m2 := aggregateMessage("h2", "0xA", 2, `{"key":"profile","content":{"name":"bob"},"time":2}`)
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Apply(ctx, tx, m1)
	}))
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Apply(ctx, tx, m2)
	}))
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Reverse(ctx, tx, m2)
	}))

	view, err := store.GetAggregateView(context.Background(), "0xA", "profile")
	require.NoError(t, err)
	var merged map[string]any
	require.NoError(t, json.Unmarshal(view.Content, &merged))
	require.Equal(t, "alice", merged["name"])
}

func TestRegistryHandlerForEveryType(t *testing.T) {
	local, err := cas.NewLocal(t.TempDir())
	require.NoError(t, err)
	reg := handlers.NewRegistry("item_hash", time.Hour, 24*time.Hour, cas.Backends{Local: local})

	for _, mt := range []types.MessageType{types.TypeAggregate, types.TypePost, types.TypeStore, types.TypeForget, types.TypeProgram} {
		h, err := reg.HandlerFor(mt)
		require.NoError(t, err)
		require.NotNil(t, h)
	}
	_, err = reg.HandlerFor(types.MessageType("BOGUS"))
	require.Error(t, err)
}
