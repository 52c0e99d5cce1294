package handlers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"alephccn/handlers"
	"alephccn/storage/rs"
	"alephccn/types"
)

func TestPostHandlerInsertsOriginalAndAmendment(t *testing.T) {
	store := openStore(t)
	h := &handlers.PostHandler{}

	orig := `{"type":"blog","content":{"title":"v1"},"time":1}`
	original := types.Message{ItemHash: "p1", Sender: "0xA", Address: "0xA", Chain: types.ChainETH,
		Type: types.TypePost, Channel: "test", Time: 1, ItemType: types.ItemInline, Content: &orig}
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Apply(ctx, tx, original)
	}))

	ref := "p1"
	amend := `{"type":"blog","content":{"title":"v2"},"ref":"p1","time":2}`
	amendment := types.Message{ItemHash: "p2", Sender: "0xA", Address: "0xA", Chain: types.ChainETH,
		Type: types.TypePost, Channel: "test", Time: 2, ItemType: types.ItemInline, Content: &amend}
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Apply(ctx, tx, amendment)
	}))

	amendments, err := store.ListAmendments(context.Background(), ref)
	require.NoError(t, err)
	require.Len(t, amendments, 1)
	require.Equal(t, "p2", amendments[0].ItemHash)

	p, err := store.GetPost(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestPostHandlerReverseDeletesRow(t *testing.T) {
	store := openStore(t)
	h := &handlers.PostHandler{}

	content := `{"type":"blog","content":{"title":"v1"},"time":1}`
	msg := types.Message{ItemHash: "p1", Sender: "0xA", Address: "0xA", Chain: types.ChainETH,
		Type: types.TypePost, Channel: "test", Time: 1, ItemType: types.ItemInline, Content: &content}
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Apply(ctx, tx, msg)
	}))
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Reverse(ctx, tx, msg)
	}))

	p, err := store.GetPost(context.Background(), "p1")
	require.NoError(t, err)
	require.Nil(t, p)
}
