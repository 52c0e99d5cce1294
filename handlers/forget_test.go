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

func newTestRegistry(t *testing.T) (*handlers.Registry, *cas.Local) {
	t.Helper()
	local, err := cas.NewLocal(t.TempDir())
	require.NoError(t, err)
	reg := handlers.NewRegistry("item_hash", time.Hour, 24*time.Hour, cas.Backends{Local: local})
	return reg, local
}

func TestForgetHandlerReversesAggregateAndTombstones(t *testing.T) {
	store := openStore(t)
	reg, _ := newTestRegistry(t)
	aggHandler, err := reg.HandlerFor(types.TypeAggregate)
	require.NoError(t, err)

	content := `{"key":"profile","content":{"name":"alice"},"time":1}`
	original := aggregateMessage("h1", "0xA", 1, content)
	require.NoError(t, store.InsertMessage(context.Background(), original))
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return aggHandler.Apply(ctx, tx, original)
	}))

	forgetContent := `{"hashes":["h1"],"time":2}`
	forget := types.Message{ItemHash: "f1", Sender: "0xA", Address: "0xA", Chain: types.ChainETH,
		Type: types.TypeForget, Channel: "test", Time: 2, ItemType: types.ItemInline, Content: &forgetContent}

	forgetHandler, err := reg.HandlerFor(types.TypeForget)
	require.NoError(t, err)
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return forgetHandler.Apply(ctx, tx, forget)
	}))

	stored, err := store.GetMessageByHash(context.Background(), "h1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Nil(t, stored.Content)
	require.NotNil(t, stored.ForgottenBy)
	require.Equal(t, "f1", *stored.ForgottenBy)

	view, err := store.GetAggregateView(context.Background(), "0xA", "profile")
	require.NoError(t, err)
	var merged map[string]any
	require.NoError(t, json.Unmarshal(view.Content, &merged))
	require.Empty(t, merged)
}

func TestForgetHandlerIsIdempotentOnAlreadyForgotten(t *testing.T) {
	store := openStore(t)
	reg, _ := newTestRegistry(t)

	content := `{"key":"profile","content":{"name":"alice"},"time":1}`
	original := aggregateMessage("h1", "0xA", 1, content)
	require.NoError(t, store.InsertMessage(context.Background(), original))

	forgetContent := `{"hashes":["h1"],"time":2}`
	forget := types.Message{ItemHash: "f1", Sender: "0xA", Address: "0xA", Chain: types.ChainETH,
		Type: types.TypeForget, Channel: "test", Time: 2, ItemType: types.ItemInline, Content: &forgetContent}
	forgetHandler, err := reg.HandlerFor(types.TypeForget)
	require.NoError(t, err)

	run := func() error {
		return store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
			return forgetHandler.Apply(ctx, tx, forget)
		})
	}
	require.NoError(t, run())
	require.NoError(t, run()) // second pass: already-forgotten target is a silent no-op
}

func TestForgetHandlerRejectsUndelegatedSender(t *testing.T) {
	store := openStore(t)
	reg, _ := newTestRegistry(t)

	content := `{"key":"profile","content":{"name":"alice"},"time":1}`
	original := aggregateMessage("h1", "0xA", 1, content)
	require.NoError(t, store.InsertMessage(context.Background(), original))

	forgetContent := `{"hashes":["h1"],"time":2}`
	forget := types.Message{ItemHash: "f1", Sender: "0xB", Address: "0xB", Chain: types.ChainETH,
		Type: types.TypeForget, Channel: "test", Time: 2, ItemType: types.ItemInline, Content: &forgetContent}
	forgetHandler, err := reg.HandlerFor(types.TypeForget)
	require.NoError(t, err)

	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return forgetHandler.Apply(ctx, tx, forget)
	}))

	stored, err := store.GetMessageByHash(context.Background(), "h1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Nil(t, stored.ForgottenBy, "0xB has no delegation from 0xA, forget must be a silent no-op")
}

func TestForgetHandlerHonoursDelegation(t *testing.T) {
	store := openStore(t)
	reg, _ := newTestRegistry(t)

	content := `{"key":"profile","content":{"name":"alice"},"time":1}`
	original := aggregateMessage("h1", "0xA", 1, content)
	require.NoError(t, store.InsertMessage(context.Background(), original))

	sec := types.SecurityContent{Authorizations: []types.DelegationFilter{
		{Address: "0xB", Types: []string{"FORGET"}},
	}}
	secJSON, err := json.Marshal(sec)
	require.NoError(t, err)
	require.NoError(t, store.SetAggregateView(context.Background(), types.AggregateView{
		Address: "0xA", Key: "security", Content: secJSON,
	}))

	forgetContent := `{"hashes":["h1"],"time":2}`
	forget := types.Message{ItemHash: "f1", Sender: "0xB", Address: "0xB", Chain: types.ChainETH,
		Type: types.TypeForget, Channel: "test", Time: 2, ItemType: types.ItemInline, Content: &forgetContent}
	forgetHandler, err := reg.HandlerFor(types.TypeForget)
	require.NoError(t, err)

	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return forgetHandler.Apply(ctx, tx, forget)
	}))

	stored, err := store.GetMessageByHash(context.Background(), "h1")
	require.NoError(t, err)
	require.Equal(t, "f1", *stored.ForgottenBy)
}
