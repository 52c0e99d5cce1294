package handlers_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alephccn/handlers"
	"alephccn/storage/cas"
	"alephccn/storage/rs"
	"alephccn/types"
)

func storeMessage(itemHash, itemType, ref string, temporary bool) types.Message {
	refJSON := ""
	if ref != "" {
		refJSON = `,"ref":"` + ref + `"`
	}
	temp := ""
	if temporary {
		temp = `,"temporary":true`
	}
	content := `{"item_type":"` + itemType + `","item_hash":"` + itemHash + `"` + refJSON + temp + `,"time":1}`
	return types.Message{ItemHash: "m-" + itemHash, Sender: "0xA", Address: "0xA", Chain: types.ChainETH,
		Type: types.TypeStore, Channel: "test", Time: 1, ItemType: types.ItemInline, Content: &content}
}

func TestStoreHandlerFirstPinCreatesRowWithCASSize(t *testing.T) {
	store := openStore(t)
	local, err := cas.NewLocal(t.TempDir())
	require.NoError(t, err)
	hash, err := local.Put(context.Background(), []byte("hello world"))
	require.NoError(t, err)

	h := &handlers.StoreHandler{Backends: cas.Backends{Local: local}, GraceTemp: time.Hour, GraceNormal: 24 * time.Hour}
	msg := storeMessage(hash, "storage", "", false)

	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Apply(ctx, tx, msg)
	}))

	file, err := store.GetStoredFileForUpdate(context.Background(), hash)
	require.NoError(t, err)
	require.NotNil(t, file)
	require.EqualValues(t, 1, file.PinCount)
	require.EqualValues(t, len("hello world"), file.Size)
	require.Nil(t, file.PinDeleteAt)
}

func TestStoreHandlerSecondReferenceIncrementsWithoutRepin(t *testing.T) {
	store := openStore(t)
	local, err := cas.NewLocal(t.TempDir())
	require.NoError(t, err)
	hash, err := local.Put(context.Background(), []byte("shared object"))
	require.NoError(t, err)

	h := &handlers.StoreHandler{Backends: cas.Backends{Local: local}, GraceTemp: time.Hour, GraceNormal: 24 * time.Hour}
	msg1 := storeMessage(hash, "storage", "", false)
	msg1.ItemHash = "m-a"
	msg2 := storeMessage(hash, "storage", "", false)
	msg2.ItemHash = "m-b"

	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Apply(ctx, tx, msg1)
	}))
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Apply(ctx, tx, msg2)
	}))

	file, err := store.GetStoredFileForUpdate(context.Background(), hash)
	require.NoError(t, err)
	require.EqualValues(t, 2, file.PinCount)
}

func TestStoreHandlerReverseToZeroSchedulesGraceDeletion(t *testing.T) {
	store := openStore(t)
	local, err := cas.NewLocal(t.TempDir())
	require.NoError(t, err)
	hash, err := local.Put(context.Background(), []byte("temp object"))
	require.NoError(t, err)

	h := &handlers.StoreHandler{Backends: cas.Backends{Local: local}, GraceTemp: time.Hour, GraceNormal: 24 * time.Hour}
	msg := storeMessage(hash, "storage", "", true)

	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Apply(ctx, tx, msg)
	}))
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx rs.Tx) error {
		return h.Reverse(ctx, tx, msg)
	}))

	file, err := store.GetStoredFileForUpdate(context.Background(), hash)
	require.NoError(t, err)
	require.EqualValues(t, 0, file.PinCount)
	require.NotNil(t, file.PinDeleteAt)
	require.WithinDuration(t, time.Now().Add(time.Hour), *file.PinDeleteAt, 5*time.Second)
}
