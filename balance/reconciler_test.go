package balance_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alephccn/balance"
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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcilerTickSnapshotsUsagePerAddress(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertMessage(ctx, types.Message{
		ItemHash: "h1", Sender: "0xA", Address: "0xA", Chain: types.ChainETH,
		Type: types.TypeStore, Channel: "test", Time: 1, ItemType: types.ItemStorage, Size: 1000,
	}))
	require.NoError(t, store.UpsertBalance(ctx, types.Balance{
		Address: "0xA", Chain: types.ChainETH, Token: "NATIVE", Amount: 10, LastUpdate: time.Now(),
	}))

	r := balance.New(balance.Config{
		Logger: testLogger(), Store: store, Interval: time.Hour, Grace: time.Hour,
		BytesPerBalanceUnit: 1000, // quota = 10 * 1000 = 10000 bytes, well above usage
	})
	require.NoError(t, r.Tick(ctx))

	snap, err := store.GetUsageSnapshot(ctx, "0xA")
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, uint64(1000), snap.BytesUsed)
}

func TestReconcilerSchedulesDeletionWhenOverQuota(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertMessage(ctx, types.Message{
		ItemHash: "h1", Sender: "0xA", Address: "0xA", Chain: types.ChainETH,
		Type: types.TypeStore, Channel: "test", Time: 1, ItemType: types.ItemStorage, Size: 5000,
	}))
	require.NoError(t, store.UpsertBalance(ctx, types.Balance{
		Address: "0xA", Chain: types.ChainETH, Token: "NATIVE", Amount: 1, LastUpdate: time.Now(),
	}))
	require.NoError(t, store.UpsertStoredFile(ctx, types.StoredFile{
		FileHash: "h1", Storage: "local", Size: 5000, PinCount: 0, LastAccessAt: time.Now().Add(-time.Hour),
	}))

	r := balance.New(balance.Config{
		Logger: testLogger(), Store: store, Interval: time.Hour, Grace: time.Hour,
		BytesPerBalanceUnit: 10, // quota = 1 * 10 = 10 bytes, usage 5000 >> quota
	})
	require.NoError(t, r.Tick(ctx))

	file, err := store.GetStoredFileForUpdate(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, file)
	require.NotNil(t, file.PinDeleteAt, "unpinned file over quota must be scheduled for deletion")
}

func TestReconcilerLeavesPinnedFilesAlone(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertMessage(ctx, types.Message{
		ItemHash: "h1", Sender: "0xA", Address: "0xA", Chain: types.ChainETH,
		Type: types.TypeStore, Channel: "test", Time: 1, ItemType: types.ItemStorage, Size: 5000,
	}))
	require.NoError(t, store.UpsertStoredFile(ctx, types.StoredFile{
		FileHash: "h1", Storage: "local", Size: 5000, PinCount: 1, LastAccessAt: time.Now(),
	}))

	r := balance.New(balance.Config{
		Logger: testLogger(), Store: store, Interval: time.Hour, Grace: time.Hour,
		BytesPerBalanceUnit: 1, // no balance recorded -> quota 0, fully over
	})
	require.NoError(t, r.Tick(ctx))

	file, err := store.GetStoredFileForUpdate(ctx, "h1")
	require.NoError(t, err)
	require.Nil(t, file.PinDeleteAt, "a file still referenced by a live STORE must never be scheduled for deletion")
}
