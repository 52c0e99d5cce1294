package cas_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"alephccn/storage/cas"
)

func TestLocalPutGetRoundTrip(t *testing.T) {
	local, err := cas.NewLocal(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	hash, err := local.Put(ctx, []byte("hello aleph"))
	require.NoError(t, err)
	require.Len(t, hash, 64)

	got, err := local.Get(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, []byte("hello aleph"), got)

	size, err := local.Size(ctx, hash)
	require.NoError(t, err)
	require.EqualValues(t, len("hello aleph"), size)
}

func TestLocalPutIsIdempotent(t *testing.T) {
	local, err := cas.NewLocal(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	h1, err := local.Put(ctx, []byte("same content"))
	require.NoError(t, err)
	h2, err := local.Put(ctx, []byte("same content"))
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestLocalGetMissingReturnsNotFound(t *testing.T) {
	local, err := cas.NewLocal(t.TempDir())
	require.NoError(t, err)

	const missing = "deadbeef000000000000000000000000000000000000000000000000000000000000"
	_, err = local.Get(context.Background(), missing)
	require.ErrorIs(t, err, cas.ErrNotFound)
}

func TestLocalDeleteThenGetMissing(t *testing.T) {
	local, err := cas.NewLocal(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	hash, err := local.Put(ctx, []byte("to be deleted"))
	require.NoError(t, err)
	require.NoError(t, local.Delete(ctx, hash))

	_, err = local.Get(ctx, hash)
	require.ErrorIs(t, err, cas.ErrNotFound)
}
