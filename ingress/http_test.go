package ingress_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"alephccn/ingress"
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

func postEnvelope(t *testing.T, h http.Handler, env types.Envelope) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitMessageEnqueuesValidEnvelope(t *testing.T) {
	store := openStore(t)
	h := ingress.NewRouter(store, 0)

	env := types.Envelope{Chain: types.ChainETH, Sender: "0xA", Type: types.TypeAggregate,
		Channel: "test", Time: 1, ItemType: types.ItemInline, ItemHash: "h1", ItemContent: `{"key":"k","content":{},"time":1}`}
	rec := postEnvelope(t, h, env)
	require.Equal(t, http.StatusAccepted, rec.Code)

	n, err := store.CountPendingMessages(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSubmitMessageRejectsMalformedType(t *testing.T) {
	store := openStore(t)
	h := ingress.NewRouter(store, 0)

	env := types.Envelope{Chain: types.ChainETH, Sender: "0xA", Type: "NOT_A_TYPE",
		Channel: "test", Time: 1, ItemType: types.ItemInline, ItemHash: "h2"}
	rec := postEnvelope(t, h, env)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	n, err := store.CountPendingMessages(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSubmitMessageReturns503AtHighWatermark(t *testing.T) {
	store := openStore(t)
	h := ingress.NewRouter(store, 1)

	first := types.Envelope{Chain: types.ChainETH, Sender: "0xA", Type: types.TypeAggregate,
		Channel: "test", Time: 1, ItemType: types.ItemInline, ItemHash: "h3", ItemContent: `{"key":"k","content":{},"time":1}`}
	require.Equal(t, http.StatusAccepted, postEnvelope(t, h, first).Code)

	second := types.Envelope{Chain: types.ChainETH, Sender: "0xA", Type: types.TypeAggregate,
		Channel: "test", Time: 1, ItemType: types.ItemInline, ItemHash: "h4", ItemContent: `{"key":"k","content":{},"time":1}`}
	rec := postEnvelope(t, h, second)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitMessageIsIdempotentOnDuplicateHash(t *testing.T) {
	store := openStore(t)
	h := ingress.NewRouter(store, 0)

	env := types.Envelope{Chain: types.ChainETH, Sender: "0xA", Type: types.TypeAggregate,
		Channel: "test", Time: 1, ItemType: types.ItemInline, ItemHash: "h5", ItemContent: `{"key":"k","content":{},"time":1}`}
	require.Equal(t, http.StatusAccepted, postEnvelope(t, h, env).Code)
	require.Equal(t, http.StatusAccepted, postEnvelope(t, h, env).Code)

	n, err := store.CountPendingMessages(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n, "a second submission of the same item_hash must not add a second row")
}
