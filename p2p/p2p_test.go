package p2p_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alephccn/p2p"
	"alephccn/storage/rs"
	"alephccn/types"
)

type fakeClient struct {
	published  []types.Envelope
	publishErr error
	events     chan types.Envelope
}

func (f *fakeClient) Publish(_ context.Context, _ string, env types.Envelope) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, env)
	return nil
}

func (f *fakeClient) Subscribe(context.Context, string) (<-chan types.Envelope, error) {
	if f.events != nil {
		return f.events, nil
	}
	ch := make(chan types.Envelope)
	close(ch)
	return ch, nil
}

func (f *fakeClient) Close() error { return nil }

func TestOutboundPublishesThroughClient(t *testing.T) {
	client := &fakeClient{}
	out := p2p.NewOutbound(client, "aleph", nil)

	env := types.Envelope{ItemHash: "h1", Channel: "test"}
	require.NoError(t, out.Publish(context.Background(), env))
	require.Len(t, client.published, 1)
	require.Equal(t, "h1", client.published[0].ItemHash)
}

func TestOutboundRateLimitsPerChannel(t *testing.T) {
	client := &fakeClient{}
	limiter := p2p.NewRateLimiter(1000, 1) // burst 1 so a second immediate call must wait
	out := p2p.NewOutbound(client, "aleph", limiter)

	env := types.Envelope{ItemHash: "h1", Channel: "chanA"}
	require.NoError(t, out.Publish(context.Background(), env))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := out.Publish(ctx, types.Envelope{ItemHash: "h2", Channel: "chanA"})
	// either it waits out the bucket and succeeds, or the short ctx expires first;
	// both are acceptable, a silent unlimited publish is not.
	if err == nil {
		require.Len(t, client.published, 2)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *rs.SQLStore {
	t.Helper()
	store, err := rs.OpenSQL(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// runOnce drives Inbound.Run against a client that delivers exactly one
// envelope then closes its event channel, and waits for Run to return.
func runOnce(t *testing.T, store rs.Store, env types.Envelope) {
	t.Helper()
	events := make(chan types.Envelope, 1)
	events <- env
	close(events)
	client := &fakeClient{events: events}

	in := p2p.NewInbound(testLogger(), store, client, "aleph")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := in.Run(ctx)
	require.Error(t, err, "Run returns once the subscription channel closes")
}

func TestInboundDedupesAgainstConfirmedMessage(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.InsertMessage(context.Background(), types.Message{
		ItemHash: "dup1", Sender: "0xA", Address: "0xA", Chain: types.ChainETH,
		Type: types.TypeAggregate, Channel: "test", Time: 1, ItemType: types.ItemInline,
	}))

	env := types.Envelope{Chain: types.ChainETH, Sender: "0xA", Type: types.TypeAggregate,
		Channel: "test", Time: 1, ItemType: types.ItemInline, ItemHash: "dup1"}
	runOnce(t, store, env)

	n, err := store.CountPendingMessages(context.Background())
	require.NoError(t, err)
	require.Zero(t, n, "already-confirmed message must not be re-queued")
}

func TestInboundDedupesAgainstExistingPendingMessage(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.InsertPendingMessage(context.Background(), types.PendingMessage{
		ID: "existing", ItemHash: "dup2", Sender: "0xA", Address: "0xA", Chain: types.ChainETH,
		Type: types.TypeAggregate, Channel: "test", Time: 1, ItemType: types.ItemInline,
		Origin: types.OriginOnChain, NextAttemptAt: time.Now().UTC(),
	}))

	env := types.Envelope{Chain: types.ChainETH, Sender: "0xA", Type: types.TypeAggregate,
		Channel: "test", Time: 1, ItemType: types.ItemInline, ItemHash: "dup2"}
	runOnce(t, store, env)

	n, err := store.CountPendingMessages(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n, "a second arrival of an already-queued hash must not add a row")
}

func TestInboundInsertsNewEnvelopeWithEffectiveAddress(t *testing.T) {
	store := openStore(t)
	env := types.Envelope{Chain: types.ChainETH, Sender: "0xA", Type: types.TypeAggregate,
		Channel: "test", Time: 1, ItemType: types.ItemInline, ItemHash: "new1",
		ItemContent: `{"key":"k","content":{},"time":1}`}
	runOnce(t, store, env)

	n, err := store.CountPendingMessages(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestInboundRejectsMalformedEnvelope(t *testing.T) {
	store := openStore(t)
	env := types.Envelope{Sender: "0xA", ItemHash: "bad1"} // missing Chain/Type/ItemType
	runOnce(t, store, env)

	n, err := store.CountPendingMessages(context.Background())
	require.NoError(t, err)
	require.Zero(t, n, "malformed envelopes must be dropped, not queued")
}
