package p2p

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"alephccn/storage/rs"
	"alephccn/types"
)

// Inbound is the P2 stage (spec.md §1 "P2P Inbound", §4.6): it subscribes
// to the configured topic and fans each announcement into pending_message,
// the same queue PTP feeds from on-chain batches and HI feeds from direct
// HTTP submissions. A message whose hash is already confirmed, or already
// sitting in pending_message from another source, is dropped here so it
// never takes a queue slot PMP would have to dedupe again.
type Inbound struct {
	logger        *slog.Logger
	store         rs.Store
	client        Client
	topic         string
	highWatermark int
}

func NewInbound(logger *slog.Logger, store rs.Store, client Client, topic string) *Inbound {
	return &Inbound{logger: logger, store: store, client: client, topic: topic}
}

// WithHighWatermark sets the pending_message.count ceiling past which
// announcements are dropped rather than enqueued (spec.md §5 backpressure:
// "P2 and HI reject new inputs with a transient error"). Zero (the default)
// disables the check.
func (in *Inbound) WithHighWatermark(n int) *Inbound {
	in.highWatermark = n
	return in
}

// Run subscribes and blocks, draining announcements until ctx is cancelled.
func (in *Inbound) Run(ctx context.Context) error {
	events, err := in.client.Subscribe(ctx, in.topic)
	if err != nil {
		return fmt.Errorf("p2p: subscribe %s: %w", in.topic, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-events:
			if !ok {
				return fmt.Errorf("p2p: subscription to %s closed", in.topic)
			}
			if err := in.handle(ctx, env); err != nil {
				in.logger.Error("p2p: dropping inbound envelope", "item_hash", env.ItemHash, "error", err)
			}
		}
	}
}

func (in *Inbound) handle(ctx context.Context, env types.Envelope) error {
	if !env.Chain.Valid() || !env.Type.Valid() || !env.ItemType.Valid() {
		return fmt.Errorf("malformed envelope from p2p")
	}

	if in.highWatermark > 0 {
		count, err := in.store.CountPendingMessages(ctx)
		if err != nil {
			return fmt.Errorf("count pending messages: %w", err)
		}
		if count >= in.highWatermark {
			return fmt.Errorf("pending queue at capacity (%d), dropping inbound envelope", count)
		}
	}

	confirmed, err := in.store.GetMessageByHash(ctx, env.ItemHash)
	if err != nil {
		return fmt.Errorf("lookup confirmed message: %w", err)
	}
	if confirmed != nil {
		return nil
	}
	pending, err := in.store.ExistsPendingMessageByHash(ctx, env.ItemHash)
	if err != nil {
		return fmt.Errorf("lookup pending message: %w", err)
	}
	if pending {
		return nil
	}

	msg := types.PendingMessage{
		ID: uuid.NewString(), ItemHash: env.ItemHash, Sender: env.Sender, Address: env.EffectiveAddress(),
		Chain: env.Chain, Signature: env.Signature, Type: env.Type, Channel: env.Channel, Time: env.Time,
		ItemType: env.ItemType, Origin: types.OriginP2P, NextAttemptAt: time.Now().UTC(), CheckMessage: true,
	}
	if env.ItemContent != "" {
		content := env.ItemContent
		msg.ItemContent = &content
	}
	if err := in.store.InsertPendingMessage(ctx, msg); err != nil {
		return fmt.Errorf("insert pending message: %w", err)
	}
	return nil
}
