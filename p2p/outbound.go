package p2p

import (
	"context"
	"fmt"

	"alephccn/pending"
	"alephccn/types"
)

// Outbound is the PO stage (spec.md §1 "P2P Outbound / Publisher", §4.6):
// it implements pending.Publisher, the hand-off point PMP calls once an
// HTTP-origin message has been durably processed, so this node's own
// submissions reach the rest of the network the same way on-chain and
// P2P-origin ones arrived.
type Outbound struct {
	client  Client
	topic   string
	limiter *RateLimiter
}

var _ pending.Publisher = (*Outbound)(nil)

func NewOutbound(client Client, topic string, limiter *RateLimiter) *Outbound {
	return &Outbound{client: client, topic: topic, limiter: limiter}
}

func (o *Outbound) Publish(ctx context.Context, env types.Envelope) error {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, env.Channel); err != nil {
			return fmt.Errorf("p2p: rate limit wait for channel %s: %w", env.Channel, err)
		}
	}
	if err := o.client.Publish(ctx, o.topic, env); err != nil {
		return fmt.Errorf("p2p: publish %s: %w", env.ItemHash, err)
	}
	return nil
}
