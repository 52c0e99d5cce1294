// Package p2p is the thin client surface this node speaks against the
// external P2P daemon through (spec.md §4.6, §6): Inbound (P2) drains
// announcements into pending_message, Outbound (PO) implements
// pending.Publisher to push locally-accepted HTTP-origin messages back
// out. The daemon's own mesh (peerstore, gossip, handshake) is out of
// scope — it is an external collaborator this package only dials.
package p2p

import (
	"context"

	"alephccn/types"
)

// Client is the request/response surface the daemon exposes. WS is the
// only production implementation; tests fake this interface directly,
// the way swapd/oracle.Manager's Publisher is faked with PublisherFunc.
type Client interface {
	Publish(ctx context.Context, topic string, env types.Envelope) error
	Subscribe(ctx context.Context, topic string) (<-chan types.Envelope, error)
	Close() error
}
