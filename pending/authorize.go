package pending

import (
	"context"
	"fmt"

	"alephccn/types"
)

// SecurityLookup is the narrow rs.Queries slice Authorize needs.
type SecurityLookup interface {
	GetSecurityAggregate(ctx context.Context, address string) (*types.SecurityContent, error)
}

// Authorize enforces §4.3 step 5: a message whose sender differs from the
// address it acts on is only valid if that address's "security" aggregate
// names the sender as a delegate matching the message's channel, type,
// and (for POST/AGGREGATE) sub-discriminator.
//
// FORGET delegation is symmetric with every other type (SPEC_FULL.md §9
// Open Question (c), not a special case): the handlers/forget.go reverse
// pass calls Authorize once per target message against that message's own
// author. FORGET is matched against the delegation's types filter like any
// other type, so a delegation with an empty types filter authorizes it too.
func Authorize(ctx context.Context, lookup SecurityLookup, sender, address string, msgType types.MessageType, channel, postType, aggregateKey string) error {
	if sender == address {
		return nil
	}
	sec, err := lookup.GetSecurityAggregate(ctx, address)
	if err != nil {
		return fmt.Errorf("load security aggregate for %s: %w", address, err)
	}
	if sec == nil {
		return fmt.Errorf("%s has delegated nothing to %s", address, sender)
	}
	for _, d := range sec.Authorizations {
		if d.Address != sender {
			continue
		}
		if d.Matches(channel, msgType, postType, aggregateKey) {
			return nil
		}
	}
	return fmt.Errorf("%s has no delegation authorizing %s for a %s message", address, sender, msgType)
}
