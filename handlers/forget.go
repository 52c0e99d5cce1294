package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"alephccn/pending"
	"alephccn/storage/rs"
	"alephccn/types"
)

// ForgetHandler tombstones prior messages and reverses their derived
// effects. FORGET has no effect of its own to reverse: it is never itself
// forgettable (spec.md §4.4), so ForgetHandler does not implement Reverser.
type ForgetHandler struct {
	Reversers map[types.MessageType]Reverser
	Tiebreak  string
}

func (h *ForgetHandler) Apply(ctx context.Context, tx rs.Tx, msg types.Message) error {
	var fc types.ForgetContent
	if msg.Content == nil {
		return fmt.Errorf("handlers: forget message %s has no content", msg.ItemHash)
	}
	if err := json.Unmarshal([]byte(*msg.Content), &fc); err != nil {
		return fmt.Errorf("handlers: decode forget content: %w", err)
	}
	for _, hash := range fc.Hashes {
		if err := h.forgetMessage(ctx, tx, msg, hash); err != nil {
			return err
		}
	}
	for _, key := range fc.Aggregates {
		if err := h.forgetAggregateKey(ctx, tx, msg, key); err != nil {
			return err
		}
	}
	return nil
}

// forgetMessage applies one target hash named by a FORGET. A target that
// is missing, already forgotten, or itself a FORGET is a silent no-op
// (spec.md "Edge Cases": handler-detected conflict → permanent, silent
// success) rather than a pipeline error.
func (h *ForgetHandler) forgetMessage(ctx context.Context, tx rs.Tx, forget types.Message, hash string) error {
	target, err := tx.GetMessageByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("handlers: lookup forget target %s: %w", hash, err)
	}
	if target == nil || target.ForgottenBy != nil || target.Type == types.TypeForget {
		return nil
	}
	if target.Address != forget.Address {
		if err := pending.Authorize(ctx, tx, forget.Address, target.Address, types.TypeForget, target.Channel, "", ""); err != nil {
			return nil // not authorized to forget this particular target: silent no-op
		}
	}
	if reverser, ok := h.Reversers[target.Type]; ok {
		if err := reverser.Reverse(ctx, tx, *target); err != nil {
			return fmt.Errorf("handlers: reverse %s effect of %s: %w", target.Type, hash, err)
		}
	}
	if err := tx.ForgetMessage(ctx, hash, forget.ItemHash); err != nil {
		return fmt.Errorf("handlers: tombstone %s: %w", hash, err)
	}
	return nil
}

// forgetAggregateKey drops every element the forgetting sender owns under
// one aggregate key (FORGET's `aggregates` field), rather than a single
// message hash.
func (h *ForgetHandler) forgetAggregateKey(ctx context.Context, tx rs.Tx, forget types.Message, key string) error {
	elements, err := tx.ListAggregateElements(ctx, forget.Address, key)
	if err != nil {
		return fmt.Errorf("handlers: list aggregate elements %s/%s: %w", forget.Address, key, err)
	}
	for _, el := range elements {
		if err := tx.DeleteAggregateElement(ctx, forget.Address, key, el.ItemHash); err != nil {
			return fmt.Errorf("handlers: delete aggregate element: %w", err)
		}
	}
	return recomputeAggregateView(ctx, tx, forget.Address, key, h.Tiebreak)
}
