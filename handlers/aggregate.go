// Package handlers implements the five message-type effects named in
// spec.md §4.4: AGGREGATE, POST, STORE, FORGET, PROGRAM. Each handler
// satisfies pending.Handler (Apply, applied inside PMP's RunInTx) and,
// where the message has a reverse effect, the package-local Reverser
// interface invoked by the FORGET handler.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"alephccn/storage/rs"
	"alephccn/types"
)

// Reverser undoes a handler's Apply for one target message, invoked by
// ForgetHandler when a FORGET names that message.
type Reverser interface {
	Reverse(ctx context.Context, tx rs.Tx, msg types.Message) error
}

// AggregateHandler folds AGGREGATE messages into a materialised view per
// (address, key), per the deep-merge rule in spec.md §3: latest scalar
// wins, objects merge recursively, a null value removes the key. Ties in
// fold order are broken by item_hash ascending (Open Question (a)).
type AggregateHandler struct {
	Tiebreak string
}

func (h *AggregateHandler) Apply(ctx context.Context, tx rs.Tx, msg types.Message) error {
	ac, err := decodeAggregateContent(msg)
	if err != nil {
		return err
	}
	el := types.AggregateElement{
		Address: msg.Address, Key: ac.Key, ItemHash: msg.ItemHash,
		Time: ac.Time, Content: ac.Content,
	}
	if err := tx.InsertAggregateElement(ctx, el); err != nil {
		return fmt.Errorf("handlers: insert aggregate element: %w", err)
	}
	return recomputeAggregateView(ctx, tx, msg.Address, ac.Key, h.Tiebreak)
}

func (h *AggregateHandler) Reverse(ctx context.Context, tx rs.Tx, msg types.Message) error {
	ac, err := decodeAggregateContent(msg)
	if err != nil {
		return err
	}
	if err := tx.DeleteAggregateElement(ctx, msg.Address, ac.Key, msg.ItemHash); err != nil {
		return fmt.Errorf("handlers: delete aggregate element: %w", err)
	}
	return recomputeAggregateView(ctx, tx, msg.Address, ac.Key, h.Tiebreak)
}

func decodeAggregateContent(msg types.Message) (types.AggregateContent, error) {
	var ac types.AggregateContent
	if msg.Content == nil {
		return ac, fmt.Errorf("handlers: aggregate message %s has no content", msg.ItemHash)
	}
	if err := json.Unmarshal([]byte(*msg.Content), &ac); err != nil {
		return ac, fmt.Errorf("handlers: decode aggregate content: %w", err)
	}
	return ac, nil
}

// recomputeAggregateView re-folds every element currently on record for
// (address, key) and writes the result as the view. Called after every
// insert/delete so the materialised view never drifts from its elements.
// tiebreak is the aggregate_tiebreak config knob (Open Question (a)):
// "item_hash_desc" orders equal-time elements by item_hash descending; any
// other value, including the default "item_hash", orders them ascending.
func recomputeAggregateView(ctx context.Context, tx rs.Tx, address, key, tiebreak string) error {
	elements, err := tx.ListAggregateElements(ctx, address, key)
	if err != nil {
		return fmt.Errorf("handlers: list aggregate elements: %w", err)
	}
	sort.Slice(elements, func(i, j int) bool {
		if elements[i].Time != elements[j].Time {
			return elements[i].Time < elements[j].Time
		}
		if tiebreak == "item_hash_desc" {
			return elements[i].ItemHash > elements[j].ItemHash
		}
		return elements[i].ItemHash < elements[j].ItemHash
	})

	merged := map[string]any{}
	var creation, lastRevision float64
	for i, el := range elements {
		if i == 0 {
			creation = el.Time
		}
		lastRevision = el.Time
		var part map[string]any
		if err := json.Unmarshal(el.Content, &part); err != nil {
			return fmt.Errorf("handlers: decode aggregate element %s: %w", el.ItemHash, err)
		}
		merged = deepMerge(merged, part)
	}

	content, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("handlers: marshal aggregate view: %w", err)
	}
	view := types.AggregateView{
		Address: address, Key: key, Content: content,
		CreationTime: creation, LastRevisionTime: lastRevision,
	}
	if err := tx.SetAggregateView(ctx, view); err != nil {
		return fmt.Errorf("handlers: set aggregate view: %w", err)
	}
	return nil
}

// deepMerge applies src onto dst per the fold rule: a null in src deletes
// the key, a nested object merges recursively, anything else overwrites.
func deepMerge(dst, src map[string]any) map[string]any {
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		if srcObj, ok := v.(map[string]any); ok {
			if dstObj, ok := dst[k].(map[string]any); ok {
				dst[k] = deepMerge(dstObj, srcObj)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}
