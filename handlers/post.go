package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"alephccn/storage/rs"
	"alephccn/types"
)

// PostHandler records POST messages and their amendments. Which row is
// "visible" for a given ref (the one with the highest content time, ties
// broken by item_hash) is a read-time concern for whatever serves posts
// out of the post table, not something this handler precomputes.
type PostHandler struct{}

func (h *PostHandler) Apply(ctx context.Context, tx rs.Tx, msg types.Message) error {
	pc, err := decodePostContent(msg)
	if err != nil {
		return err
	}
	post := types.Post{
		ItemHash: msg.ItemHash, Ref: pc.Ref, Address: msg.Address,
		PostType: pc.PostType, Time: pc.Time, Content: pc.Content,
	}
	if err := tx.UpsertPost(ctx, post); err != nil {
		return fmt.Errorf("handlers: upsert post: %w", err)
	}
	return nil
}

// Reverse removes this post's row. If it was an amendment, the original
// and any sibling amendments are untouched; if it was the original, its
// amendments are orphaned (their ref now points at nothing) rather than
// cascaded, since each is forgotten independently per spec.md §4.4.
func (h *PostHandler) Reverse(ctx context.Context, tx rs.Tx, msg types.Message) error {
	if err := tx.DeletePost(ctx, msg.ItemHash); err != nil {
		return fmt.Errorf("handlers: delete post: %w", err)
	}
	return nil
}

func decodePostContent(msg types.Message) (types.PostContent, error) {
	var pc types.PostContent
	if msg.Content == nil {
		return pc, fmt.Errorf("handlers: post message %s has no content", msg.ItemHash)
	}
	if err := json.Unmarshal([]byte(*msg.Content), &pc); err != nil {
		return pc, fmt.Errorf("handlers: decode post content: %w", err)
	}
	return pc, nil
}
