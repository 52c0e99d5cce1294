package handlers

import (
	"context"
	"fmt"

	"alephccn/storage/rs"
	"alephccn/types"
)

// ProgramHandler persists a program descriptor for a later, external
// program runtime to pick up; this core never executes one (spec.md §4.4).
// It has no reverse effect: forgetting a PROGRAM message only tombstones
// the message row, the descriptor table entry is left for the runtime to
// notice the message is gone.
type ProgramHandler struct{}

func (h *ProgramHandler) Apply(ctx context.Context, tx rs.Tx, msg types.Message) error {
	if msg.Content == nil {
		return fmt.Errorf("handlers: program message %s has no content", msg.ItemHash)
	}
	if err := tx.UpsertProgram(ctx, msg.ItemHash, msg.Sender, []byte(*msg.Content)); err != nil {
		return fmt.Errorf("handlers: upsert program: %w", err)
	}
	return nil
}
