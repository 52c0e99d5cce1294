package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"alephccn/storage/cas"
	"alephccn/storage/rs"
	"alephccn/types"
)

// pinner is implemented by cas.IPFS; the local backend has nothing to pin
// against (the object already sits under its content hash on disk).
type pinner interface {
	Pin(ctx context.Context, hash string) error
	Unpin(ctx context.Context, hash string) error
}

// StoreHandler tracks reference counts on Stored Files. It never deletes
// an object itself (that is cas.GC's job); it only maintains pin_count and
// schedules the grace-period deletion GC later acts on.
type StoreHandler struct {
	Backends    cas.Backends
	GraceTemp   time.Duration
	GraceNormal time.Duration
	Now         func() time.Time
}

func (h *StoreHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *StoreHandler) backendFor(storage string) (cas.Backend, error) {
	switch storage {
	case "local":
		return h.Backends.Local, nil
	case "ipfs":
		return h.Backends.IPFS, nil
	default:
		return nil, fmt.Errorf("handlers: unknown store storage %q", storage)
	}
}

func (h *StoreHandler) Apply(ctx context.Context, tx rs.Tx, msg types.Message) error {
	sc, err := decodeStoreContent(msg)
	if err != nil {
		return err
	}
	storage := storageName(sc.ItemType)
	backend, err := h.backendFor(storage)
	if err != nil {
		return err
	}

	file, err := tx.GetStoredFileForUpdate(ctx, sc.ItemHash)
	if err != nil {
		return fmt.Errorf("handlers: load stored file %s: %w", sc.ItemHash, err)
	}
	firstReference := file == nil || file.PinCount == 0
	if file == nil {
		size, err := backend.Size(ctx, sc.ItemHash)
		if err != nil {
			return fmt.Errorf("handlers: stat %s on %s: %w", sc.ItemHash, storage, err)
		}
		file = &types.StoredFile{FileHash: sc.ItemHash, Storage: storage, Size: size}
	}
	file.PinCount++
	file.LastAccessAt = h.now()
	if firstReference {
		file.PinDeleteAt = nil
		if p, ok := backend.(pinner); ok {
			if err := p.Pin(ctx, sc.ItemHash); err != nil {
				return fmt.Errorf("handlers: pin %s: %w", sc.ItemHash, err)
			}
		}
	}
	if err := tx.UpsertStoredFile(ctx, *file); err != nil {
		return fmt.Errorf("handlers: upsert stored file: %w", err)
	}
	return nil
}

// Reverse decrements pin_count; once it reaches zero the file is not
// deleted here but scheduled for GC after the configured grace period
// (Open Question (b)): store_grace_temp for temporary uploads, otherwise
// store_grace_normal.
func (h *StoreHandler) Reverse(ctx context.Context, tx rs.Tx, msg types.Message) error {
	sc, err := decodeStoreContent(msg)
	if err != nil {
		return err
	}
	file, err := tx.GetStoredFileForUpdate(ctx, sc.ItemHash)
	if err != nil {
		return fmt.Errorf("handlers: load stored file %s: %w", sc.ItemHash, err)
	}
	if file == nil {
		return nil // already reclaimed
	}
	if file.PinCount > 0 {
		file.PinCount--
	}
	if file.PinCount == 0 {
		grace := h.GraceNormal
		if sc.Temporary {
			grace = h.GraceTemp
		}
		at := h.now().Add(grace)
		file.PinDeleteAt = &at
	}
	if err := tx.UpsertStoredFile(ctx, *file); err != nil {
		return fmt.Errorf("handlers: upsert stored file: %w", err)
	}
	return nil
}

func storageName(it types.ItemType) string {
	if it == types.ItemIPFS {
		return "ipfs"
	}
	return "local"
}

func decodeStoreContent(msg types.Message) (types.StoreContent, error) {
	var sc types.StoreContent
	if msg.Content == nil {
		return sc, fmt.Errorf("handlers: store message %s has no content", msg.ItemHash)
	}
	if err := json.Unmarshal([]byte(*msg.Content), &sc); err != nil {
		return sc, fmt.Errorf("handlers: decode store content: %w", err)
	}
	return sc, nil
}
