// Package cas is the Content-Addressed Storage layer (spec.md §4.5): a
// unified get/put/size/delete interface (Backend) over a local SHA-256-keyed
// object store and a remote IPFS daemon, with pin/unpin offered by the IPFS
// backend only, plus the time-based garbage
// collector that reclaims Stored Files once their pin_count reaches zero
// and the configured grace period elapses.
package cas

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when hash is unknown to this backend.
var ErrNotFound = errors.New("cas: object not found")

// Backend is implemented by the local object store and the IPFS shim.
// hash is backend-specific: the local store keys objects by the SHA-256
// hex digest of their plaintext content, while the IPFS backend is keyed
// by CIDv0 (base58), matching spec.md §3's global invariant that for
// item_type=ipfs, item_hash already IS the CIDv0 of the content.
type Backend interface {
	Get(ctx context.Context, hash string) ([]byte, error)
	Put(ctx context.Context, content []byte) (hash string, err error)
	Size(ctx context.Context, hash string) (uint64, error)
	Delete(ctx context.Context, hash string) error
	Name() string // "local" | "ipfs", matches types.StoredFile.Storage
}
