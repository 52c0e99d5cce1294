package cas

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"alephccn/observability/metrics"
	"alephccn/types"
)

// StoreQueries is the narrow slice of rs.Queries the GC loop needs; kept
// as a local interface so this package does not import storage/rs.
type StoreQueries interface {
	ListExpiredStoredFiles(ctx context.Context, now time.Time) ([]types.StoredFile, error)
	GetStoredFileForUpdate(ctx context.Context, hash string) (*types.StoredFile, error)
	DeleteStoredFile(ctx context.Context, hash string) error
}

// Backends resolves the right Backend for a Stored File's storage column.
type Backends struct {
	Local Backend
	IPFS  Backend
}

func (b Backends) forStorage(storage string) (Backend, error) {
	switch storage {
	case "local":
		return b.Local, nil
	case "ipfs":
		return b.IPFS, nil
	default:
		return nil, fmt.Errorf("cas: unknown storage backend %q", storage)
	}
}

// GC periodically reclaims Stored Files whose pin_count is zero and whose
// grace period has elapsed (spec.md §4.5). It is idempotent and safe to
// run concurrently with STORE/FORGET handlers, which take a row lock on
// Stored File before mutating pin_count.
type GC struct {
	logger   *slog.Logger
	store    StoreQueries
	backends Backends
	interval time.Duration
	now      func() time.Time
}

// NewGC constructs a GC loop, grounded in swapd/oracle.Manager's
// interval-driven Run/Tick shape.
func NewGC(logger *slog.Logger, store StoreQueries, backends Backends, interval time.Duration) *GC {
	return &GC{logger: logger, store: store, backends: backends, interval: interval, now: time.Now}
}

// Run blocks, sweeping expired Stored Files until ctx is cancelled.
func (g *GC) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		if err := g.Tick(ctx); err != nil && ctx.Err() == nil {
			g.logger.Error("cas gc tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one sweep.
func (g *GC) Tick(ctx context.Context) error {
	expired, err := g.store.ListExpiredStoredFiles(ctx, g.now())
	if err != nil {
		return fmt.Errorf("cas: list expired stored files: %w", err)
	}
	for _, f := range expired {
		if err := g.reclaim(ctx, f.FileHash); err != nil {
			g.logger.Error("cas gc reclaim failed", "file_hash", f.FileHash, "error", err)
		}
	}
	return nil
}

func (g *GC) reclaim(ctx context.Context, hash string) error {
	// Re-read under lock: a STORE handler may have bumped pin_count back
	// above zero between the list and this reclaim attempt.
	f, err := g.store.GetStoredFileForUpdate(ctx, hash)
	if err != nil {
		return fmt.Errorf("get stored file: %w", err)
	}
	if f == nil {
		return nil // already reclaimed by a concurrent GC pass
	}
	if f.PinCount != 0 || f.PinDeleteAt == nil || f.PinDeleteAt.After(g.now()) {
		return nil
	}
	backend, err := g.backends.forStorage(f.Storage)
	if err != nil {
		return err
	}
	if err := backend.Delete(ctx, hash); err != nil {
		return fmt.Errorf("delete from %s: %w", f.Storage, err)
	}
	if err := g.store.DeleteStoredFile(ctx, hash); err != nil {
		return fmt.Errorf("delete stored_file row: %w", err)
	}
	metrics.Default().GCReclaimedTotal.Inc()
	return nil
}
