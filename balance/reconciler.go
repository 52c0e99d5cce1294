// Package balance implements the Balance Reconciler (BR, spec.md §4.7): a
// periodic pass that recomputes each address's usage as the summed content
// size of its confirmed, non-forgotten messages (the bytes of Stored Files
// are not attributed to an address and are not counted), compares it against the storage
// quota its on-chain balance buys, and — when the node as a whole is over
// quota — schedules the least-recently-accessed Stored Files for deletion
// by setting their pin_delete_at the same way a STORE reversal would.
// BR never deletes a file itself; storage/cas.GC does the actual reclaim
// once pin_delete_at has passed.
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"alephccn/types"
)

// Queries is the narrow slice of rs.Queries BR depends on, kept local so
// this package does not import storage/rs directly (mirrors storage/cas.GC's
// StoreQueries).
type Queries interface {
	ListKnownAddresses(ctx context.Context) ([]string, error)
	ListBalances(ctx context.Context, address string) ([]types.Balance, error)
	SumMessageSizeByAddress(ctx context.Context, address string) (uint64, error)
	GetUsageSnapshot(ctx context.Context, address string) (*types.UsageSnapshot, error)
	SetUsageSnapshot(ctx context.Context, snap types.UsageSnapshot) error
	ListStoredFilesByLastAccess(ctx context.Context, limit int) ([]types.StoredFile, error)
	GetStoredFileForUpdate(ctx context.Context, hash string) (*types.StoredFile, error)
	UpsertStoredFile(ctx context.Context, file types.StoredFile) error
}

// Reconciler is BR. There is no per-file address attribution in the data
// model (Stored File is keyed only by file_hash), so overage handling
// operates at the node level: once total usage across all addresses
// exceeds the total quota their balances buy, the globally
// least-recently-accessed files are marked for deletion until the gap
// closes. Per-address usage is still tracked and reported individually.
type Reconciler struct {
	logger   *slog.Logger
	store    Queries
	interval time.Duration
	grace    time.Duration

	bytesPerBalanceUnit float64
	reportDir           string
	parquet             bool

	now func() time.Time
}

// Config carries the Reconciler's tunables, sourced from config.BalanceConfig
// and config.PendingConfig.StoreGraceNormal (BR-scheduled deletions use the
// normal grace period; BR never knows whether a file was originally a
// "temporary" STORE).
type Config struct {
	Logger              *slog.Logger
	Store               Queries
	Interval            time.Duration
	Grace               time.Duration
	BytesPerBalanceUnit float64
	ReportDir           string
	Parquet             bool
}

func New(cfg Config) *Reconciler {
	return &Reconciler{
		logger:              cfg.Logger,
		store:               cfg.Store,
		interval:            cfg.Interval,
		grace:               cfg.Grace,
		bytesPerBalanceUnit: cfg.BytesPerBalanceUnit,
		reportDir:           cfg.ReportDir,
		parquet:             cfg.Parquet,
		now:                 time.Now,
	}
}

// Run blocks, reconciling on interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("balance reconciler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one full reconciliation pass.
func (r *Reconciler) Tick(ctx context.Context) error {
	addresses, err := r.store.ListKnownAddresses(ctx)
	if err != nil {
		return fmt.Errorf("balance: list known addresses: %w", err)
	}

	now := r.now().UTC()
	rows := make([]UsageReportRow, 0, len(addresses))
	var totalUsage, totalQuota uint64

	for _, addr := range addresses {
		usage, err := r.store.SumMessageSizeByAddress(ctx, addr)
		if err != nil {
			return fmt.Errorf("balance: sum usage for %s: %w", addr, err)
		}
		bals, err := r.store.ListBalances(ctx, addr)
		if err != nil {
			return fmt.Errorf("balance: list balances for %s: %w", addr, err)
		}
		var total float64
		for _, b := range bals {
			total += b.Amount
		}
		quota := uint64(total * r.bytesPerBalanceUnit)

		if err := r.store.SetUsageSnapshot(ctx, types.UsageSnapshot{
			Address: addr, BytesUsed: usage, LastComputedAt: now,
		}); err != nil {
			return fmt.Errorf("balance: set usage snapshot for %s: %w", addr, err)
		}

		rows = append(rows, UsageReportRow{
			Address:   addr,
			BytesUsed: usage,
			Balance:   total,
			QuotaByte: quota,
			Overage:   overage(usage, quota),
			Checked:   now,
		})
		totalUsage += usage
		totalQuota += quota
	}

	if totalUsage > totalQuota {
		if err := r.reclaimOverage(ctx, totalUsage-totalQuota, now); err != nil {
			return fmt.Errorf("balance: schedule overage reclaim: %w", err)
		}
	}

	if r.reportDir != "" && len(rows) > 0 {
		if err := r.writeReports(rows, now); err != nil {
			return fmt.Errorf("balance: write usage report: %w", err)
		}
	}
	return nil
}

func overage(usage, quota uint64) uint64 {
	if usage <= quota {
		return 0
	}
	return usage - quota
}

// reclaimOverage schedules PinDeleteAt on the least-recently-accessed
// unpinned-eligible files until freed bytes cover the shortfall, mirroring
// the grace-period bookkeeping handlers.StoreHandler.Reverse performs when
// a STORE's pin_count reaches zero.
func (r *Reconciler) reclaimOverage(ctx context.Context, shortfall uint64, now time.Time) error {
	candidates, err := r.store.ListStoredFilesByLastAccess(ctx, 1000)
	if err != nil {
		return fmt.Errorf("list stored files by last access: %w", err)
	}
	var freed uint64
	for _, f := range candidates {
		if freed >= shortfall {
			break
		}
		file, err := r.store.GetStoredFileForUpdate(ctx, f.FileHash)
		if err != nil {
			return fmt.Errorf("load stored file %s: %w", f.FileHash, err)
		}
		if file == nil || file.PinCount > 0 || file.PinDeleteAt != nil {
			continue // still referenced, or already scheduled
		}
		deleteAt := now.Add(r.grace)
		file.PinDeleteAt = &deleteAt
		if err := r.store.UpsertStoredFile(ctx, *file); err != nil {
			return fmt.Errorf("schedule deletion for %s: %w", f.FileHash, err)
		}
		freed += file.Size
	}
	if freed < shortfall {
		r.logger.Warn("balance reconciler could not free enough storage",
			"shortfall_bytes", shortfall, "freed_bytes", freed)
	}
	return nil
}
