package pending

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"alephccn/types"
)

// Pool drives N PMP workers against the shared pending_message queue,
// grounded on integrations/webhooks.Dispatcher's queue+sync.WaitGroup
// worker shape. Per-type semaphores bound how many rows of one message
// kind may be in flight at once, so heavy STORE processing cannot starve
// light AGGREGATE traffic (§4.3 "Concurrency").
type Pool struct {
	logger       *slog.Logger
	pmp          *PMP
	workers      int
	batchSize    int
	pollInterval time.Duration
	claimTimeout time.Duration
	allowedTypes []types.MessageType
	sema         map[types.MessageType]chan struct{}

	wg sync.WaitGroup
}

// NewPool builds a pool. perType maps a message type to its own
// concurrency cap; a type absent from perType is capped at workers.
func NewPool(logger *slog.Logger, pmp *PMP, workers, batchSize int, pollInterval, claimTimeout time.Duration, allowedTypes []types.MessageType, perType map[types.MessageType]int) *Pool {
	sema := make(map[types.MessageType]chan struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		limit := workers
		if n, ok := perType[t]; ok && n > 0 {
			limit = n
		}
		sema[t] = make(chan struct{}, limit)
	}
	return &Pool{
		logger: logger, pmp: pmp, workers: workers, batchSize: batchSize,
		pollInterval: pollInterval, claimTimeout: claimTimeout, allowedTypes: allowedTypes, sema: sema,
	}
}

// shutdownHardCap bounds how long Run waits for workers to drain after ctx
// is cancelled.
const shutdownHardCap = 30 * time.Second

// Run blocks, driving workers and the stale-claim reclaimer until ctx is
// cancelled, then waits for in-flight rows to finish for at most
// shutdownHardCap. Rows abandoned at the cap stay claimed until the
// reclaimer releases them after claimTimeout.
func (pl *Pool) Run(ctx context.Context) error {
	pl.wg.Add(pl.workers + 1)
	for i := 0; i < pl.workers; i++ {
		go pl.worker(ctx)
	}
	go pl.reclaimLoop(ctx)
	done := make(chan struct{})
	go func() {
		pl.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		case <-time.After(shutdownHardCap):
			pl.logger.Warn("pending: shutdown hard cap reached, abandoning in-flight rows")
		}
	}
	return ctx.Err()
}

func (pl *Pool) worker(ctx context.Context) {
	defer pl.wg.Done()
	ticker := time.NewTicker(pl.pollInterval)
	defer ticker.Stop()
	claimID := uuid.NewString()
	for {
		if ctx.Err() != nil {
			return
		}
		if n := pl.tick(ctx, claimID); n > 0 {
			continue // keep draining while rows are available
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick claims a batch and fans it out, bounded per type by sema, then
// waits for the whole batch to finish before claiming the next one.
func (pl *Pool) tick(ctx context.Context, claimID string) int {
	msgs, err := pl.pmp.store.ClaimPendingMessages(ctx, claimID, pl.allowedTypes, pl.batchSize)
	if err != nil {
		pl.logger.Error("pending: claim pending_message failed", "error", err)
		return 0
	}
	var batch sync.WaitGroup
	for _, msg := range msgs {
		sema := pl.sema[msg.Type]
		if sema != nil {
			select {
			case sema <- struct{}{}:
			case <-ctx.Done():
				return len(msgs)
			}
		}
		batch.Add(1)
		go func(m types.PendingMessage) {
			defer batch.Done()
			if sema != nil {
				defer func() { <-sema }()
			}
			pl.pmp.ProcessOne(ctx, m)
		}(msg)
	}
	batch.Wait()
	return len(msgs)
}

// reclaimLoop unsticks rows claimed by a worker that crashed or stalled
// past claimTimeout, so they become eligible for a fresh claim.
func (pl *Pool) reclaimLoop(ctx context.Context) {
	defer pl.wg.Done()
	if pl.claimTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(pl.claimTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pl.pmp.store.ReclaimStalePendingMessages(ctx, time.Now().UTC().Add(-pl.claimTimeout))
			if err != nil {
				pl.logger.Error("pending: reclaim stale pending_message failed", "error", err)
				continue
			}
			if n > 0 {
				pl.logger.Warn("pending: reclaimed stale pending_message claims", "count", n)
			}
		}
	}
}
