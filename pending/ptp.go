// Package pending implements the two work-queue processors that sit
// between the chain/P2P/HTTP sources and the confirmed relational store:
// the Pending-TX Processor (PTP, §4.2) fans a chain transaction out into
// one or more pending messages, and the Pending-Message Processor (PMP,
// §4.3) drives each pending message through
// NEW -> FETCHING -> VALIDATING -> PROCESSING -> {DONE, RETRY, REJECTED}.
package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"alephccn/pipeline"
	"alephccn/storage/rs"
	"alephccn/types"
)

// CASFetcher is the narrow cas.Backend slice PTP needs to resolve
// batch_ref payloads; kept local so this package does not import
// storage/cas directly.
type CASFetcher interface {
	Get(ctx context.Context, hash string) ([]byte, error)
}

// PTP unpacks pending_tx rows into pending_message rows, grounded on
// otc-gateway/funding.Processor's transactional claim-then-mutate shape.
type PTP struct {
	logger       *slog.Logger
	store        rs.Store
	cas          CASFetcher
	maxRetries   uint32
	fetchTimeout time.Duration
	now          func() time.Time
}

// NewPTP constructs a PTP. maxRetries of 0 uses pipeline.DefaultMaxRetries.
func NewPTP(logger *slog.Logger, store rs.Store, casBackend CASFetcher, maxRetries uint32, fetchTimeout time.Duration) *PTP {
	if maxRetries == 0 {
		maxRetries = pipeline.DefaultMaxRetries
	}
	return &PTP{logger: logger, store: store, cas: casBackend, maxRetries: maxRetries, fetchTimeout: fetchTimeout, now: time.Now}
}

// Tick claims up to limit pending_tx rows and processes each.
func (p *PTP) Tick(ctx context.Context, limit int) (int, error) {
	txs, err := p.store.ClaimPendingTxs(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("pending: claim pending_tx: %w", err)
	}
	for _, tx := range txs {
		p.processOne(ctx, tx)
	}
	return len(txs), nil
}

func (p *PTP) processOne(ctx context.Context, tx types.PendingTx) {
	envelopes, res := p.decode(ctx, tx)
	switch {
	case res.IsPermanent():
		p.hardDrop(ctx, tx, res.Reason)
		return
	case res.IsTransient():
		p.retryOrReject(ctx, tx, res.Reason)
		return
	}

	err := p.store.RunInTx(ctx, func(ctx context.Context, txn rs.Tx) error {
		for _, env := range envelopes {
			pm := envelopeToPendingMessage(env, tx)
			if err := txn.InsertPendingMessage(ctx, pm); err != nil {
				return fmt.Errorf("insert pending_message: %w", err)
			}
		}
		return txn.DeletePendingTx(ctx, tx.ID)
	})
	if err != nil {
		p.retryOrReject(ctx, tx, err.Error())
	}
}

// decode turns a pending_tx's payload into the envelopes it carries. A
// payload that is a JSON object is the on-chain {"protocol", "version",
// "content"} body the indexers store, and its content is used; any other
// payload is taken as the content itself. batch_inline content is the JSON
// array of envelopes; batch_ref content names a CAS hash that must be
// fetched first (§4.2 steps 1-2).
func (p *PTP) decode(ctx context.Context, tx types.PendingTx) ([]types.Envelope, pipeline.Result) {
	raw := tx.Payload
	ref := string(tx.Payload)
	if len(raw) > 0 && raw[0] == '{' {
		var wrapped types.ChainTxPayload
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, pipeline.PermanentErr("malformed tx payload", err)
		}
		raw = wrapped.Content
		if tx.Protocol == types.ProtocolBatchRef {
			if err := json.Unmarshal(raw, &ref); err != nil {
				return nil, pipeline.PermanentErr("malformed batch_ref content", err)
			}
		}
	}
	switch tx.Protocol {
	case types.ProtocolBatchInline:
		// raw already is the inline JSON array.
	case types.ProtocolBatchRef:
		fctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
		content, err := p.cas.Get(fctx, ref)
		if err != nil {
			return nil, pipeline.TransientErr("cas fetch failed", err)
		}
		raw = content
	default:
		return nil, pipeline.PermanentErr(fmt.Sprintf("unknown protocol %q", tx.Protocol), nil)
	}

	var envs []types.Envelope
	if err := json.Unmarshal(raw, &envs); err != nil {
		return nil, pipeline.PermanentErr("malformed batch json", err)
	}
	return envs, pipeline.Ok()
}

func (p *PTP) retryOrReject(ctx context.Context, tx types.PendingTx, reason string) {
	nextRetries := tx.Retries + 1
	if nextRetries >= p.maxRetries {
		p.hardDrop(ctx, tx, reason)
		return
	}
	next := p.now().Add(pipeline.Backoff(nextRetries, pipeline.RowBackoffBase, pipeline.RowBackoffCap))
	if err := p.store.BumpPendingTxRetry(ctx, tx.ID, next); err != nil {
		p.logger.Error("pending: bump pending_tx retry failed", "tx_hash", tx.TxHash, "error", err)
	}
}

func (p *PTP) hardDrop(ctx context.Context, tx types.PendingTx, reason string) {
	if err := p.store.RejectPendingTx(ctx, tx, reason); err != nil {
		p.logger.Error("pending: reject pending_tx failed", "tx_hash", tx.TxHash, "error", err)
	}
}

// envelopeToPendingMessage tags env with the confirmation its originating
// transaction proves, per §4.2 step 3.
func envelopeToPendingMessage(env types.Envelope, tx types.PendingTx) types.PendingMessage {
	pm := types.PendingMessage{
		ID:            uuid.NewString(),
		ItemHash:      env.ItemHash,
		Sender:        env.Sender,
		Address:       env.EffectiveAddress(),
		Chain:         env.Chain,
		Signature:     env.Signature,
		Type:          env.Type,
		Channel:       env.Channel,
		Time:          env.Time,
		ItemType:      env.ItemType,
		Origin:        types.OriginOnChain,
		Confirmation:  &types.Confirmation{Chain: tx.Chain, Height: tx.Height, TxHash: tx.TxHash},
		NextAttemptAt: time.Now().UTC(),
		CheckMessage:  true,
	}
	if env.ItemContent != "" {
		c := env.ItemContent
		pm.ItemContent = &c
	}
	return pm
}
