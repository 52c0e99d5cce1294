package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"alephccn/crypto"
	"alephccn/pipeline"
	"alephccn/storage/cas"
	"alephccn/storage/rs"
	"alephccn/types"
)

// Handler applies one message type's effect inside the RS transaction that
// also inserted the confirmed Message row (§4.4).
type Handler interface {
	Apply(ctx context.Context, tx rs.Tx, msg types.Message) error
}

// Registry resolves the Handler for a message type.
type Registry interface {
	HandlerFor(t types.MessageType) (Handler, error)
}

// Publisher hands a processed envelope to the P2P outbound side (PO),
// invoked only for messages that arrived over HTTP (§4.3 step 7).
type Publisher interface {
	Publish(ctx context.Context, env types.Envelope) error
}

// PMP drives pending_message rows through
// FETCHING -> VALIDATING -> PROCESSING -> {DONE, RETRY, REJECTED} (§4.3).
type PMP struct {
	logger       *slog.Logger
	store        rs.Store
	cas          cas.Backends
	registry     Registry
	publisher    Publisher
	maxRetries   uint32
	fetchTimeout time.Duration
	now          func() time.Time
}

// NewPMP constructs a PMP. publisher may be nil if P2P outbound is not wired.
func NewPMP(logger *slog.Logger, store rs.Store, backends cas.Backends, registry Registry, publisher Publisher, maxRetries uint32, fetchTimeout time.Duration) *PMP {
	if maxRetries == 0 {
		maxRetries = pipeline.DefaultMaxRetries
	}
	return &PMP{
		logger: logger, store: store, cas: backends, registry: registry, publisher: publisher,
		maxRetries: maxRetries, fetchTimeout: fetchTimeout, now: time.Now,
	}
}

// ProcessOne runs the full pipeline for one claimed row and retires,
// retries, or rejects it depending on the outcome.
func (p *PMP) ProcessOne(ctx context.Context, msg types.PendingMessage) {
	res := p.run(ctx, msg)
	switch {
	case res.IsOk():
		if err := p.store.DeletePendingMessage(ctx, msg.ID); err != nil {
			p.logger.Error("pending: retire pending_message failed", "item_hash", msg.ItemHash, "error", err)
		}
	case res.IsPermanent():
		if err := p.store.RejectPendingMessage(ctx, msg, res.Error()); err != nil {
			p.logger.Error("pending: reject pending_message failed", "item_hash", msg.ItemHash, "error", err)
		}
	default:
		p.retryOrReject(ctx, msg, res.Error())
	}
}

func (p *PMP) run(ctx context.Context, msg types.PendingMessage) pipeline.Result {
	env := msg.Envelope()

	content, res := p.fetchContent(ctx, env)
	if !res.IsOk() {
		return res
	}
	env.ItemContent = content

	disc, res := validateSchema(env)
	if !res.IsOk() {
		return res
	}
	if err := crypto.Verify(env); err != nil {
		return pipeline.PermanentErr("signature verification failed", err)
	}

	existing, err := p.store.GetMessageByHash(ctx, env.ItemHash)
	if err != nil {
		return pipeline.TransientErr("lookup existing message", err)
	}
	if existing != nil {
		// Cross-source exactly-once: a second confirmation of an
		// already-applied message only merges its proof, never re-runs
		// the handler.
		if msg.Confirmation != nil {
			if err := p.store.MergeConfirmation(ctx, env.ItemHash, *msg.Confirmation); err != nil {
				return pipeline.TransientErr("merge confirmation", err)
			}
		}
		return pipeline.Ok()
	}

	address := env.EffectiveAddress()
	if err := Authorize(ctx, p.store, env.Sender, address, env.Type, env.Channel, disc.PostType, disc.AggregateKey); err != nil {
		return pipeline.PermanentErr("unauthorized", err)
	}

	handler, err := p.registry.HandlerFor(env.Type)
	if err != nil {
		return pipeline.PermanentErr("no handler registered", err)
	}

	m := types.Message{
		ItemHash: env.ItemHash, Sender: env.Sender, Address: address, Chain: env.Chain,
		Type: env.Type, Channel: env.Channel, Time: env.Time, ItemType: env.ItemType,
		Size: uint64(len(env.ItemContent)),
	}
	if env.ItemContent != "" {
		c := env.ItemContent
		m.Content = &c
	}
	if msg.Confirmation != nil {
		m.Confirmations = []types.Confirmation{*msg.Confirmation}
	}

	txErr := p.store.RunInTx(ctx, func(ctx context.Context, txn rs.Tx) error {
		if err := txn.InsertMessage(ctx, m); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if err := handler.Apply(ctx, txn, m); err != nil {
			return fmt.Errorf("apply %s handler: %w", m.Type, err)
		}
		return nil
	})
	if txErr != nil {
		return pipeline.TransientErr("process handler", txErr)
	}

	if msg.Origin == types.OriginHTTP && p.publisher != nil {
		if err := p.publisher.Publish(ctx, env); err != nil {
			p.logger.Error("pending: publish to p2p outbound failed", "item_hash", env.ItemHash, "error", err)
		}
	}
	return pipeline.Ok()
}

// fetchContent resolves env's content: already present for inline items,
// otherwise fetched from the CAS backend named by item_type and mirrored
// into the local backend so subsequent readers need no remote hop (§4.3
// step 2).
func (p *PMP) fetchContent(ctx context.Context, env types.Envelope) (string, pipeline.Result) {
	if env.ItemType == types.ItemInline {
		return env.ItemContent, pipeline.Ok()
	}
	backend, err := p.backendFor(env.ItemType)
	if err != nil {
		return "", pipeline.PermanentErr("cas backend unavailable", err)
	}
	fctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()
	content, err := backend.Get(fctx, env.ItemHash)
	if err != nil {
		return "", pipeline.TransientErr("cas fetch failed", err)
	}
	if env.ItemType != types.ItemStorage {
		if _, err := p.cas.Local.Put(ctx, content); err != nil {
			p.logger.Warn("pending: local CAS mirror failed", "item_hash", env.ItemHash, "error", err)
		}
	}
	return string(content), pipeline.Ok()
}

func (p *PMP) backendFor(itemType types.ItemType) (cas.Backend, error) {
	switch itemType {
	case types.ItemStorage:
		return p.cas.Local, nil
	case types.ItemIPFS:
		return p.cas.IPFS, nil
	default:
		return nil, fmt.Errorf("no CAS backend for item_type %q", itemType)
	}
}

func (p *PMP) retryOrReject(ctx context.Context, msg types.PendingMessage, reason string) {
	nextRetries := msg.Retries + 1
	if nextRetries >= p.maxRetries {
		if err := p.store.RejectPendingMessage(ctx, msg, reason); err != nil {
			p.logger.Error("pending: reject pending_message failed", "item_hash", msg.ItemHash, "error", err)
		}
		return
	}
	next := p.now().Add(pipeline.Backoff(nextRetries, pipeline.RowBackoffBase, pipeline.RowBackoffCap))
	if err := p.store.ReleasePendingMessage(ctx, msg.ID, next, nextRetries); err != nil {
		p.logger.Error("pending: release pending_message failed", "item_hash", msg.ItemHash, "error", err)
	}
}

// discriminators carries the type-specific sub-fields Authorize needs
// without re-parsing the content a second time.
type discriminators struct {
	PostType     string
	AggregateKey string
}

// validateSchema enforces the per-type content shape and the §6 inline
// size/hash invariants (§4.3 step 3). Signature verification is the
// caller's responsibility (kept separate so tests can validate schema
// without constructing real signatures).
func validateSchema(env types.Envelope) (discriminators, pipeline.Result) {
	if env.ItemType == types.ItemInline {
		if len(env.ItemContent) > types.MaxInlineContentBytes {
			return discriminators{}, pipeline.PermanentErr("inline content exceeds max size", nil)
		}
		if err := env.VerifyInlineHash(); err != nil {
			return discriminators{}, pipeline.PermanentErr("inline hash mismatch", err)
		}
	}

	var d discriminators
	raw := []byte(env.ItemContent)
	switch env.Type {
	case types.TypeAggregate:
		var c types.AggregateContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return d, pipeline.PermanentErr("malformed aggregate content", err)
		}
		d.AggregateKey = c.Key
	case types.TypePost:
		var c types.PostContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return d, pipeline.PermanentErr("malformed post content", err)
		}
		d.PostType = c.PostType
	case types.TypeStore:
		var c types.StoreContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return d, pipeline.PermanentErr("malformed store content", err)
		}
	case types.TypeForget:
		var c types.ForgetContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return d, pipeline.PermanentErr("malformed forget content", err)
		}
	case types.TypeProgram:
		var c types.ProgramContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return d, pipeline.PermanentErr("malformed program content", err)
		}
	default:
		return d, pipeline.PermanentErr(fmt.Sprintf("unknown message type %q", env.Type), nil)
	}
	return d, pipeline.Ok()
}
