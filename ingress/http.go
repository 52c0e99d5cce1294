// Package ingress is the HI stage (spec.md §1 "HTTP Inbound", §4.3 step
// 1's upstream): a thin adapter the node's own public HTTP API calls into.
// It performs the same validation-free enqueue P2 does — shape-check the
// envelope, dedupe against confirmed/pending rows, and insert — leaving
// signature verification and schema validation to PMP. The public-facing
// API surface itself (auth, rate limiting, request shaping) is out of
// scope; this is only the one-line adapter that surface calls into.
package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"alephccn/storage/rs"
	"alephccn/types"
)

// Queries is the narrow slice of rs.Queries HI depends on.
type Queries interface {
	GetMessageByHash(ctx context.Context, hash string) (*types.Message, error)
	ExistsPendingMessageByHash(ctx context.Context, hash string) (bool, error)
	CountPendingMessages(ctx context.Context) (int, error)
	InsertPendingMessage(ctx context.Context, msg types.PendingMessage) error
}

// Handler is HI: it exposes Mount for wiring into an existing chi.Router
// and NewRouter for standing up its own, the way gateway/routes.New does
// for the public gateway.
type Handler struct {
	store         Queries
	highWatermark int
}

func New(store rs.Store, highWatermark int) *Handler {
	return &Handler{store: store, highWatermark: highWatermark}
}

// Mount attaches HI's routes under r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/healthz", h.healthz)
	r.Post("/messages", h.submitMessage)
}

// NewRouter builds a standalone router, for a node that runs HI as its own
// listener rather than mounting it into a larger gateway.
func NewRouter(store rs.Store, highWatermark int) http.Handler {
	r := chi.NewRouter()
	New(store, highWatermark).Mount(r)
	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) submitMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := h.store.CountPendingMessages(ctx)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if h.highWatermark > 0 && count >= h.highWatermark {
		http.Error(w, "pending queue at capacity", http.StatusServiceUnavailable)
		return
	}

	var env types.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}
	if !env.Chain.Valid() || !env.Type.Valid() || !env.ItemType.Valid() {
		http.Error(w, "invalid chain, type, or item_type", http.StatusBadRequest)
		return
	}
	if env.ItemHash == "" || env.Sender == "" {
		http.Error(w, "item_hash and sender are required", http.StatusBadRequest)
		return
	}
	if len(env.ItemContent) > types.MaxInlineContentBytes {
		http.Error(w, "item_content too large", http.StatusRequestEntityTooLarge)
		return
	}

	confirmed, err := h.store.GetMessageByHash(ctx, env.ItemHash)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if confirmed != nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	exists, err := h.store.ExistsPendingMessageByHash(ctx, env.ItemHash)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if exists {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	msg := types.PendingMessage{
		ID: uuid.NewString(), ItemHash: env.ItemHash, Sender: env.Sender, Address: env.EffectiveAddress(),
		Chain: env.Chain, Signature: env.Signature, Type: env.Type, Channel: env.Channel, Time: env.Time,
		ItemType: env.ItemType, Origin: types.OriginHTTP, NextAttemptAt: time.Now().UTC(), CheckMessage: true,
	}
	if env.ItemContent != "" {
		content := env.ItemContent
		msg.ItemContent = &content
	}
	if err := h.store.InsertPendingMessage(ctx, msg); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
