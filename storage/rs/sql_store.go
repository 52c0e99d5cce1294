package rs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"alephccn/types"
)

// SQLStore is the embedded/default RS backend: database/sql over
// modernc.org/sqlite, grounded in services/swapd/storage/storage.go. sqlite
// has no SELECT ... FOR UPDATE SKIP LOCKED, so a claim selects the due rows
// and sets their claimed_by column inside one transaction; with the pool
// held to a single connection no other claim can run in between.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens (creating if absent) a sqlite-backed RS at dsn and applies
// the schema.
func OpenSQL(dsn string) (*SQLStore, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("rs: sqlite dsn required")
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("rs: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single writer avoids SQLITE_BUSY and serialises claim transactions
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("rs: apply schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// execQueries lets every Queries method run against either *sql.DB or
// *sql.Tx, so the same code path backs both top-level calls and RunInTx.
type execQueries interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlQueries struct {
	db execQueries
}

func (s *SQLStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rs: begin tx: %w", err)
	}
	defer sqlTx.Rollback()
	if err := fn(ctx, &sqlQueries{db: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("rs: commit tx: %w", err)
	}
	return nil
}

// Queries method forwarders on *SQLStore delegate to an implicit
// single-statement transaction wrapper (*sql.DB already does this).
func (s *SQLStore) q() *sqlQueries { return &sqlQueries{db: s.db} }

func (s *SQLStore) UpsertPendingTx(ctx context.Context, tx types.PendingTx) error {
	return s.q().UpsertPendingTx(ctx, tx)
}
func (s *SQLStore) ClaimPendingTxs(ctx context.Context, limit int) ([]types.PendingTx, error) {
	var claimed []types.PendingTx
	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		claimed, err = tx.ClaimPendingTxs(ctx, limit)
		return err
	})
	return claimed, err
}
func (s *SQLStore) DeletePendingTx(ctx context.Context, id string) error {
	return s.q().DeletePendingTx(ctx, id)
}
func (s *SQLStore) BumpPendingTxRetry(ctx context.Context, id string, next time.Time) error {
	return s.q().BumpPendingTxRetry(ctx, id, next)
}
func (s *SQLStore) RejectPendingTx(ctx context.Context, tx types.PendingTx, reason string) error {
	return s.q().RejectPendingTx(ctx, tx, reason)
}
func (s *SQLStore) CountPendingTxs(ctx context.Context) (int, error) { return s.q().CountPendingTxs(ctx) }
func (s *SQLStore) InsertPendingMessage(ctx context.Context, msg types.PendingMessage) error {
	return s.q().InsertPendingMessage(ctx, msg)
}
func (s *SQLStore) ClaimPendingMessages(ctx context.Context, claimID string, t []types.MessageType, limit int) ([]types.PendingMessage, error) {
	var claimed []types.PendingMessage
	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		claimed, err = tx.ClaimPendingMessages(ctx, claimID, t, limit)
		return err
	})
	return claimed, err
}
func (s *SQLStore) ReleasePendingMessage(ctx context.Context, id string, next time.Time, retries uint32) error {
	return s.q().ReleasePendingMessage(ctx, id, next, retries)
}
func (s *SQLStore) DeletePendingMessage(ctx context.Context, id string) error {
	return s.q().DeletePendingMessage(ctx, id)
}
func (s *SQLStore) RejectPendingMessage(ctx context.Context, msg types.PendingMessage, reason string) error {
	return s.q().RejectPendingMessage(ctx, msg, reason)
}
func (s *SQLStore) CountPendingMessages(ctx context.Context) (int, error) {
	return s.q().CountPendingMessages(ctx)
}
func (s *SQLStore) ReclaimStalePendingMessages(ctx context.Context, olderThan time.Time) (int, error) {
	return s.q().ReclaimStalePendingMessages(ctx, olderThan)
}
func (s *SQLStore) ExistsPendingMessageByHash(ctx context.Context, hash string) (bool, error) {
	return s.q().ExistsPendingMessageByHash(ctx, hash)
}
func (s *SQLStore) GetCursor(ctx context.Context, chain types.Chain) (*types.ChainCursor, error) {
	return s.q().GetCursor(ctx, chain)
}
func (s *SQLStore) AdvanceCursor(ctx context.Context, chain types.Chain, height uint64, txHash, blockHash string) error {
	return s.q().AdvanceCursor(ctx, chain, height, txHash, blockHash)
}
func (s *SQLStore) GetMessageByHash(ctx context.Context, hash string) (*types.Message, error) {
	return s.q().GetMessageByHash(ctx, hash)
}
func (s *SQLStore) InsertMessage(ctx context.Context, msg types.Message) error {
	return s.q().InsertMessage(ctx, msg)
}
func (s *SQLStore) MergeConfirmation(ctx context.Context, hash string, conf types.Confirmation) error {
	return s.q().MergeConfirmation(ctx, hash, conf)
}
func (s *SQLStore) ForgetMessage(ctx context.Context, hash, forgottenBy string) error {
	return s.q().ForgetMessage(ctx, hash, forgottenBy)
}
func (s *SQLStore) InsertAggregateElement(ctx context.Context, el types.AggregateElement) error {
	return s.q().InsertAggregateElement(ctx, el)
}
func (s *SQLStore) DeleteAggregateElement(ctx context.Context, address, key, itemHash string) error {
	return s.q().DeleteAggregateElement(ctx, address, key, itemHash)
}
func (s *SQLStore) ListAggregateElements(ctx context.Context, address, key string) ([]types.AggregateElement, error) {
	return s.q().ListAggregateElements(ctx, address, key)
}
func (s *SQLStore) GetAggregateView(ctx context.Context, address, key string) (*types.AggregateView, error) {
	return s.q().GetAggregateView(ctx, address, key)
}
func (s *SQLStore) SetAggregateView(ctx context.Context, view types.AggregateView) error {
	return s.q().SetAggregateView(ctx, view)
}
func (s *SQLStore) GetSecurityAggregate(ctx context.Context, address string) (*types.SecurityContent, error) {
	return s.q().GetSecurityAggregate(ctx, address)
}
func (s *SQLStore) UpsertPost(ctx context.Context, post types.Post) error { return s.q().UpsertPost(ctx, post) }
func (s *SQLStore) GetPost(ctx context.Context, itemHash string) (*types.Post, error) {
	return s.q().GetPost(ctx, itemHash)
}
func (s *SQLStore) ListAmendments(ctx context.Context, ref string) ([]types.Post, error) {
	return s.q().ListAmendments(ctx, ref)
}
func (s *SQLStore) DeletePost(ctx context.Context, itemHash string) error {
	return s.q().DeletePost(ctx, itemHash)
}
func (s *SQLStore) GetStoredFileForUpdate(ctx context.Context, hash string) (*types.StoredFile, error) {
	return s.q().GetStoredFileForUpdate(ctx, hash)
}
func (s *SQLStore) UpsertStoredFile(ctx context.Context, file types.StoredFile) error {
	return s.q().UpsertStoredFile(ctx, file)
}
func (s *SQLStore) DeleteStoredFile(ctx context.Context, hash string) error {
	return s.q().DeleteStoredFile(ctx, hash)
}
func (s *SQLStore) ListExpiredStoredFiles(ctx context.Context, now time.Time) ([]types.StoredFile, error) {
	return s.q().ListExpiredStoredFiles(ctx, now)
}
func (s *SQLStore) ListStoredFilesByLastAccess(ctx context.Context, limit int) ([]types.StoredFile, error) {
	return s.q().ListStoredFilesByLastAccess(ctx, limit)
}
func (s *SQLStore) UpsertBalance(ctx context.Context, bal types.Balance) error {
	return s.q().UpsertBalance(ctx, bal)
}
func (s *SQLStore) ListBalances(ctx context.Context, address string) ([]types.Balance, error) {
	return s.q().ListBalances(ctx, address)
}
func (s *SQLStore) GetUsageSnapshot(ctx context.Context, address string) (*types.UsageSnapshot, error) {
	return s.q().GetUsageSnapshot(ctx, address)
}
func (s *SQLStore) SetUsageSnapshot(ctx context.Context, snap types.UsageSnapshot) error {
	return s.q().SetUsageSnapshot(ctx, snap)
}
func (s *SQLStore) ListUsageSnapshots(ctx context.Context) ([]types.UsageSnapshot, error) {
	return s.q().ListUsageSnapshots(ctx)
}
func (s *SQLStore) UpsertProgram(ctx context.Context, itemHash, sender string, content []byte) error {
	return s.q().UpsertProgram(ctx, itemHash, sender, content)
}
func (s *SQLStore) SumMessageSizeByAddress(ctx context.Context, address string) (uint64, error) {
	return s.q().SumMessageSizeByAddress(ctx, address)
}
func (s *SQLStore) ListKnownAddresses(ctx context.Context) ([]string, error) {
	return s.q().ListKnownAddresses(ctx)
}

// --- sqlQueries implementation ---

func (q *sqlQueries) UpsertPendingTx(ctx context.Context, tx types.PendingTx) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO pending_tx(id, chain, tx_hash, height, publisher, protocol, payload, retries, next_attempt_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain, tx_hash) DO UPDATE SET
			height=excluded.height, publisher=excluded.publisher, protocol=excluded.protocol, payload=excluded.payload
	`, tx.ID, string(tx.Chain), tx.TxHash, tx.Height, tx.Publisher, string(tx.Protocol), tx.Payload, tx.Retries, tx.NextAttemptAt.UTC())
	if err != nil {
		return fmt.Errorf("rs: upsert pending_tx: %w", err)
	}
	return nil
}

func (q *sqlQueries) ClaimPendingTxs(ctx context.Context, limit int) ([]types.PendingTx, error) {
	now := time.Now().UTC()
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, chain, tx_hash, height, publisher, protocol, payload, retries, next_attempt_at, created_at
		FROM pending_tx WHERE next_attempt_at <= ? AND claimed_by IS NULL
		ORDER BY height ASC LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("rs: claim pending_tx: %w", err)
	}
	defer rows.Close()
	var out []types.PendingTx
	for rows.Next() {
		var t types.PendingTx
		var chain, protocol string
		if err := rows.Scan(&t.ID, &chain, &t.TxHash, &t.Height, &t.Publisher, &protocol, &t.Payload, &t.Retries, &t.NextAttemptAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("rs: scan pending_tx: %w", err)
		}
		t.Chain = types.Chain(chain)
		t.Protocol = types.Protocol(protocol)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ids := make([]string, len(out))
	for i, t := range out {
		ids[i] = t.ID
	}
	if len(ids) > 0 {
		if _, err := q.db.ExecContext(ctx, inClause(`UPDATE pending_tx SET claimed_by='ptp', claimed_at=? WHERE id IN (%s)`, ids), append([]any{now}, toArgs(ids)...)...); err != nil {
			return nil, fmt.Errorf("rs: mark pending_tx claimed: %w", err)
		}
	}
	return out, nil
}

func (q *sqlQueries) DeletePendingTx(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM pending_tx WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("rs: delete pending_tx: %w", err)
	}
	return nil
}

func (q *sqlQueries) BumpPendingTxRetry(ctx context.Context, id string, next time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE pending_tx SET retries = retries + 1, next_attempt_at = ?, claimed_by = NULL, claimed_at = NULL WHERE id = ?
	`, next.UTC(), id)
	if err != nil {
		return fmt.Errorf("rs: bump pending_tx retry: %w", err)
	}
	return nil
}

func (q *sqlQueries) RejectPendingTx(ctx context.Context, tx types.PendingTx, reason string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO rejected_tx(id, chain, tx_hash, reason, payload_snapshot, rejected_at) VALUES(?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, uuid.NewString(), string(tx.Chain), tx.TxHash, reason, tx.Payload)
	if err != nil {
		return fmt.Errorf("rs: insert rejected_tx: %w", err)
	}
	return q.DeletePendingTx(ctx, tx.ID)
}

func (q *sqlQueries) CountPendingTxs(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_tx`).Scan(&n); err != nil {
		return 0, fmt.Errorf("rs: count pending_tx: %w", err)
	}
	return n, nil
}

func (q *sqlQueries) InsertPendingMessage(ctx context.Context, msg types.PendingMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	var confChain, confTxHash *string
	var confHeight *uint64
	if msg.Confirmation != nil {
		c := string(msg.Confirmation.Chain)
		confChain = &c
		confHeight = &msg.Confirmation.Height
		confTxHash = &msg.Confirmation.TxHash
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO pending_message(id, item_hash, sender, address, chain, signature, type, channel, time, item_type, item_content,
			origin, confirmation_chain, confirmation_height, confirmation_tx_hash, retries, next_attempt_at, check_message)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, msg.ID, msg.ItemHash, msg.Sender, msg.Address, string(msg.Chain), msg.Signature, string(msg.Type), msg.Channel, msg.Time,
		string(msg.ItemType), msg.ItemContent, string(msg.Origin), confChain, confHeight, confTxHash,
		msg.Retries, msg.NextAttemptAt.UTC(), msg.CheckMessage)
	if err != nil {
		return fmt.Errorf("rs: insert pending_message: %w", err)
	}
	return nil
}

func (q *sqlQueries) ClaimPendingMessages(ctx context.Context, claimID string, allowed []types.MessageType, limit int) ([]types.PendingMessage, error) {
	now := time.Now().UTC()
	typeFilter := ""
	args := []any{now}
	if len(allowed) > 0 {
		placeholders := make([]string, len(allowed))
		for i, t := range allowed {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		typeFilter = " AND type IN (" + strings.Join(placeholders, ",") + ")"
	}
	args = append(args, limit)
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, item_hash, sender, address, chain, signature, type, channel, time, item_type, item_content, origin,
			confirmation_chain, confirmation_height, confirmation_tx_hash, retries, next_attempt_at, check_message, created_at
		FROM pending_message WHERE next_attempt_at <= ? AND claimed_by IS NULL`+typeFilter+`
		ORDER BY time ASC LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("rs: claim pending_message: %w", err)
	}
	defer rows.Close()
	var out []types.PendingMessage
	for rows.Next() {
		var m types.PendingMessage
		var chain, mtype, itemType, origin string
		var confChain, confTxHash sql.NullString
		var confHeight sql.NullInt64
		if err := rows.Scan(&m.ID, &m.ItemHash, &m.Sender, &m.Address, &chain, &m.Signature, &mtype, &m.Channel, &m.Time, &itemType,
			&m.ItemContent, &origin, &confChain, &confHeight, &confTxHash, &m.Retries, &m.NextAttemptAt, &m.CheckMessage, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("rs: scan pending_message: %w", err)
		}
		m.Chain = types.Chain(chain)
		m.Type = types.MessageType(mtype)
		m.ItemType = types.ItemType(itemType)
		m.Origin = types.Origin(origin)
		if confChain.Valid {
			m.Confirmation = &types.Confirmation{Chain: types.Chain(confChain.String), Height: uint64(confHeight.Int64), TxHash: confTxHash.String}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ids := make([]string, len(out))
	for i, m := range out {
		ids[i] = m.ID
	}
	if len(ids) > 0 {
		qstr := inClause(`UPDATE pending_message SET claimed_by=?, claimed_at=? WHERE id IN (%s)`, ids)
		args := append([]any{claimID, now}, toArgs(ids)...)
		if _, err := q.db.ExecContext(ctx, qstr, args...); err != nil {
			return nil, fmt.Errorf("rs: mark pending_message claimed: %w", err)
		}
	}
	return out, nil
}

func (q *sqlQueries) ReleasePendingMessage(ctx context.Context, id string, next time.Time, retries uint32) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE pending_message SET retries = ?, next_attempt_at = ?, claimed_by = NULL, claimed_at = NULL WHERE id = ?
	`, retries, next.UTC(), id)
	if err != nil {
		return fmt.Errorf("rs: release pending_message: %w", err)
	}
	return nil
}

func (q *sqlQueries) DeletePendingMessage(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM pending_message WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("rs: delete pending_message: %w", err)
	}
	return nil
}

func (q *sqlQueries) RejectPendingMessage(ctx context.Context, msg types.PendingMessage, reason string) error {
	var snapshot []byte
	if msg.ItemContent != nil {
		snapshot = []byte(*msg.ItemContent)
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO rejected_message(id, item_hash, reason, payload_snapshot, rejected_at) VALUES(?,?,?,?,CURRENT_TIMESTAMP)
	`, uuid.NewString(), msg.ItemHash, reason, snapshot)
	if err != nil {
		return fmt.Errorf("rs: insert rejected_message: %w", err)
	}
	return q.DeletePendingMessage(ctx, msg.ID)
}

func (q *sqlQueries) CountPendingMessages(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_message`).Scan(&n); err != nil {
		return 0, fmt.Errorf("rs: count pending_message: %w", err)
	}
	return n, nil
}

func (q *sqlQueries) ExistsPendingMessageByHash(ctx context.Context, hash string) (bool, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_message WHERE item_hash = ?`, hash).Scan(&n); err != nil {
		return false, fmt.Errorf("rs: exists pending_message by hash: %w", err)
	}
	return n > 0, nil
}

func (q *sqlQueries) ReclaimStalePendingMessages(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE pending_message SET claimed_by = NULL, claimed_at = NULL
		WHERE claimed_by IS NOT NULL AND claimed_at <= ?
	`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("rs: reclaim stale pending_message: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (q *sqlQueries) GetCursor(ctx context.Context, chain types.Chain) (*types.ChainCursor, error) {
	var c types.ChainCursor
	var chainStr string
	var lastTxHash, lastBlockHash sql.NullString
	err := q.db.QueryRowContext(ctx, `SELECT chain, last_height, last_tx_hash, last_block_hash, updated_at FROM chain_cursor WHERE chain = ?`, string(chain)).
		Scan(&chainStr, &c.LastHeight, &lastTxHash, &lastBlockHash, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rs: get cursor: %w", err)
	}
	c.Chain = types.Chain(chainStr)
	c.LastTxHash = lastTxHash.String
	c.LastBlockHash = lastBlockHash.String
	return &c, nil
}

func (q *sqlQueries) AdvanceCursor(ctx context.Context, chain types.Chain, height uint64, txHash, blockHash string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO chain_cursor(chain, last_height, last_tx_hash, last_block_hash, updated_at) VALUES(?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(chain) DO UPDATE SET last_height=excluded.last_height, last_tx_hash=excluded.last_tx_hash, last_block_hash=excluded.last_block_hash, updated_at=CURRENT_TIMESTAMP
	`, string(chain), height, txHash, blockHash)
	if err != nil {
		return fmt.Errorf("rs: advance cursor: %w", err)
	}
	return nil
}

func (q *sqlQueries) GetMessageByHash(ctx context.Context, hash string) (*types.Message, error) {
	var m types.Message
	var chain, mtype, itemType string
	var content, forgottenBy sql.NullString
	var confirmations string
	err := q.db.QueryRowContext(ctx, `
		SELECT item_hash, sender, address, chain, type, channel, time, item_type, content, size, confirmations, forgotten_by, created_at
		FROM message WHERE item_hash = ?
	`, hash).Scan(&m.ItemHash, &m.Sender, &m.Address, &chain, &mtype, &m.Channel, &m.Time, &itemType, &content, &m.Size, &confirmations, &forgottenBy, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rs: get message: %w", err)
	}
	m.Chain = types.Chain(chain)
	m.Type = types.MessageType(mtype)
	m.ItemType = types.ItemType(itemType)
	if content.Valid {
		m.Content = &content.String
	}
	if forgottenBy.Valid {
		m.ForgottenBy = &forgottenBy.String
	}
	if err := json.Unmarshal([]byte(confirmations), &m.Confirmations); err != nil {
		return nil, fmt.Errorf("rs: decode confirmations: %w", err)
	}
	return &m, nil
}

func (q *sqlQueries) InsertMessage(ctx context.Context, msg types.Message) error {
	confBytes, err := json.Marshal(msg.Confirmations)
	if err != nil {
		return fmt.Errorf("rs: encode confirmations: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO message(item_hash, sender, address, chain, type, channel, time, item_type, content, size, confirmations, forgotten_by)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
	`, msg.ItemHash, msg.Sender, msg.Address, string(msg.Chain), string(msg.Type), msg.Channel, msg.Time, string(msg.ItemType),
		msg.Content, msg.Size, string(confBytes), msg.ForgottenBy)
	if err != nil {
		return fmt.Errorf("rs: insert message: %w", err)
	}
	return nil
}

func (q *sqlQueries) MergeConfirmation(ctx context.Context, hash string, conf types.Confirmation) error {
	existing, err := q.GetMessageByHash(ctx, hash)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("rs: merge confirmation: message %s not found", hash)
	}
	for _, c := range existing.Confirmations {
		if c == conf {
			return nil // already present, idempotent
		}
	}
	merged := append(existing.Confirmations, conf)
	confBytes, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("rs: encode confirmations: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `UPDATE message SET confirmations = ? WHERE item_hash = ?`, string(confBytes), hash)
	if err != nil {
		return fmt.Errorf("rs: merge confirmation: %w", err)
	}
	return nil
}

func (q *sqlQueries) ForgetMessage(ctx context.Context, hash, forgottenBy string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE message SET content = NULL, forgotten_by = ? WHERE item_hash = ?`, forgottenBy, hash)
	if err != nil {
		return fmt.Errorf("rs: forget message: %w", err)
	}
	return nil
}

func (q *sqlQueries) InsertAggregateElement(ctx context.Context, el types.AggregateElement) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO aggregate_element(address, key, item_hash, time, content) VALUES(?,?,?,?,?)
		ON CONFLICT(address, key, item_hash) DO UPDATE SET time=excluded.time, content=excluded.content
	`, el.Address, el.Key, el.ItemHash, el.Time, el.Content)
	if err != nil {
		return fmt.Errorf("rs: insert aggregate_element: %w", err)
	}
	return nil
}

func (q *sqlQueries) DeleteAggregateElement(ctx context.Context, address, key, itemHash string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM aggregate_element WHERE address=? AND key=? AND item_hash=?`, address, key, itemHash)
	if err != nil {
		return fmt.Errorf("rs: delete aggregate_element: %w", err)
	}
	return nil
}

func (q *sqlQueries) ListAggregateElements(ctx context.Context, address, key string) ([]types.AggregateElement, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT address, key, item_hash, time, content FROM aggregate_element WHERE address=? AND key=? ORDER BY time ASC, item_hash ASC
	`, address, key)
	if err != nil {
		return nil, fmt.Errorf("rs: list aggregate_element: %w", err)
	}
	defer rows.Close()
	var out []types.AggregateElement
	for rows.Next() {
		var el types.AggregateElement
		var content string
		if err := rows.Scan(&el.Address, &el.Key, &el.ItemHash, &el.Time, &content); err != nil {
			return nil, fmt.Errorf("rs: scan aggregate_element: %w", err)
		}
		el.Content = []byte(content)
		out = append(out, el)
	}
	return out, rows.Err()
}

func (q *sqlQueries) GetAggregateView(ctx context.Context, address, key string) (*types.AggregateView, error) {
	var v types.AggregateView
	var content string
	err := q.db.QueryRowContext(ctx, `
		SELECT address, key, content, creation_time, last_revision_time FROM aggregate_view WHERE address=? AND key=?
	`, address, key).Scan(&v.Address, &v.Key, &content, &v.CreationTime, &v.LastRevisionTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rs: get aggregate_view: %w", err)
	}
	v.Content = []byte(content)
	return &v, nil
}

func (q *sqlQueries) SetAggregateView(ctx context.Context, view types.AggregateView) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO aggregate_view(address, key, content, creation_time, last_revision_time) VALUES(?,?,?,?,?)
		ON CONFLICT(address, key) DO UPDATE SET content=excluded.content, last_revision_time=excluded.last_revision_time
	`, view.Address, view.Key, view.Content, view.CreationTime, view.LastRevisionTime)
	if err != nil {
		return fmt.Errorf("rs: set aggregate_view: %w", err)
	}
	return nil
}

func (q *sqlQueries) GetSecurityAggregate(ctx context.Context, address string) (*types.SecurityContent, error) {
	view, err := q.GetAggregateView(ctx, address, "security")
	if err != nil {
		return nil, err
	}
	if view == nil {
		return &types.SecurityContent{}, nil
	}
	var sec types.SecurityContent
	if err := json.Unmarshal(view.Content, &sec); err != nil {
		return nil, fmt.Errorf("rs: decode security aggregate: %w", err)
	}
	return &sec, nil
}

func (q *sqlQueries) UpsertPost(ctx context.Context, post types.Post) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO post(item_hash, ref, address, post_type, time, content) VALUES(?,?,?,?,?,?)
		ON CONFLICT(item_hash) DO UPDATE SET content=excluded.content, time=excluded.time
	`, post.ItemHash, post.Ref, post.Address, post.PostType, post.Time, post.Content)
	if err != nil {
		return fmt.Errorf("rs: upsert post: %w", err)
	}
	return nil
}

func (q *sqlQueries) GetPost(ctx context.Context, itemHash string) (*types.Post, error) {
	var p types.Post
	var ref sql.NullString
	var content string
	err := q.db.QueryRowContext(ctx, `SELECT item_hash, ref, address, post_type, time, content FROM post WHERE item_hash=?`, itemHash).
		Scan(&p.ItemHash, &ref, &p.Address, &p.PostType, &p.Time, &content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rs: get post: %w", err)
	}
	if ref.Valid {
		p.Ref = &ref.String
	}
	p.Content = []byte(content)
	return &p, nil
}

func (q *sqlQueries) ListAmendments(ctx context.Context, ref string) ([]types.Post, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT item_hash, ref, address, post_type, time, content FROM post WHERE ref=?`, ref)
	if err != nil {
		return nil, fmt.Errorf("rs: list amendments: %w", err)
	}
	defer rows.Close()
	var out []types.Post
	for rows.Next() {
		var p types.Post
		var r sql.NullString
		var content string
		if err := rows.Scan(&p.ItemHash, &r, &p.Address, &p.PostType, &p.Time, &content); err != nil {
			return nil, fmt.Errorf("rs: scan amendment: %w", err)
		}
		if r.Valid {
			p.Ref = &r.String
		}
		p.Content = []byte(content)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *sqlQueries) DeletePost(ctx context.Context, itemHash string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM post WHERE item_hash=?`, itemHash)
	if err != nil {
		return fmt.Errorf("rs: delete post: %w", err)
	}
	return nil
}

func (q *sqlQueries) GetStoredFileForUpdate(ctx context.Context, hash string) (*types.StoredFile, error) {
	var f types.StoredFile
	var pinDelete sql.NullTime
	err := q.db.QueryRowContext(ctx, `
		SELECT file_hash, storage, size, pin_count, pin_delete_at, last_access_at FROM stored_file WHERE file_hash=?
	`, hash).Scan(&f.FileHash, &f.Storage, &f.Size, &f.PinCount, &pinDelete, &f.LastAccessAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rs: get stored_file: %w", err)
	}
	if pinDelete.Valid {
		f.PinDeleteAt = &pinDelete.Time
	}
	return &f, nil
}

func (q *sqlQueries) UpsertStoredFile(ctx context.Context, file types.StoredFile) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO stored_file(file_hash, storage, size, pin_count, pin_delete_at, last_access_at) VALUES(?,?,?,?,?,?)
		ON CONFLICT(file_hash) DO UPDATE SET storage=excluded.storage, size=excluded.size, pin_count=excluded.pin_count,
			pin_delete_at=excluded.pin_delete_at, last_access_at=excluded.last_access_at
	`, file.FileHash, file.Storage, file.Size, file.PinCount, file.PinDeleteAt, file.LastAccessAt)
	if err != nil {
		return fmt.Errorf("rs: upsert stored_file: %w", err)
	}
	return nil
}

func (q *sqlQueries) DeleteStoredFile(ctx context.Context, hash string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM stored_file WHERE file_hash=?`, hash)
	if err != nil {
		return fmt.Errorf("rs: delete stored_file: %w", err)
	}
	return nil
}

func (q *sqlQueries) ListExpiredStoredFiles(ctx context.Context, now time.Time) ([]types.StoredFile, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT file_hash, storage, size, pin_count, pin_delete_at, last_access_at FROM stored_file
		WHERE pin_count = 0 AND pin_delete_at IS NOT NULL AND pin_delete_at <= ?
	`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("rs: list expired stored_file: %w", err)
	}
	defer rows.Close()
	var out []types.StoredFile
	for rows.Next() {
		var f types.StoredFile
		var pinDelete sql.NullTime
		if err := rows.Scan(&f.FileHash, &f.Storage, &f.Size, &f.PinCount, &pinDelete, &f.LastAccessAt); err != nil {
			return nil, fmt.Errorf("rs: scan stored_file: %w", err)
		}
		if pinDelete.Valid {
			f.PinDeleteAt = &pinDelete.Time
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (q *sqlQueries) ListStoredFilesByLastAccess(ctx context.Context, limit int) ([]types.StoredFile, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT file_hash, storage, size, pin_count, pin_delete_at, last_access_at FROM stored_file
		ORDER BY last_access_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("rs: list stored_file by last access: %w", err)
	}
	defer rows.Close()
	var out []types.StoredFile
	for rows.Next() {
		var f types.StoredFile
		var pinDelete sql.NullTime
		if err := rows.Scan(&f.FileHash, &f.Storage, &f.Size, &f.PinCount, &pinDelete, &f.LastAccessAt); err != nil {
			return nil, fmt.Errorf("rs: scan stored_file: %w", err)
		}
		if pinDelete.Valid {
			f.PinDeleteAt = &pinDelete.Time
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (q *sqlQueries) UpsertBalance(ctx context.Context, bal types.Balance) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO balance(address, chain, token, amount, last_update) VALUES(?,?,?,?,?)
		ON CONFLICT(address, chain, token) DO UPDATE SET amount=excluded.amount, last_update=excluded.last_update
	`, bal.Address, string(bal.Chain), bal.Token, bal.Amount, bal.LastUpdate.UTC())
	if err != nil {
		return fmt.Errorf("rs: upsert balance: %w", err)
	}
	return nil
}

func (q *sqlQueries) ListBalances(ctx context.Context, address string) ([]types.Balance, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT address, chain, token, amount, last_update FROM balance WHERE address=?`, address)
	if err != nil {
		return nil, fmt.Errorf("rs: list balances: %w", err)
	}
	defer rows.Close()
	var out []types.Balance
	for rows.Next() {
		var b types.Balance
		var chain string
		if err := rows.Scan(&b.Address, &chain, &b.Token, &b.Amount, &b.LastUpdate); err != nil {
			return nil, fmt.Errorf("rs: scan balance: %w", err)
		}
		b.Chain = types.Chain(chain)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q *sqlQueries) GetUsageSnapshot(ctx context.Context, address string) (*types.UsageSnapshot, error) {
	var s types.UsageSnapshot
	err := q.db.QueryRowContext(ctx, `SELECT address, bytes_used, last_computed_at FROM usage_snapshot WHERE address=?`, address).
		Scan(&s.Address, &s.BytesUsed, &s.LastComputedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rs: get usage_snapshot: %w", err)
	}
	return &s, nil
}

func (q *sqlQueries) SetUsageSnapshot(ctx context.Context, snap types.UsageSnapshot) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO usage_snapshot(address, bytes_used, last_computed_at) VALUES(?,?,?)
		ON CONFLICT(address) DO UPDATE SET bytes_used=excluded.bytes_used, last_computed_at=excluded.last_computed_at
	`, snap.Address, snap.BytesUsed, snap.LastComputedAt.UTC())
	if err != nil {
		return fmt.Errorf("rs: set usage_snapshot: %w", err)
	}
	return nil
}

func (q *sqlQueries) ListUsageSnapshots(ctx context.Context) ([]types.UsageSnapshot, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT address, bytes_used, last_computed_at FROM usage_snapshot`)
	if err != nil {
		return nil, fmt.Errorf("rs: list usage_snapshot: %w", err)
	}
	defer rows.Close()
	var out []types.UsageSnapshot
	for rows.Next() {
		var s types.UsageSnapshot
		if err := rows.Scan(&s.Address, &s.BytesUsed, &s.LastComputedAt); err != nil {
			return nil, fmt.Errorf("rs: scan usage_snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *sqlQueries) SumMessageSizeByAddress(ctx context.Context, address string) (uint64, error) {
	var total uint64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(size), 0) FROM message WHERE address = ? AND forgotten_by IS NULL
	`, address).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("rs: sum message size by address: %w", err)
	}
	return total, nil
}

func (q *sqlQueries) ListKnownAddresses(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT address FROM message
		UNION
		SELECT address FROM balance
		UNION
		SELECT address FROM usage_snapshot
	`)
	if err != nil {
		return nil, fmt.Errorf("rs: list known addresses: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("rs: scan known address: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

func (q *sqlQueries) UpsertProgram(ctx context.Context, itemHash, sender string, content []byte) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO program(item_hash, sender, content) VALUES(?,?,?)
		ON CONFLICT(item_hash) DO UPDATE SET content=excluded.content
	`, itemHash, sender, string(content))
	if err != nil {
		return fmt.Errorf("rs: upsert program: %w", err)
	}
	return nil
}

func inClause(tpl string, ids []string) string {
	placeholders := make([]string, len(ids))
	for i := range ids {
		placeholders[i] = "?"
	}
	return fmt.Sprintf(tpl, strings.Join(placeholders, ","))
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
