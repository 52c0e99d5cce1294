package rs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/driver/postgres"

	"alephccn/types"
)

// GormStore is the clustered RS backend: gorm + postgres, grounded on
// services/otc-gateway/funding/processor.go's row-locked transactional
// dispatch. Unlike sqlstore's claim, which relies on a single-connection
// transaction, postgres supports real SELECT ... FOR UPDATE SKIP LOCKED, so claims here
// never contend with each other the way sqlite's single-writer claim does.
type GormStore struct {
	db *gorm.DB
}

// OpenGorm connects to postgres at dsn and runs AutoMigrate.
func OpenGorm(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("rs: open postgres: %w", err)
	}
	if err := autoMigrateAll(db); err != nil {
		return nil, fmt.Errorf("rs: automigrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(ctx, &gormQueries{db: gtx})
	})
}

type gormQueries struct {
	db *gorm.DB
}

func (s *GormStore) q(ctx context.Context) *gormQueries { return &gormQueries{db: s.db.WithContext(ctx)} }

func (s *GormStore) UpsertPendingTx(ctx context.Context, tx types.PendingTx) error {
	return s.q(ctx).UpsertPendingTx(ctx, tx)
}
func (s *GormStore) ClaimPendingTxs(ctx context.Context, limit int) ([]types.PendingTx, error) {
	var claimed []types.PendingTx
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		var err error
		claimed, err = (&gormQueries{db: gtx}).ClaimPendingTxs(ctx, limit)
		return err
	})
	return claimed, err
}
func (s *GormStore) DeletePendingTx(ctx context.Context, id string) error {
	return s.q(ctx).DeletePendingTx(ctx, id)
}
func (s *GormStore) BumpPendingTxRetry(ctx context.Context, id string, next time.Time) error {
	return s.q(ctx).BumpPendingTxRetry(ctx, id, next)
}
func (s *GormStore) RejectPendingTx(ctx context.Context, tx types.PendingTx, reason string) error {
	return s.q(ctx).RejectPendingTx(ctx, tx, reason)
}
func (s *GormStore) CountPendingTxs(ctx context.Context) (int, error) { return s.q(ctx).CountPendingTxs(ctx) }
func (s *GormStore) InsertPendingMessage(ctx context.Context, msg types.PendingMessage) error {
	return s.q(ctx).InsertPendingMessage(ctx, msg)
}
func (s *GormStore) ClaimPendingMessages(ctx context.Context, claimID string, t []types.MessageType, limit int) ([]types.PendingMessage, error) {
	var claimed []types.PendingMessage
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		var err error
		claimed, err = (&gormQueries{db: gtx}).ClaimPendingMessages(ctx, claimID, t, limit)
		return err
	})
	return claimed, err
}
func (s *GormStore) ReleasePendingMessage(ctx context.Context, id string, next time.Time, retries uint32) error {
	return s.q(ctx).ReleasePendingMessage(ctx, id, next, retries)
}
func (s *GormStore) DeletePendingMessage(ctx context.Context, id string) error {
	return s.q(ctx).DeletePendingMessage(ctx, id)
}
func (s *GormStore) RejectPendingMessage(ctx context.Context, msg types.PendingMessage, reason string) error {
	return s.q(ctx).RejectPendingMessage(ctx, msg, reason)
}
func (s *GormStore) CountPendingMessages(ctx context.Context) (int, error) {
	return s.q(ctx).CountPendingMessages(ctx)
}
func (s *GormStore) ReclaimStalePendingMessages(ctx context.Context, olderThan time.Time) (int, error) {
	return s.q(ctx).ReclaimStalePendingMessages(ctx, olderThan)
}
func (s *GormStore) ExistsPendingMessageByHash(ctx context.Context, hash string) (bool, error) {
	return s.q(ctx).ExistsPendingMessageByHash(ctx, hash)
}
func (s *GormStore) GetCursor(ctx context.Context, chain types.Chain) (*types.ChainCursor, error) {
	return s.q(ctx).GetCursor(ctx, chain)
}
func (s *GormStore) AdvanceCursor(ctx context.Context, chain types.Chain, height uint64, txHash, blockHash string) error {
	return s.q(ctx).AdvanceCursor(ctx, chain, height, txHash, blockHash)
}
func (s *GormStore) GetMessageByHash(ctx context.Context, hash string) (*types.Message, error) {
	return s.q(ctx).GetMessageByHash(ctx, hash)
}
func (s *GormStore) InsertMessage(ctx context.Context, msg types.Message) error {
	return s.q(ctx).InsertMessage(ctx, msg)
}
func (s *GormStore) MergeConfirmation(ctx context.Context, hash string, conf types.Confirmation) error {
	var err error
	txErr := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		err = (&gormQueries{db: gtx}).MergeConfirmation(ctx, hash, conf)
		return err
	})
	if txErr != nil {
		return txErr
	}
	return err
}
func (s *GormStore) ForgetMessage(ctx context.Context, hash, forgottenBy string) error {
	return s.q(ctx).ForgetMessage(ctx, hash, forgottenBy)
}
func (s *GormStore) InsertAggregateElement(ctx context.Context, el types.AggregateElement) error {
	return s.q(ctx).InsertAggregateElement(ctx, el)
}
func (s *GormStore) DeleteAggregateElement(ctx context.Context, address, key, itemHash string) error {
	return s.q(ctx).DeleteAggregateElement(ctx, address, key, itemHash)
}
func (s *GormStore) ListAggregateElements(ctx context.Context, address, key string) ([]types.AggregateElement, error) {
	return s.q(ctx).ListAggregateElements(ctx, address, key)
}
func (s *GormStore) GetAggregateView(ctx context.Context, address, key string) (*types.AggregateView, error) {
	return s.q(ctx).GetAggregateView(ctx, address, key)
}
func (s *GormStore) SetAggregateView(ctx context.Context, view types.AggregateView) error {
	return s.q(ctx).SetAggregateView(ctx, view)
}
func (s *GormStore) GetSecurityAggregate(ctx context.Context, address string) (*types.SecurityContent, error) {
	return s.q(ctx).GetSecurityAggregate(ctx, address)
}
func (s *GormStore) UpsertPost(ctx context.Context, post types.Post) error { return s.q(ctx).UpsertPost(ctx, post) }
func (s *GormStore) GetPost(ctx context.Context, itemHash string) (*types.Post, error) {
	return s.q(ctx).GetPost(ctx, itemHash)
}
func (s *GormStore) ListAmendments(ctx context.Context, ref string) ([]types.Post, error) {
	return s.q(ctx).ListAmendments(ctx, ref)
}
func (s *GormStore) DeletePost(ctx context.Context, itemHash string) error {
	return s.q(ctx).DeletePost(ctx, itemHash)
}
func (s *GormStore) GetStoredFileForUpdate(ctx context.Context, hash string) (*types.StoredFile, error) {
	return s.q(ctx).GetStoredFileForUpdate(ctx, hash)
}
func (s *GormStore) UpsertStoredFile(ctx context.Context, file types.StoredFile) error {
	return s.q(ctx).UpsertStoredFile(ctx, file)
}
func (s *GormStore) DeleteStoredFile(ctx context.Context, hash string) error {
	return s.q(ctx).DeleteStoredFile(ctx, hash)
}
func (s *GormStore) ListExpiredStoredFiles(ctx context.Context, now time.Time) ([]types.StoredFile, error) {
	return s.q(ctx).ListExpiredStoredFiles(ctx, now)
}
func (s *GormStore) ListStoredFilesByLastAccess(ctx context.Context, limit int) ([]types.StoredFile, error) {
	return s.q(ctx).ListStoredFilesByLastAccess(ctx, limit)
}
func (s *GormStore) UpsertBalance(ctx context.Context, bal types.Balance) error {
	return s.q(ctx).UpsertBalance(ctx, bal)
}
func (s *GormStore) ListBalances(ctx context.Context, address string) ([]types.Balance, error) {
	return s.q(ctx).ListBalances(ctx, address)
}
func (s *GormStore) GetUsageSnapshot(ctx context.Context, address string) (*types.UsageSnapshot, error) {
	return s.q(ctx).GetUsageSnapshot(ctx, address)
}
func (s *GormStore) SetUsageSnapshot(ctx context.Context, snap types.UsageSnapshot) error {
	return s.q(ctx).SetUsageSnapshot(ctx, snap)
}
func (s *GormStore) ListUsageSnapshots(ctx context.Context) ([]types.UsageSnapshot, error) {
	return s.q(ctx).ListUsageSnapshots(ctx)
}
func (s *GormStore) UpsertProgram(ctx context.Context, itemHash, sender string, content []byte) error {
	return s.q(ctx).UpsertProgram(ctx, itemHash, sender, content)
}
func (s *GormStore) SumMessageSizeByAddress(ctx context.Context, address string) (uint64, error) {
	return s.q(ctx).SumMessageSizeByAddress(ctx, address)
}
func (s *GormStore) ListKnownAddresses(ctx context.Context) ([]string, error) {
	return s.q(ctx).ListKnownAddresses(ctx)
}

// --- gormQueries implementation ---

func (q *gormQueries) UpsertPendingTx(ctx context.Context, tx types.PendingTx) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	m := pendingTxModel{
		ID: tx.ID, Chain: string(tx.Chain), TxHash: tx.TxHash, Height: tx.Height, Publisher: tx.Publisher,
		Protocol: string(tx.Protocol), Payload: tx.Payload, Retries: tx.Retries, NextAttemptAt: tx.NextAttemptAt.UTC(),
	}
	err := q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain"}, {Name: "tx_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"height", "publisher", "protocol", "payload"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("rs: upsert pending_tx: %w", err)
	}
	return nil
}

func (q *gormQueries) ClaimPendingTxs(ctx context.Context, limit int) ([]types.PendingTx, error) {
	var rows []pendingTxModel
	err := q.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("next_attempt_at <= ? AND claimed_by IS NULL", time.Now().UTC()).
		Order("height ASC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("rs: claim pending_tx: %w", err)
	}
	out := make([]types.PendingTx, len(rows))
	ids := make([]string, len(rows))
	for i, r := range rows {
		out[i] = types.PendingTx{
			ID: r.ID, Chain: types.Chain(r.Chain), TxHash: r.TxHash, Height: r.Height, Publisher: r.Publisher,
			Protocol: types.Protocol(r.Protocol), Payload: r.Payload, Retries: r.Retries,
			NextAttemptAt: r.NextAttemptAt, CreatedAt: r.CreatedAt,
		}
		ids[i] = r.ID
	}
	if len(ids) > 0 {
		claimedBy := "ptp"
		err := q.db.WithContext(ctx).Model(&pendingTxModel{}).Where("id IN ?", ids).
			Updates(map[string]any{"claimed_by": claimedBy, "claimed_at": time.Now().UTC()}).Error
		if err != nil {
			return nil, fmt.Errorf("rs: mark pending_tx claimed: %w", err)
		}
	}
	return out, nil
}

func (q *gormQueries) DeletePendingTx(ctx context.Context, id string) error {
	if err := q.db.WithContext(ctx).Delete(&pendingTxModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("rs: delete pending_tx: %w", err)
	}
	return nil
}

func (q *gormQueries) BumpPendingTxRetry(ctx context.Context, id string, next time.Time) error {
	err := q.db.WithContext(ctx).Model(&pendingTxModel{}).Where("id = ?", id).
		Updates(map[string]any{"retries": gorm.Expr("retries + 1"), "next_attempt_at": next.UTC(), "claimed_by": nil, "claimed_at": nil}).Error
	if err != nil {
		return fmt.Errorf("rs: bump pending_tx retry: %w", err)
	}
	return nil
}

func (q *gormQueries) RejectPendingTx(ctx context.Context, tx types.PendingTx, reason string) error {
	m := rejectedTxModel{ID: uuid.NewString(), Chain: string(tx.Chain), TxHash: tx.TxHash, Reason: reason, PayloadSnapshot: tx.Payload, RejectedAt: time.Now().UTC()}
	if err := q.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("rs: insert rejected_tx: %w", err)
	}
	return q.DeletePendingTx(ctx, tx.ID)
}

func (q *gormQueries) CountPendingTxs(ctx context.Context) (int, error) {
	var n int64
	if err := q.db.WithContext(ctx).Model(&pendingTxModel{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("rs: count pending_tx: %w", err)
	}
	return int(n), nil
}

func (q *gormQueries) InsertPendingMessage(ctx context.Context, msg types.PendingMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	m := pendingMessageModel{
		ID: msg.ID, ItemHash: msg.ItemHash, Sender: msg.Sender, Address: msg.Address, Chain: string(msg.Chain), Signature: msg.Signature,
		Type: string(msg.Type), Channel: msg.Channel, Time: msg.Time, ItemType: string(msg.ItemType),
		ItemContent: msg.ItemContent, Origin: string(msg.Origin), Retries: msg.Retries,
		NextAttemptAt: msg.NextAttemptAt.UTC(), CheckMessage: msg.CheckMessage,
	}
	if msg.Confirmation != nil {
		chain := string(msg.Confirmation.Chain)
		m.ConfirmationChain = &chain
		m.ConfirmationHeight = &msg.Confirmation.Height
		m.ConfirmationTxHash = &msg.Confirmation.TxHash
	}
	if err := q.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("rs: insert pending_message: %w", err)
	}
	return nil
}

func (q *gormQueries) ClaimPendingMessages(ctx context.Context, claimID string, allowed []types.MessageType, limit int) ([]types.PendingMessage, error) {
	query := q.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("next_attempt_at <= ? AND claimed_by IS NULL", time.Now().UTC())
	if len(allowed) > 0 {
		strs := make([]string, len(allowed))
		for i, t := range allowed {
			strs[i] = string(t)
		}
		query = query.Where("type IN ?", strs)
	}
	var rows []pendingMessageModel
	if err := query.Order("time ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("rs: claim pending_message: %w", err)
	}
	out := make([]types.PendingMessage, len(rows))
	ids := make([]string, len(rows))
	for i, r := range rows {
		out[i] = pendingMessageFromModel(r)
		ids[i] = r.ID
	}
	if len(ids) > 0 {
		err := q.db.WithContext(ctx).Model(&pendingMessageModel{}).Where("id IN ?", ids).
			Updates(map[string]any{"claimed_by": claimID, "claimed_at": time.Now().UTC()}).Error
		if err != nil {
			return nil, fmt.Errorf("rs: mark pending_message claimed: %w", err)
		}
	}
	return out, nil
}

func pendingMessageFromModel(r pendingMessageModel) types.PendingMessage {
	m := types.PendingMessage{
		ID: r.ID, ItemHash: r.ItemHash, Sender: r.Sender, Address: r.Address, Chain: types.Chain(r.Chain), Signature: r.Signature,
		Type: types.MessageType(r.Type), Channel: r.Channel, Time: r.Time, ItemType: types.ItemType(r.ItemType),
		ItemContent: r.ItemContent, Origin: types.Origin(r.Origin), Retries: r.Retries,
		NextAttemptAt: r.NextAttemptAt, CheckMessage: r.CheckMessage, ClaimedBy: r.ClaimedBy, ClaimedAt: r.ClaimedAt,
		CreatedAt: r.CreatedAt,
	}
	if r.ConfirmationChain != nil {
		m.Confirmation = &types.Confirmation{Chain: types.Chain(*r.ConfirmationChain)}
		if r.ConfirmationHeight != nil {
			m.Confirmation.Height = *r.ConfirmationHeight
		}
		if r.ConfirmationTxHash != nil {
			m.Confirmation.TxHash = *r.ConfirmationTxHash
		}
	}
	return m
}

func (q *gormQueries) ReleasePendingMessage(ctx context.Context, id string, next time.Time, retries uint32) error {
	err := q.db.WithContext(ctx).Model(&pendingMessageModel{}).Where("id = ?", id).
		Updates(map[string]any{"retries": retries, "next_attempt_at": next.UTC(), "claimed_by": nil, "claimed_at": nil}).Error
	if err != nil {
		return fmt.Errorf("rs: release pending_message: %w", err)
	}
	return nil
}

func (q *gormQueries) DeletePendingMessage(ctx context.Context, id string) error {
	if err := q.db.WithContext(ctx).Delete(&pendingMessageModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("rs: delete pending_message: %w", err)
	}
	return nil
}

func (q *gormQueries) RejectPendingMessage(ctx context.Context, msg types.PendingMessage, reason string) error {
	var snapshot []byte
	if msg.ItemContent != nil {
		snapshot = []byte(*msg.ItemContent)
	}
	m := rejectedMessageModel{ID: uuid.NewString(), ItemHash: msg.ItemHash, Reason: reason, PayloadSnapshot: snapshot, RejectedAt: time.Now().UTC()}
	if err := q.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("rs: insert rejected_message: %w", err)
	}
	return q.DeletePendingMessage(ctx, msg.ID)
}

func (q *gormQueries) CountPendingMessages(ctx context.Context) (int, error) {
	var n int64
	if err := q.db.WithContext(ctx).Model(&pendingMessageModel{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("rs: count pending_message: %w", err)
	}
	return int(n), nil
}

func (q *gormQueries) ExistsPendingMessageByHash(ctx context.Context, hash string) (bool, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&pendingMessageModel{}).Where("item_hash = ?", hash).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("rs: exists pending_message by hash: %w", err)
	}
	return n > 0, nil
}

func (q *gormQueries) ReclaimStalePendingMessages(ctx context.Context, olderThan time.Time) (int, error) {
	res := q.db.WithContext(ctx).Model(&pendingMessageModel{}).
		Where("claimed_by IS NOT NULL AND claimed_at <= ?", olderThan.UTC()).
		Updates(map[string]any{"claimed_by": nil, "claimed_at": nil})
	if res.Error != nil {
		return 0, fmt.Errorf("rs: reclaim stale pending_message: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (q *gormQueries) GetCursor(ctx context.Context, chain types.Chain) (*types.ChainCursor, error) {
	var m chainCursorModel
	err := q.db.WithContext(ctx).Where("chain = ?", string(chain)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rs: get cursor: %w", err)
	}
	return &types.ChainCursor{Chain: types.Chain(m.Chain), LastHeight: m.LastHeight, LastTxHash: m.LastTxHash, LastBlockHash: m.LastBlockHash, UpdatedAt: m.UpdatedAt}, nil
}

func (q *gormQueries) AdvanceCursor(ctx context.Context, chain types.Chain, height uint64, txHash, blockHash string) error {
	m := chainCursorModel{Chain: string(chain), LastHeight: height, LastTxHash: txHash, LastBlockHash: blockHash, UpdatedAt: time.Now().UTC()}
	err := q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_height", "last_tx_hash", "last_block_hash", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("rs: advance cursor: %w", err)
	}
	return nil
}

func (q *gormQueries) GetMessageByHash(ctx context.Context, hash string) (*types.Message, error) {
	var m messageModel
	err := q.db.WithContext(ctx).Where("item_hash = ?", hash).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rs: get message: %w", err)
	}
	return messageFromModel(m)
}

func messageFromModel(m messageModel) (*types.Message, error) {
	out := &types.Message{
		ItemHash: m.ItemHash, Sender: m.Sender, Address: m.Address, Chain: types.Chain(m.Chain), Type: types.MessageType(m.Type),
		Channel: m.Channel, Time: m.Time, ItemType: types.ItemType(m.ItemType), Content: m.Content, Size: m.Size,
		ForgottenBy: m.ForgottenBy, CreatedAt: m.CreatedAt,
	}
	if err := json.Unmarshal([]byte(m.Confirmations), &out.Confirmations); err != nil {
		return nil, fmt.Errorf("rs: decode confirmations: %w", err)
	}
	return out, nil
}

func (q *gormQueries) InsertMessage(ctx context.Context, msg types.Message) error {
	confBytes, err := json.Marshal(msg.Confirmations)
	if err != nil {
		return fmt.Errorf("rs: encode confirmations: %w", err)
	}
	m := messageModel{
		ItemHash: msg.ItemHash, Sender: msg.Sender, Address: msg.Address, Chain: string(msg.Chain), Type: string(msg.Type),
		Channel: msg.Channel, Time: msg.Time, ItemType: string(msg.ItemType), Content: msg.Content, Size: msg.Size,
		Confirmations: string(confBytes), ForgottenBy: msg.ForgottenBy,
	}
	if err := q.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("rs: insert message: %w", err)
	}
	return nil
}

func (q *gormQueries) MergeConfirmation(ctx context.Context, hash string, conf types.Confirmation) error {
	var m messageModel
	if err := q.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("item_hash = ?", hash).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("rs: merge confirmation: message %s not found", hash)
		}
		return fmt.Errorf("rs: merge confirmation: %w", err)
	}
	var confirmations []types.Confirmation
	if err := json.Unmarshal([]byte(m.Confirmations), &confirmations); err != nil {
		return fmt.Errorf("rs: decode confirmations: %w", err)
	}
	for _, c := range confirmations {
		if c == conf {
			return nil
		}
	}
	confirmations = append(confirmations, conf)
	confBytes, err := json.Marshal(confirmations)
	if err != nil {
		return fmt.Errorf("rs: encode confirmations: %w", err)
	}
	if err := q.db.WithContext(ctx).Model(&messageModel{}).Where("item_hash = ?", hash).Update("confirmations", string(confBytes)).Error; err != nil {
		return fmt.Errorf("rs: merge confirmation: %w", err)
	}
	return nil
}

func (q *gormQueries) ForgetMessage(ctx context.Context, hash, forgottenBy string) error {
	err := q.db.WithContext(ctx).Model(&messageModel{}).Where("item_hash = ?", hash).
		Updates(map[string]any{"content": nil, "forgotten_by": forgottenBy}).Error
	if err != nil {
		return fmt.Errorf("rs: forget message: %w", err)
	}
	return nil
}

func (q *gormQueries) InsertAggregateElement(ctx context.Context, el types.AggregateElement) error {
	m := aggregateElementModel{Address: el.Address, Key: el.Key, ItemHash: el.ItemHash, Time: el.Time, Content: string(el.Content)}
	err := q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}, {Name: "key"}, {Name: "item_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"time", "content"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("rs: insert aggregate_element: %w", err)
	}
	return nil
}

func (q *gormQueries) DeleteAggregateElement(ctx context.Context, address, key, itemHash string) error {
	err := q.db.WithContext(ctx).Delete(&aggregateElementModel{}, "address = ? AND key = ? AND item_hash = ?", address, key, itemHash).Error
	if err != nil {
		return fmt.Errorf("rs: delete aggregate_element: %w", err)
	}
	return nil
}

func (q *gormQueries) ListAggregateElements(ctx context.Context, address, key string) ([]types.AggregateElement, error) {
	var rows []aggregateElementModel
	err := q.db.WithContext(ctx).Where("address = ? AND key = ?", address, key).Order("time ASC, item_hash ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("rs: list aggregate_element: %w", err)
	}
	out := make([]types.AggregateElement, len(rows))
	for i, r := range rows {
		out[i] = types.AggregateElement{Address: r.Address, Key: r.Key, ItemHash: r.ItemHash, Time: r.Time, Content: []byte(r.Content)}
	}
	return out, nil
}

func (q *gormQueries) GetAggregateView(ctx context.Context, address, key string) (*types.AggregateView, error) {
	var m aggregateViewModel
	err := q.db.WithContext(ctx).Where("address = ? AND key = ?", address, key).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rs: get aggregate_view: %w", err)
	}
	return &types.AggregateView{Address: m.Address, Key: m.Key, Content: []byte(m.Content), CreationTime: m.CreationTime, LastRevisionTime: m.LastRevisionTime}, nil
}

func (q *gormQueries) SetAggregateView(ctx context.Context, view types.AggregateView) error {
	m := aggregateViewModel{Address: view.Address, Key: view.Key, Content: string(view.Content), CreationTime: view.CreationTime, LastRevisionTime: view.LastRevisionTime}
	err := q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "last_revision_time"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("rs: set aggregate_view: %w", err)
	}
	return nil
}

func (q *gormQueries) GetSecurityAggregate(ctx context.Context, address string) (*types.SecurityContent, error) {
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

func (q *gormQueries) UpsertPost(ctx context.Context, post types.Post) error {
	m := postModel{ItemHash: post.ItemHash, Ref: post.Ref, Address: post.Address, PostType: post.PostType, Time: post.Time, Content: string(post.Content)}
	err := q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "time"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("rs: upsert post: %w", err)
	}
	return nil
}

func (q *gormQueries) GetPost(ctx context.Context, itemHash string) (*types.Post, error) {
	var m postModel
	err := q.db.WithContext(ctx).Where("item_hash = ?", itemHash).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rs: get post: %w", err)
	}
	return &types.Post{ItemHash: m.ItemHash, Ref: m.Ref, Address: m.Address, PostType: m.PostType, Time: m.Time, Content: []byte(m.Content)}, nil
}

func (q *gormQueries) ListAmendments(ctx context.Context, ref string) ([]types.Post, error) {
	var rows []postModel
	if err := q.db.WithContext(ctx).Where("ref = ?", ref).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("rs: list amendments: %w", err)
	}
	out := make([]types.Post, len(rows))
	for i, r := range rows {
		out[i] = types.Post{ItemHash: r.ItemHash, Ref: r.Ref, Address: r.Address, PostType: r.PostType, Time: r.Time, Content: []byte(r.Content)}
	}
	return out, nil
}

func (q *gormQueries) DeletePost(ctx context.Context, itemHash string) error {
	if err := q.db.WithContext(ctx).Delete(&postModel{}, "item_hash = ?", itemHash).Error; err != nil {
		return fmt.Errorf("rs: delete post: %w", err)
	}
	return nil
}

func (q *gormQueries) GetStoredFileForUpdate(ctx context.Context, hash string) (*types.StoredFile, error) {
	var m storedFileModel
	err := q.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("file_hash = ?", hash).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rs: get stored_file: %w", err)
	}
	return &types.StoredFile{FileHash: m.FileHash, Storage: m.Storage, Size: m.Size, PinCount: m.PinCount, PinDeleteAt: m.PinDeleteAt, LastAccessAt: m.LastAccessAt}, nil
}

func (q *gormQueries) UpsertStoredFile(ctx context.Context, file types.StoredFile) error {
	m := storedFileModel{FileHash: file.FileHash, Storage: file.Storage, Size: file.Size, PinCount: file.PinCount, PinDeleteAt: file.PinDeleteAt, LastAccessAt: file.LastAccessAt}
	err := q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"storage", "size", "pin_count", "pin_delete_at", "last_access_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("rs: upsert stored_file: %w", err)
	}
	return nil
}

func (q *gormQueries) DeleteStoredFile(ctx context.Context, hash string) error {
	if err := q.db.WithContext(ctx).Delete(&storedFileModel{}, "file_hash = ?", hash).Error; err != nil {
		return fmt.Errorf("rs: delete stored_file: %w", err)
	}
	return nil
}

func (q *gormQueries) ListExpiredStoredFiles(ctx context.Context, now time.Time) ([]types.StoredFile, error) {
	var rows []storedFileModel
	err := q.db.WithContext(ctx).Where("pin_count = 0 AND pin_delete_at IS NOT NULL AND pin_delete_at <= ?", now.UTC()).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("rs: list expired stored_file: %w", err)
	}
	out := make([]types.StoredFile, len(rows))
	for i, r := range rows {
		out[i] = types.StoredFile{FileHash: r.FileHash, Storage: r.Storage, Size: r.Size, PinCount: r.PinCount, PinDeleteAt: r.PinDeleteAt, LastAccessAt: r.LastAccessAt}
	}
	return out, nil
}

func (q *gormQueries) ListStoredFilesByLastAccess(ctx context.Context, limit int) ([]types.StoredFile, error) {
	var rows []storedFileModel
	err := q.db.WithContext(ctx).Order("last_access_at ASC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("rs: list stored_file by last access: %w", err)
	}
	out := make([]types.StoredFile, len(rows))
	for i, r := range rows {
		out[i] = types.StoredFile{FileHash: r.FileHash, Storage: r.Storage, Size: r.Size, PinCount: r.PinCount, PinDeleteAt: r.PinDeleteAt, LastAccessAt: r.LastAccessAt}
	}
	return out, nil
}

func (q *gormQueries) UpsertBalance(ctx context.Context, bal types.Balance) error {
	m := balanceModel{Address: bal.Address, Chain: string(bal.Chain), Token: bal.Token, Amount: bal.Amount, LastUpdate: bal.LastUpdate.UTC()}
	err := q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}, {Name: "chain"}, {Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "last_update"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("rs: upsert balance: %w", err)
	}
	return nil
}

func (q *gormQueries) ListBalances(ctx context.Context, address string) ([]types.Balance, error) {
	var rows []balanceModel
	if err := q.db.WithContext(ctx).Where("address = ?", address).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("rs: list balances: %w", err)
	}
	out := make([]types.Balance, len(rows))
	for i, r := range rows {
		out[i] = types.Balance{Address: r.Address, Chain: types.Chain(r.Chain), Token: r.Token, Amount: r.Amount, LastUpdate: r.LastUpdate}
	}
	return out, nil
}

func (q *gormQueries) GetUsageSnapshot(ctx context.Context, address string) (*types.UsageSnapshot, error) {
	var m usageSnapshotModel
	err := q.db.WithContext(ctx).Where("address = ?", address).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rs: get usage_snapshot: %w", err)
	}
	return &types.UsageSnapshot{Address: m.Address, BytesUsed: m.BytesUsed, LastComputedAt: m.LastComputedAt}, nil
}

func (q *gormQueries) SetUsageSnapshot(ctx context.Context, snap types.UsageSnapshot) error {
	m := usageSnapshotModel{Address: snap.Address, BytesUsed: snap.BytesUsed, LastComputedAt: snap.LastComputedAt.UTC()}
	err := q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"bytes_used", "last_computed_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("rs: set usage_snapshot: %w", err)
	}
	return nil
}

func (q *gormQueries) ListUsageSnapshots(ctx context.Context) ([]types.UsageSnapshot, error) {
	var rows []usageSnapshotModel
	if err := q.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("rs: list usage_snapshot: %w", err)
	}
	out := make([]types.UsageSnapshot, len(rows))
	for i, r := range rows {
		out[i] = types.UsageSnapshot{Address: r.Address, BytesUsed: r.BytesUsed, LastComputedAt: r.LastComputedAt}
	}
	return out, nil
}

func (q *gormQueries) UpsertProgram(ctx context.Context, itemHash, sender string, content []byte) error {
	m := programModel{ItemHash: itemHash, Sender: sender, Content: string(content)}
	err := q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"content"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("rs: upsert program: %w", err)
	}
	return nil
}

func (q *gormQueries) SumMessageSizeByAddress(ctx context.Context, address string) (uint64, error) {
	var total uint64
	err := q.db.WithContext(ctx).Model(&messageModel{}).
		Where("address = ? AND forgotten_by IS NULL", address).
		Select("COALESCE(SUM(size), 0)").Row().Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("rs: sum message size by address: %w", err)
	}
	return total, nil
}

func (q *gormQueries) ListKnownAddresses(ctx context.Context) ([]string, error) {
	var addrs []string
	err := q.db.WithContext(ctx).Raw(`
		SELECT address FROM message
		UNION
		SELECT address FROM balance
		UNION
		SELECT address FROM usage_snapshot
	`).Scan(&addrs).Error
	if err != nil {
		return nil, fmt.Errorf("rs: list known addresses: %w", err)
	}
	return addrs, nil
}
