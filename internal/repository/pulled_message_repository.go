package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/enum"
	"github.com/mailhoard/mailhoard/internal/models"
)

type pulledMessageRepository struct {
	db *gorm.DB
}

func NewPulledMessageRepository(db *gorm.DB) interfaces.PulledMessageRepository {
	return &pulledMessageRepository{db: db}
}

// RecordPull upserts on (account, folder, uidvalidity, uid). Re-pulling
// the same tuple overwrites the previous outcome.
func (r *pulledMessageRepository) RecordPull(ctx context.Context, msg *models.PulledMessage) error {
	result := r.db.WithContext(ctx).
		Model(&models.PulledMessage{}).
		Where("account = ? AND folder = ? AND uidvalidity = ? AND uid = ?",
			msg.Account, msg.Folder, msg.UIDValidity, msg.UID).
		Updates(map[string]interface{}{
			"content_hash": msg.ContentHash,
			"message_id":   msg.MessageID,
			"local_path":   msg.LocalPath,
			"pulled_at":    msg.PulledAt,
			"subject":      msg.Subject,
			"msg_date":     msg.MsgDate,
			"status":       msg.Status,
			"sync_run_id":  msg.SyncRunID,
			"error":        msg.Error,
			"in_reply_to":  msg.InReplyTo,
			"references":   msg.References,
			"from_addr":    msg.FromAddr,
			"to_addr":      msg.ToAddr,
		})

	if result.Error == nil && result.RowsAffected == 0 {
		result = r.db.WithContext(ctx).Create(msg)
	}

	if result.Error != nil {
		return fmt.Errorf("failed to record pull: %w", result.Error)
	}
	return nil
}

func (r *pulledMessageRepository) GetByUID(ctx context.Context, account, folder string, uidvalidity, uid uint32) (*models.PulledMessage, error) {
	var msg models.PulledMessage
	result := r.db.WithContext(ctx).
		Where("account = ? AND folder = ? AND uidvalidity = ? AND uid = ?",
			account, folder, uidvalidity, uid).
		First(&msg)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pulled message: %w", result.Error)
	}
	return &msg, nil
}

func (r *pulledMessageRepository) GetPulledUIDs(ctx context.Context, account, folder string, uidvalidity uint32) ([]uint32, error) {
	var uids []uint32
	err := r.db.WithContext(ctx).
		Model(&models.PulledMessage{}).
		Where("account = ? AND folder = ? AND uidvalidity = ? AND status <> ?",
			account, folder, uidvalidity, enum.PullFailed).
		Order("uid asc").
		Pluck("uid", &uids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get pulled uids: %w", err)
	}
	return uids, nil
}

func (r *pulledMessageRepository) GetUIDsWithoutMessageID(ctx context.Context, account, folder string, uidvalidity uint32) ([]uint32, error) {
	var uids []uint32
	err := r.db.WithContext(ctx).
		Model(&models.PulledMessage{}).
		Where("account = ? AND folder = ? AND uidvalidity = ? AND (message_id IS NULL OR message_id = '')",
			account, folder, uidvalidity).
		Order("uid asc").
		Pluck("uid", &uids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get uids without message id: %w", err)
	}
	return uids, nil
}

func (r *pulledMessageRepository) HasContentHash(ctx context.Context, hash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PulledMessage{}).
		Where("content_hash = ?", hash).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check content hash: %w", err)
	}
	return count > 0, nil
}

// GetByContentHash returns a pulled record for hash that has a local
// path, so deduped records can point at the existing file.
func (r *pulledMessageRepository) GetByContentHash(ctx context.Context, hash string) (*models.PulledMessage, error) {
	var msg models.PulledMessage
	result := r.db.WithContext(ctx).
		Where("content_hash = ? AND local_path <> ''", hash).
		Order("pulled_at asc").
		First(&msg)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get by content hash: %w", result.Error)
	}
	return &msg, nil
}

// GetUIDValidity returns the most frequent uidvalidity recorded for the
// folder; ties go to the higher (newer) value. The server_folders
// snapshot participates with one vote.
func (r *pulledMessageRepository) GetUIDValidity(ctx context.Context, account, folder string) (uint32, bool, error) {
	type vote struct {
		UIDValidity uint32
		C           int64
	}
	var votes []vote
	err := r.db.WithContext(ctx).
		Model(&models.PulledMessage{}).
		Select("uidvalidity, count(*) as c").
		Where("account = ? AND folder = ?", account, folder).
		Group("uidvalidity").
		Scan(&votes).Error
	if err != nil {
		return 0, false, fmt.Errorf("failed to count uidvalidity votes: %w", err)
	}

	tally := make(map[uint32]int64)
	for _, v := range votes {
		tally[v.UIDValidity] = v.C
	}

	var snapshot models.ServerFolder
	result := r.db.WithContext(ctx).
		Where("account = ? AND folder = ?", account, folder).
		First(&snapshot)
	if result.Error == nil {
		tally[snapshot.UIDValidity]++
	} else if result.Error != gorm.ErrRecordNotFound {
		return 0, false, fmt.Errorf("failed to read folder snapshot: %w", result.Error)
	}

	if len(tally) == 0 {
		return 0, false, nil
	}

	var best uint32
	var bestCount int64 = -1
	for v, c := range tally {
		if c > bestCount || (c == bestCount && v > best) {
			best, bestCount = v, c
		}
	}
	return best, true, nil
}

func (r *pulledMessageRepository) GetByMessageID(ctx context.Context, messageID string) (*models.PulledMessage, error) {
	var msg models.PulledMessage
	result := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		First(&msg)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get by message id: %w", result.Error)
	}
	return &msg, nil
}

// MessageInScope reports whether messageID was pulled under account
// and folder. Empty account or folder means no constraint on that
// column; folder matches the folder itself or any subfolder.
func (r *pulledMessageRepository) MessageInScope(ctx context.Context, messageID, account, folder string) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&models.PulledMessage{}).
		Where("message_id = ?", messageID)
	if account != "" {
		query = query.Where("account = ?", account)
	}
	if folder != "" {
		query = query.Where("folder = ? OR folder LIKE ?", folder, folder+"/%")
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check message scope: %w", err)
	}
	return count > 0, nil
}

// GetReplies returns direct replies: messages whose In-Reply-To equals
// messageID, date ascending.
func (r *pulledMessageRepository) GetReplies(ctx context.Context, messageID string) ([]models.PulledMessage, error) {
	var msgs []models.PulledMessage
	err := r.db.WithContext(ctx).
		Where("in_reply_to = ?", messageID).
		Order("msg_date asc").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get replies: %w", err)
	}
	return msgs, nil
}

// GetThreadMembers returns the message itself, direct replies, and any
// message whose References chain contains messageID, date ascending.
func (r *pulledMessageRepository) GetThreadMembers(ctx context.Context, messageID string) ([]models.PulledMessage, error) {
	var msgs []models.PulledMessage
	err := r.db.WithContext(ctx).
		Where("message_id = ? OR in_reply_to = ? OR \"references\" LIKE ?",
			messageID, messageID, "%"+messageID+"%").
		Order("msg_date asc").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get thread members: %w", err)
	}
	return msgs, nil
}

func (r *pulledMessageRepository) GetRecentPulls(ctx context.Context, limit int, withPathOnly bool) ([]models.PulledMessage, error) {
	query := r.db.WithContext(ctx).Model(&models.PulledMessage{})
	if withPathOnly {
		query = query.Where("local_path <> ''")
	}

	var msgs []models.PulledMessage
	err := query.Order("pulled_at desc").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get recent pulls: %w", err)
	}
	return msgs, nil
}

func (r *pulledMessageRepository) GetPullsByHour(ctx context.Context, hours int, account string) ([]interfaces.HourlyCount, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	query := r.db.WithContext(ctx).
		Model(&models.PulledMessage{}).
		Select("strftime('%Y-%m-%d %H:00:00', pulled_at) as hour, count(*) as count").
		Where("pulled_at >= ?", cutoff)
	if account != "" {
		query = query.Where("account = ?", account)
	}

	type bucket struct {
		Hour  string
		Count int64
	}
	var buckets []bucket
	if err := query.Group("hour").Order("hour asc").Scan(&buckets).Error; err != nil {
		return nil, fmt.Errorf("failed to get pulls by hour: %w", err)
	}

	counts := make([]interfaces.HourlyCount, 0, len(buckets))
	for _, b := range buckets {
		t, err := time.ParseInLocation("2006-01-02 15:04:05", b.Hour, time.UTC)
		if err != nil {
			continue
		}
		counts = append(counts, interfaces.HourlyCount{Hour: t, Count: b.Count})
	}
	return counts, nil
}

// ProjectionRows returns every record, ordered by the four key columns,
// for the parquet export.
func (r *pulledMessageRepository) ProjectionRows(ctx context.Context) ([]models.PulledMessage, error) {
	var msgs []models.PulledMessage
	err := r.db.WithContext(ctx).
		Order("account asc, folder asc, uidvalidity asc, uid asc").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read projection rows: %w", err)
	}
	return msgs, nil
}

// WalkWithoutPath streams records missing a local path, in batches,
// so an index cross-reference pass can repopulate them after a parquet
// import.
func (r *pulledMessageRepository) WalkWithoutPath(ctx context.Context, batch int, fn func([]models.PulledMessage) error) error {
	var msgs []models.PulledMessage
	result := r.db.WithContext(ctx).
		Where("local_path IS NULL OR local_path = ''").
		FindInBatches(&msgs, batch, func(tx *gorm.DB, _ int) error {
			return fn(msgs)
		})
	if result.Error != nil {
		return fmt.Errorf("failed to walk pulled messages: %w", result.Error)
	}
	return nil
}

// WalkWithPath streams records that have a local path, in batches, for
// the FTS backfill.
func (r *pulledMessageRepository) WalkWithPath(ctx context.Context, batch int, fn func([]models.PulledMessage) error) error {
	var msgs []models.PulledMessage
	result := r.db.WithContext(ctx).
		Where("local_path <> ''").
		FindInBatches(&msgs, batch, func(tx *gorm.DB, _ int) error {
			return fn(msgs)
		})
	if result.Error != nil {
		return fmt.Errorf("failed to walk pulled messages: %w", result.Error)
	}
	return nil
}
