package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/models"
	"github.com/mailhoard/mailhoard/internal/utils"
)

type serverUIDRepository struct {
	db *gorm.DB
}

func NewServerUIDRepository(db *gorm.DB) interfaces.ServerUIDRepository {
	return &serverUIDRepository{db: db}
}

const serverUIDBatchSize = 500

// RecordServerUIDs upserts the snapshot of a UID SEARCH ALL in batches.
func (r *serverUIDRepository) RecordServerUIDs(ctx context.Context, uids []models.ServerUID) error {
	if len(uids) == 0 {
		return nil
	}

	now := utils.Now()
	for i := range uids {
		uids[i].LastSeen = now
	}

	for start := 0; start < len(uids); start += serverUIDBatchSize {
		end := start + serverUIDBatchSize
		if end > len(uids) {
			end = len(uids)
		}
		err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "account"}, {Name: "folder"},
					{Name: "uidvalidity"}, {Name: "uid"},
				},
				DoUpdates: clause.AssignmentColumns([]string{"message_id", "last_seen"}),
			}).
			Create(uids[start:end]).Error
		if err != nil {
			return fmt.Errorf("failed to record server uids: %w", err)
		}
	}
	return nil
}

func (r *serverUIDRepository) GetServerUIDs(ctx context.Context, account, folder string, uidvalidity uint32) ([]uint32, error) {
	var uids []uint32
	err := r.db.WithContext(ctx).
		Model(&models.ServerUID{}).
		Where("account = ? AND folder = ? AND uidvalidity = ?", account, folder, uidvalidity).
		Order("uid asc").
		Pluck("uid", &uids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get server uids: %w", err)
	}
	return uids, nil
}

func (r *serverUIDRepository) RecordServerFolder(ctx context.Context, account, folder string, uidvalidity, count uint32) error {
	result := r.db.WithContext(ctx).
		Model(&models.ServerFolder{}).
		Where("account = ? AND folder = ?", account, folder).
		Updates(map[string]interface{}{
			"uidvalidity":   uidvalidity,
			"message_count": count,
			"last_checked":  utils.Now(),
		})

	if result.Error == nil && result.RowsAffected == 0 {
		result = r.db.WithContext(ctx).Create(&models.ServerFolder{
			Account:      account,
			Folder:       folder,
			UIDValidity:  uidvalidity,
			MessageCount: count,
			LastChecked:  utils.Now(),
		})
	}

	if result.Error != nil {
		return fmt.Errorf("failed to record server folder: %w", result.Error)
	}
	return nil
}

func (r *serverUIDRepository) GetServerFolder(ctx context.Context, account, folder string) (*models.ServerFolder, error) {
	var snapshot models.ServerFolder
	result := r.db.WithContext(ctx).
		Where("account = ? AND folder = ?", account, folder).
		First(&snapshot)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get server folder: %w", result.Error)
	}
	return &snapshot, nil
}
