package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	mailhoard_errors "github.com/mailhoard/mailhoard/errors"
	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/database"
	"github.com/mailhoard/mailhoard/internal/models"
	"github.com/mailhoard/mailhoard/internal/repository"
	"github.com/mailhoard/mailhoard/internal/utils"
)

// SQLiteStore keeps every message in one msgs.db file. Metadata is
// denormalized onto the row so listing never decodes raw bytes.
type SQLiteStore struct {
	db   *gorm.DB
	path string
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := database.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if err := repository.MigrateMessageDB(db); err != nil {
		return nil, &mailhoard_errors.SchemaError{DB: dbPath, Err: err}
	}
	return &SQLiteStore{db: db, path: dbPath}, nil
}

var _ interfaces.MessageStore = (*SQLiteStore)(nil)

func (s *SQLiteStore) Add(ctx context.Context, msg *interfaces.AddMessage) (string, error) {
	messageID := msg.MessageID
	hash := utils.ContentHash(msg.Raw)
	if messageID == "" {
		messageID = utils.SyntheticMessageID(hash)
	}

	row := models.StoredMessage{
		MessageID:   messageID,
		Raw:         msg.Raw,
		ContentHash: hash,
		Folder:      msg.Folder,
		Date:        msg.Date,
		FromAddr:    msg.From,
		ToAddr:      msg.To,
		Cc:          msg.Cc,
		Subject:     msg.Subject,
		SourceUID:   msg.SourceUID,
		Size:        int64(len(msg.Raw)),
		CreatedAt:   utils.Now(),
	}

	var existing models.StoredMessage
	err := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		First(&existing).Error
	if err == nil {
		if existing.ContentHash == hash {
			return s.path, nil
		}
		if err := s.db.WithContext(ctx).
			Model(&models.StoredMessage{}).
			Where("message_id = ?", messageID).
			Updates(&row).Error; err != nil {
			return "", fmt.Errorf("failed to update message %s: %w", messageID, err)
		}
		return s.path, nil
	}
	if err != gorm.ErrRecordNotFound {
		return "", fmt.Errorf("failed to look up message %s: %w", messageID, err)
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to store message %s: %w", messageID, err)
	}
	return s.path, nil
}

func (s *SQLiteStore) Get(ctx context.Context, messageID string) (*models.StoredMessage, error) {
	var row models.StoredMessage
	err := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *SQLiteStore) Has(ctx context.Context, messageID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.StoredMessage{}).
		Where("message_id = ?", messageID).
		Count(&count).Error
	return count > 0, err
}

func (s *SQLiteStore) HasContent(ctx context.Context, raw []byte) (string, bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.StoredMessage{}).
		Where("content_hash = ?", utils.ContentHash(raw)).
		Count(&count).Error
	if err != nil || count == 0 {
		return "", false, err
	}
	return s.path, true, nil
}

func (s *SQLiteStore) Iter(ctx context.Context, filter *interfaces.IterFilter, fn func(*models.StoredMessage) error) error {
	query := s.db.WithContext(ctx).Model(&models.StoredMessage{})
	if filter != nil {
		if filter.Folder != "" {
			query = query.Where("folder = ? OR folder LIKE ?", filter.Folder, filter.Folder+"/%")
		}
		if filter.StartDate != nil {
			query = query.Where("date >= ?", filter.StartDate)
		}
		if filter.EndDate != nil {
			query = query.Where("date < ?", filter.EndDate)
		}
	}

	var batch []models.StoredMessage
	result := query.FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
		for i := range batch {
			if err := fn(&batch[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return result.Error
}

func (s *SQLiteStore) Count(ctx context.Context, folder string) (int64, error) {
	query := s.db.WithContext(ctx).Model(&models.StoredMessage{})
	if folder != "" {
		query = query.Where("folder = ? OR folder LIKE ?", folder, folder+"/%")
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
