package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/models"
)

type fileIndexRepository struct {
	db *gorm.DB
}

func NewFileIndexRepository(db *gorm.DB) interfaces.FileIndexRepository {
	return &fileIndexRepository{db: db}
}

func (r *fileIndexRepository) Upsert(ctx context.Context, file *models.IndexedFile) error {
	result := r.db.WithContext(ctx).
		Model(&models.IndexedFile{}).
		Where("path = ?", file.Path).
		Updates(map[string]interface{}{
			"content_hash": file.ContentHash,
			"message_id":   file.MessageID,
			"date":         file.Date,
			"from_addr":    file.FromAddr,
			"to_addr":      file.ToAddr,
			"subject":      file.Subject,
			"size":         file.Size,
			"mtime":        file.Mtime,
		})

	if result.Error == nil && result.RowsAffected == 0 {
		result = r.db.WithContext(ctx).Create(file)
	}

	if result.Error != nil {
		return fmt.Errorf("failed to upsert indexed file: %w", result.Error)
	}
	return nil
}

func (r *fileIndexRepository) Delete(ctx context.Context, path string) error {
	err := r.db.WithContext(ctx).
		Where("path = ?", path).
		Delete(&models.IndexedFile{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete indexed file: %w", err)
	}
	return nil
}

func (r *fileIndexRepository) GetByPath(ctx context.Context, path string) (*models.IndexedFile, error) {
	return r.first(ctx, "path = ?", path)
}

func (r *fileIndexRepository) GetByMessageID(ctx context.Context, messageID string) (*models.IndexedFile, error) {
	return r.first(ctx, "message_id = ?", messageID)
}

func (r *fileIndexRepository) GetByContentHash(ctx context.Context, hash string) (*models.IndexedFile, error) {
	return r.first(ctx, "content_hash = ?", hash)
}

func (r *fileIndexRepository) first(ctx context.Context, query string, arg interface{}) (*models.IndexedFile, error) {
	var file models.IndexedFile
	result := r.db.WithContext(ctx).Where(query, arg).First(&file)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get indexed file: %w", result.Error)
	}
	return &file, nil
}

func (r *fileIndexRepository) AllMessageIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.IndexedFile{}).
		Where("message_id <> ''").
		Order("message_id asc").
		Pluck("message_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list message ids: %w", err)
	}
	return ids, nil
}

func (r *fileIndexRepository) AllContentHashes(ctx context.Context) ([]string, error) {
	var hashes []string
	err := r.db.WithContext(ctx).
		Model(&models.IndexedFile{}).
		Distinct("content_hash").
		Order("content_hash asc").
		Pluck("content_hash", &hashes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list content hashes: %w", err)
	}
	return hashes, nil
}

// ListByDate returns every indexed file ordered by date ascending with
// path as the tie-break, the push engine's upload order.
func (r *fileIndexRepository) ListByDate(ctx context.Context) ([]models.IndexedFile, error) {
	var files []models.IndexedFile
	err := r.db.WithContext(ctx).
		Order("date asc, path asc").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed files: %w", err)
	}
	return files, nil
}

func (r *fileIndexRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.IndexedFile{}).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count indexed files: %w", err)
	}
	return count, nil
}

func (r *fileIndexRepository) TotalSize(ctx context.Context) (int64, error) {
	var total *int64
	err := r.db.WithContext(ctx).
		Model(&models.IndexedFile{}).
		Select("sum(size)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum file sizes: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func (r *fileIndexRepository) Truncate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.IndexedFile{}).Error; err != nil {
		return fmt.Errorf("failed to truncate file index: %w", err)
	}
	return nil
}

func (r *fileIndexRepository) GetMeta(ctx context.Context, key string) (string, error) {
	var meta models.IndexMeta
	result := r.db.WithContext(ctx).Where("key = ?", key).First(&meta)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", fmt.Errorf("failed to get index meta: %w", result.Error)
	}
	return meta.Value, nil
}

func (r *fileIndexRepository) SetMeta(ctx context.Context, key, value string) error {
	result := r.db.WithContext(ctx).
		Model(&models.IndexMeta{}).
		Where("key = ?", key).
		Update("value", value)

	if result.Error == nil && result.RowsAffected == 0 {
		result = r.db.WithContext(ctx).Create(&models.IndexMeta{Key: key, Value: value})
	}

	if result.Error != nil {
		return fmt.Errorf("failed to set index meta: %w", result.Error)
	}
	return nil
}
