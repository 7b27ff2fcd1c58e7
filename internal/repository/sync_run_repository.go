package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/enum"
	"github.com/mailhoard/mailhoard/internal/models"
	"github.com/mailhoard/mailhoard/internal/utils"
)

type syncRunRepository struct {
	db *gorm.DB
}

func NewSyncRunRepository(db *gorm.DB) interfaces.SyncRunRepository {
	return &syncRunRepository{db: db}
}

func (r *syncRunRepository) StartRun(ctx context.Context, run *models.SyncRun) (int64, error) {
	run.StartedAt = utils.Now()
	run.Status = enum.RunRunning

	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return 0, fmt.Errorf("failed to start run: %w", err)
	}
	return run.ID, nil
}

func (r *syncRunRepository) UpdateRunCounters(ctx context.Context, id int64, total, fetched, skipped, failed int) error {
	err := r.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total":   total,
			"fetched": fetched,
			"skipped": skipped,
			"failed":  failed,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update run counters: %w", err)
	}
	return nil
}

func (r *syncRunRepository) EndRun(ctx context.Context, id int64, status enum.RunStatus, errMsg string) error {
	err := r.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"ended_at": utils.Now(),
			"status":   status,
			"error":    errMsg,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}
	return nil
}

func (r *syncRunRepository) GetRun(ctx context.Context, id int64) (*models.SyncRun, error) {
	var run models.SyncRun
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&run)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", result.Error)
	}
	return &run, nil
}

func (r *syncRunRepository) GetRecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	var runs []models.SyncRun
	err := r.db.WithContext(ctx).
		Order("started_at desc").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get recent runs: %w", err)
	}
	return runs, nil
}

// SweepStaleRuns marks runs stuck in running for longer than olderThan
// as aborted. Called at engine start before the concurrency check.
func (r *syncRunRepository) SweepStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := utils.Now().Add(-olderThan)
	result := r.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("status = ? AND started_at < ?", enum.RunRunning, cutoff).
		Updates(map[string]interface{}{
			"status":   enum.RunAborted,
			"ended_at": utils.Now(),
			"error":    "swept: stale running row",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to sweep stale runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
