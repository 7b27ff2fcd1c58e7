package models

import (
	"time"

	"github.com/mailhoard/mailhoard/internal/enum"
)

// SyncRun is one invocation of the pull or push engine.
type SyncRun struct {
	ID        int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Operation enum.Operation `gorm:"column:operation"`
	Account   string         `gorm:"column:account;index"`
	Folder    string         `gorm:"column:folder"`
	Tag       string         `gorm:"column:tag"`
	StartedAt time.Time      `gorm:"column:started_at"`
	EndedAt   *time.Time     `gorm:"column:ended_at"`
	Status    enum.RunStatus `gorm:"column:status;index"`
	Total     int            `gorm:"column:total"`
	Fetched   int            `gorm:"column:fetched"`
	Skipped   int            `gorm:"column:skipped"`
	Failed    int            `gorm:"column:failed"`
	Error     string         `gorm:"column:error"`
}

func (SyncRun) TableName() string {
	return "sync_runs"
}
