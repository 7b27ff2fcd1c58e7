package interfaces

import (
	"context"
	"time"

	"github.com/mailhoard/mailhoard/internal/enum"
	"github.com/mailhoard/mailhoard/internal/models"
)

// HourlyCount is one bucket of the pulls-per-hour dashboard query.
type HourlyCount struct {
	Hour  time.Time
	Count int64
}

type PulledMessageRepository interface {
	RecordPull(ctx context.Context, msg *models.PulledMessage) error
	GetByUID(ctx context.Context, account, folder string, uidvalidity, uid uint32) (*models.PulledMessage, error)
	GetPulledUIDs(ctx context.Context, account, folder string, uidvalidity uint32) ([]uint32, error)
	GetUIDsWithoutMessageID(ctx context.Context, account, folder string, uidvalidity uint32) ([]uint32, error)
	HasContentHash(ctx context.Context, hash string) (bool, error)
	GetByContentHash(ctx context.Context, hash string) (*models.PulledMessage, error)
	GetUIDValidity(ctx context.Context, account, folder string) (uint32, bool, error)
	GetByMessageID(ctx context.Context, messageID string) (*models.PulledMessage, error)
	MessageInScope(ctx context.Context, messageID, account, folder string) (bool, error)
	GetReplies(ctx context.Context, messageID string) ([]models.PulledMessage, error)
	GetThreadMembers(ctx context.Context, messageID string) ([]models.PulledMessage, error)
	GetRecentPulls(ctx context.Context, limit int, withPathOnly bool) ([]models.PulledMessage, error)
	GetPullsByHour(ctx context.Context, hours int, account string) ([]HourlyCount, error)
	ProjectionRows(ctx context.Context) ([]models.PulledMessage, error)
	WalkWithPath(ctx context.Context, batch int, fn func([]models.PulledMessage) error) error
	WalkWithoutPath(ctx context.Context, batch int, fn func([]models.PulledMessage) error) error
}

type ServerUIDRepository interface {
	RecordServerUIDs(ctx context.Context, uids []models.ServerUID) error
	GetServerUIDs(ctx context.Context, account, folder string, uidvalidity uint32) ([]uint32, error)
	RecordServerFolder(ctx context.Context, account, folder string, uidvalidity, count uint32) error
	GetServerFolder(ctx context.Context, account, folder string) (*models.ServerFolder, error)
}

type SyncRunRepository interface {
	StartRun(ctx context.Context, run *models.SyncRun) (int64, error)
	UpdateRunCounters(ctx context.Context, id int64, total, fetched, skipped, failed int) error
	EndRun(ctx context.Context, id int64, status enum.RunStatus, errMsg string) error
	GetRun(ctx context.Context, id int64) (*models.SyncRun, error)
	GetRecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
	SweepStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error)
}

type FileIndexRepository interface {
	Upsert(ctx context.Context, file *models.IndexedFile) error
	Delete(ctx context.Context, path string) error
	GetByPath(ctx context.Context, path string) (*models.IndexedFile, error)
	GetByMessageID(ctx context.Context, messageID string) (*models.IndexedFile, error)
	GetByContentHash(ctx context.Context, hash string) (*models.IndexedFile, error)
	AllMessageIDs(ctx context.Context) ([]string, error)
	AllContentHashes(ctx context.Context) ([]string, error)
	ListByDate(ctx context.Context) ([]models.IndexedFile, error)
	Count(ctx context.Context) (int64, error)
	TotalSize(ctx context.Context) (int64, error)
	Truncate(ctx context.Context) error
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}
