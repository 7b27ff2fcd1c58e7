package parquet

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/enum"
	"github.com/mailhoard/mailhoard/internal/logger"
	"github.com/mailhoard/mailhoard/internal/models"
	"github.com/mailhoard/mailhoard/internal/utils"
)

// UIDRow is the Git-portable projection of one pulled UID. The schema
// is stable: exactly these five columns, zstd-compressed, sorted by
// the four key columns.
type UIDRow struct {
	Account     string `parquet:"account,zstd"`
	Folder      string `parquet:"folder,zstd"`
	UIDValidity int64  `parquet:"uidvalidity,zstd"`
	UID         int64  `parquet:"uid,zstd"`
	ContentHash string `parquet:"content_hash,zstd"`
}

func sortRows(rows []UIDRow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		if a.Folder != b.Folder {
			return a.Folder < b.Folder
		}
		if a.UIDValidity != b.UIDValidity {
			return a.UIDValidity < b.UIDValidity
		}
		return a.UID < b.UID
	})
}

// Export writes the projection for every record in the UID DB. The
// file is replaced atomically so a crashed export never leaves a torn
// parquet behind.
func Export(ctx context.Context, repo interfaces.PulledMessageRepository, path string, log logger.Logger) (int, error) {
	msgs, err := repo.ProjectionRows(ctx)
	if err != nil {
		return 0, err
	}

	rows := make([]UIDRow, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, UIDRow{
			Account:     m.Account,
			Folder:      m.Folder,
			UIDValidity: int64(m.UIDValidity),
			UID:         int64(m.UID),
			ContentHash: m.ContentHash,
		})
	}
	sortRows(rows)

	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to write parquet %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, err
	}

	log.Infof("exported %d rows to %s", len(rows), path)
	return len(rows), nil
}

// ReadRows loads every projection row from path.
func ReadRows(path string) ([]UIDRow, error) {
	rows, err := parquet.ReadFile[UIDRow](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet %s: %w", path, err)
	}
	return rows, nil
}

// Import rebuilds pulled_messages rows from the projection. message_id
// and local_path stay empty; CrossReference fills them back in from
// the file index.
func Import(ctx context.Context, path string, repo interfaces.PulledMessageRepository, log logger.Logger) (int, error) {
	rows, err := ReadRows(path)
	if err != nil {
		return 0, err
	}

	now := utils.Now()
	for _, row := range rows {
		msg := &models.PulledMessage{
			Account:     row.Account,
			Folder:      row.Folder,
			UIDValidity: uint32(row.UIDValidity),
			UID:         uint32(row.UID),
			ContentHash: row.ContentHash,
			PulledAt:    now,
			Status:      enum.PullNew,
		}
		if err := repo.RecordPull(ctx, msg); err != nil {
			return 0, err
		}
	}

	log.Infof("imported %d rows from %s", len(rows), path)
	return len(rows), nil
}

// CrossReference fills message_id and local_path on imported records
// by matching content hashes against the file index.
func CrossReference(ctx context.Context, repo interfaces.PulledMessageRepository, files interfaces.FileIndexRepository, log logger.Logger) (int, error) {
	// Collect first, update after: updating local_path inside the walk
	// would shift the walk's own result set.
	var pending []models.PulledMessage
	err := repo.WalkWithoutPath(ctx, 200, func(batch []models.PulledMessage) error {
		pending = append(pending, batch...)
		return nil
	})
	if err != nil {
		return 0, err
	}

	var filled int
	for i := range pending {
		m := &pending[i]
		if m.ContentHash == "" {
			continue
		}
		file, err := files.GetByContentHash(ctx, m.ContentHash)
		if err != nil {
			return filled, err
		}
		if file == nil {
			continue
		}
		m.MessageID = file.MessageID
		m.LocalPath = file.Path
		m.Subject = file.Subject
		m.MsgDate = file.Date
		m.FromAddr = file.FromAddr
		m.ToAddr = file.ToAddr
		if err := repo.RecordPull(ctx, m); err != nil {
			return filled, err
		}
		filled++
	}
	log.Infof("cross-referenced %d records against the file index", filled)
	return filled, nil
}

// NewerThan reports whether the parquet projection is newer than the
// database file; a missing database counts as older.
func NewerThan(parquetPath, dbPath string) bool {
	pInfo, err := os.Stat(parquetPath)
	if err != nil {
		return false
	}
	dbInfo, err := os.Stat(dbPath)
	if err != nil {
		return true
	}
	return pInfo.ModTime().After(dbInfo.ModTime())
}
