package parquet

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mailhoard/mailhoard/internal/database"
	"github.com/mailhoard/mailhoard/internal/enum"
	"github.com/mailhoard/mailhoard/internal/logger"
	"github.com/mailhoard/mailhoard/internal/models"
	"github.com/mailhoard/mailhoard/internal/repository"
	"github.com/mailhoard/mailhoard/internal/utils"
)

func testLogger() logger.Logger {
	log := logger.NewAppLogger(&logger.Config{DevMode: true, LogLevel: "error"})
	log.InitLogger()
	return log
}

func openUIDDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "uids.db"))
	require.NoError(t, err)
	require.NoError(t, repository.MigrateUIDDB(db))
	return db
}

func seedRecords(t *testing.T, db *gorm.DB) {
	t.Helper()
	repos := repository.InitRepositories(db)
	ctx := context.Background()
	for _, r := range []struct {
		folder string
		uid    uint32
		hash   string
	}{
		{"INBOX", 13, "hash13"},
		{"INBOX", 11, "hash11"},
		{"Sent", 2, "hash02"},
	} {
		require.NoError(t, repos.PulledMessageRepository.RecordPull(ctx, &models.PulledMessage{
			Account: "gmail", Folder: r.folder, UIDValidity: 7, UID: r.uid,
			ContentHash: r.hash, PulledAt: utils.Now(), Status: enum.PullNew,
			LocalPath: "somewhere/" + r.hash + ".eml",
		}))
	}
}

func TestExportSortedByKeyColumns(t *testing.T) {
	db := openUIDDB(t)
	seedRecords(t, db)
	repos := repository.InitRepositories(db)

	path := filepath.Join(t.TempDir(), "uids.parquet")
	n, err := Export(context.Background(), repos.PulledMessageRepository, path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := ReadRows(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, UIDRow{"gmail", "INBOX", 7, 11, "hash11"}, rows[0])
	assert.Equal(t, UIDRow{"gmail", "INBOX", 7, 13, "hash13"}, rows[1])
	assert.Equal(t, UIDRow{"gmail", "Sent", 7, 2, "hash02"}, rows[2])
}

func TestImportThenReExportIsIdentical(t *testing.T) {
	srcDB := openUIDDB(t)
	seedRecords(t, srcDB)
	srcRepos := repository.InitRepositories(srcDB)

	dir := t.TempDir()
	first := filepath.Join(dir, "first.parquet")
	_, err := Export(context.Background(), srcRepos.PulledMessageRepository, first, testLogger())
	require.NoError(t, err)

	dstDB := openUIDDB(t)
	dstRepos := repository.InitRepositories(dstDB)
	n, err := Import(context.Background(), first, dstRepos.PulledMessageRepository, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Imported records carry no path or message id yet.
	msg, err := dstRepos.PulledMessageRepository.GetByUID(context.Background(), "gmail", "INBOX", 7, 11)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Empty(t, msg.LocalPath)
	assert.Empty(t, msg.MessageID)

	second := filepath.Join(dir, "second.parquet")
	_, err = Export(context.Background(), dstRepos.PulledMessageRepository, second, testLogger())
	require.NoError(t, err)

	firstRows, err := ReadRows(first)
	require.NoError(t, err)
	secondRows, err := ReadRows(second)
	require.NoError(t, err)
	assert.Equal(t, firstRows, secondRows)
}

func TestCrossReferenceFillsPathsFromIndex(t *testing.T) {
	db := openUIDDB(t)
	repos := repository.InitRepositories(db)
	ctx := context.Background()

	require.NoError(t, repos.PulledMessageRepository.RecordPull(ctx, &models.PulledMessage{
		Account: "gmail", Folder: "INBOX", UIDValidity: 7, UID: 11,
		ContentHash: "hash11", PulledAt: utils.Now(), Status: enum.PullNew,
	}))

	idxDB, err := database.OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	require.NoError(t, repository.MigrateFileIndexDB(idxDB))
	files := repository.NewFileIndexRepository(idxDB)
	require.NoError(t, files.Upsert(ctx, &models.IndexedFile{
		Path: "inbox/2024/a.eml", ContentHash: "hash11",
		MessageID: "<a@x>", Subject: "hello", Mtime: utils.Now(),
	}))

	filled, err := CrossReference(ctx, repos.PulledMessageRepository, files, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, filled)

	msg, err := repos.PulledMessageRepository.GetByUID(ctx, "gmail", "INBOX", 7, 11)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "inbox/2024/a.eml", msg.LocalPath)
	assert.Equal(t, "<a@x>", msg.MessageID)
}
