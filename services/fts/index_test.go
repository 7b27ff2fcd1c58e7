package fts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/database"
	"github.com/mailhoard/mailhoard/internal/enum"
	"github.com/mailhoard/mailhoard/internal/logger"
	"github.com/mailhoard/mailhoard/internal/models"
	"github.com/mailhoard/mailhoard/internal/repository"
)

// mapScope backs MessageScope with a message_id -> account/folder map.
type mapScope map[string]struct{ account, folder string }

func (m mapScope) MessageInScope(_ context.Context, messageID, account, folder string) (bool, error) {
	rec, ok := m[messageID]
	if !ok {
		return false, nil
	}
	if account != "" && rec.account != account {
		return false, nil
	}
	if folder != "" && rec.folder != folder {
		return false, nil
	}
	return true, nil
}

func openTestIndex(t *testing.T, scope MessageScope) *Index {
	t.Helper()
	log := logger.NewAppLogger(&logger.Config{DevMode: true, LogLevel: "error"})
	log.InitLogger()

	idx, err := Open(filepath.Join(t.TempDir(), "fts.bleve"), scope, log)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func seed(t *testing.T, idx *Index) {
	t.Helper()
	require.NoError(t, idx.Insert("<a@x>", "Quarterly budget review", "numbers look fine", "cfo@corp.example", "team@corp.example"))
	require.NoError(t, idx.Insert("<b@x>", "Lunch plans", "budget sushi place downtown", "alice@corp.example", "bob@corp.example"))
	require.NoError(t, idx.Insert("<c@x>", "Deploy schedule", "rollout friday evening", "ops@corp.example", "team@corp.example"))
}

func TestSearch_Word(t *testing.T) {
	idx := openTestIndex(t, nil)
	seed(t, idx)

	hits, err := idx.Search(context.Background(), "budget", 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	ids := []string{hits[0].MessageID, hits[1].MessageID}
	assert.Contains(t, ids, "<a@x>")
	assert.Contains(t, ids, "<b@x>")
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestSearch_Phrase(t *testing.T) {
	idx := openTestIndex(t, nil)
	seed(t, idx)

	hits, err := idx.Search(context.Background(), `"sushi place"`, 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "<b@x>", hits[0].MessageID)
}

func TestSearch_Boolean(t *testing.T) {
	idx := openTestIndex(t, nil)
	seed(t, idx)

	hits, err := idx.Search(context.Background(), "+budget -sushi", 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "<a@x>", hits[0].MessageID)
}

func TestSearch_AccountFilter(t *testing.T) {
	scope := mapScope{
		"<a@x>": {account: "work", folder: "INBOX"},
		"<b@x>": {account: "personal", folder: "INBOX"},
		"<c@x>": {account: "work", folder: "INBOX/ops"},
	}
	idx := openTestIndex(t, scope)
	seed(t, idx)

	// Both accounts index "budget"; the filter keeps only work's hit.
	hits, err := idx.Search(context.Background(), "budget", 10, 0,
		&interfaces.SearchFilter{Account: "work"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "<a@x>", hits[0].MessageID)

	hits, err = idx.Search(context.Background(), "budget", 10, 0,
		&interfaces.SearchFilter{Account: "personal"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "<b@x>", hits[0].MessageID)

	hits, err = idx.Search(context.Background(), "rollout", 10, 0,
		&interfaces.SearchFilter{Account: "work", Folder: "INBOX/ops"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "<c@x>", hits[0].MessageID)

	hits, err = idx.Search(context.Background(), "budget", 10, 0,
		&interfaces.SearchFilter{Account: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_UIDDBScope(t *testing.T) {
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "uids.db"))
	require.NoError(t, err)
	require.NoError(t, repository.MigrateUIDDB(db))
	repos := repository.InitRepositories(db)

	record := func(messageID, account, folder string, uid uint32) {
		require.NoError(t, repos.PulledMessageRepository.RecordPull(context.Background(), &models.PulledMessage{
			Account:     account,
			Folder:      folder,
			UIDValidity: 1,
			UID:         uid,
			MessageID:   messageID,
			PulledAt:    time.Now().UTC(),
			Status:      enum.PullNew,
		}))
	}
	record("<a@x>", "work", "INBOX", 1)
	record("<b@x>", "personal", "INBOX", 1)
	record("<c@x>", "work", "INBOX/ops", 2)

	idx := openTestIndex(t, repos.PulledMessageRepository)
	seed(t, idx)

	hits, err := idx.Search(context.Background(), "budget", 10, 0,
		&interfaces.SearchFilter{Account: "work"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "<a@x>", hits[0].MessageID)

	// A folder filter also matches messages in its subfolders.
	hits, err = idx.Search(context.Background(), "rollout", 10, 0,
		&interfaces.SearchFilter{Folder: "INBOX"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "<c@x>", hits[0].MessageID)
}

func TestSearch_FilterWithoutScope(t *testing.T) {
	idx := openTestIndex(t, nil)
	seed(t, idx)

	_, err := idx.Search(context.Background(), "budget", 10, 0,
		&interfaces.SearchFilter{Account: "work"})
	require.Error(t, err)

	// An empty filter is the same as no filter.
	hits, err := idx.Search(context.Background(), "budget", 10, 0, &interfaces.SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestInsert_ReplacesByMessageID(t *testing.T) {
	idx := openTestIndex(t, nil)
	require.NoError(t, idx.Insert("<a@x>", "first subject", "", "", ""))
	require.NoError(t, idx.Insert("<a@x>", "second subject", "", "", ""))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	hits, err := idx.Search(context.Background(), "second", 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestExtractBodyText(t *testing.T) {
	raw := []byte("Message-Id: <p@x>\r\nFrom: a@b.c\r\nSubject: hi\r\n" +
		"Content-Type: text/plain\r\n\r\nplain body here\r\n")
	assert.Contains(t, ExtractBodyText(raw), "plain body here")
}
