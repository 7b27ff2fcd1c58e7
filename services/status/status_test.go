package status

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailhoard_errors "github.com/mailhoard/mailhoard/errors"
	"github.com/mailhoard/mailhoard/internal/enum"
)

func statusPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "sync-status.json")
}

func TestAcquireUpdateRelease(t *testing.T) {
	path := statusPath(t)

	w, err := Acquire(path, enum.OperationPull, "gmail", "INBOX")
	require.NoError(t, err)

	require.NoError(t, w.Update(10, 3, 1, 0, "Quarterly budget"))

	s, err := Read(path)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, os.Getpid(), s.PID)
	assert.Equal(t, enum.OperationPull, s.Operation)
	assert.Equal(t, "gmail", s.Account)
	assert.Equal(t, 10, s.Total)
	assert.Equal(t, 3, s.Completed)
	assert.Equal(t, "Quarterly budget", s.CurrentSubject)

	w.Release()
	s, err = Read(path)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestAcquire_RefusedWhileHolderAlive(t *testing.T) {
	path := statusPath(t)

	w, err := Acquire(path, enum.OperationPull, "gmail", "INBOX")
	require.NoError(t, err)
	defer w.Release()

	_, err = Acquire(path, enum.OperationPush, "zoho", "INBOX")
	require.Error(t, err)

	var ce *mailhoard_errors.ConcurrencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, os.Getpid(), ce.PID)
	assert.Equal(t, "pull", ce.Operation)
	assert.Equal(t, mailhoard_errors.ExitConcurrent, mailhoard_errors.ExitCode(err))
}

func TestAcquire_StealsFromDeadPID(t *testing.T) {
	path := statusPath(t)

	// Write a status file for a PID that cannot exist.
	stale := `{"pid": 4194999, "operation": "pull", "account": "old", "folder": "INBOX", "started": "2024-01-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(stale), 0o644))

	w, err := Acquire(path, enum.OperationPull, "gmail", "INBOX")
	require.NoError(t, err)
	defer w.Release()

	s, err := Read(path)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "gmail", s.Account)
}

func TestRead_ToleratesPartialWrites(t *testing.T) {
	path := statusPath(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"pid": 12, "oper`), 0o644))

	s, err := Read(path)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestRead_MissingFile(t *testing.T) {
	s, err := Read(statusPath(t))
	require.NoError(t, err)
	assert.Nil(t, s)
}
