package failures

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()

	l, err := Load(dir, "gmail", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())

	l.Record(43, "i/o timeout")
	l.Record(42, "connection reset")
	require.NoError(t, l.Save())

	reloaded, err := Load(dir, "gmail", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, []uint32{42, 43}, reloaded.UIDs())
	assert.True(t, reloaded.Has(42))
	assert.False(t, reloaded.Has(99))
}

func TestSortedOutputIsStable(t *testing.T) {
	dir := t.TempDir()

	l, err := Load(dir, "gmail", "INBOX")
	require.NoError(t, err)
	l.Record(300, "x")
	l.Record(5, "y")
	l.Record(40, "z")
	require.NoError(t, l.Save())

	first, err := os.ReadFile(l.Path())
	require.NoError(t, err)

	reloaded, err := Load(dir, "gmail", "INBOX")
	require.NoError(t, err)
	require.NoError(t, reloaded.Save())

	second, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.Equal(t, []uint32{5, 40, 300}, reloaded.UIDs())
}

func TestEmptyLogRemovesFile(t *testing.T) {
	dir := t.TempDir()

	l, err := Load(dir, "gmail", "INBOX")
	require.NoError(t, err)
	l.Record(7, "boom")
	require.NoError(t, l.Save())
	require.FileExists(t, l.Path())

	l.Remove(7)
	require.NoError(t, l.Save())
	assert.NoFileExists(t, l.Path())
}

func TestFilePathSanitizesFolder(t *testing.T) {
	path := FilePath("/tmp/f", "gmail", "[Gmail]/All Mail")
	assert.Contains(t, path, "gmail_gmail_all_mail.yaml")
}
