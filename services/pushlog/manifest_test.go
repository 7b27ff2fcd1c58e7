package pushlog

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_RoundTripSorted(t *testing.T) {
	dir := t.TempDir()

	m, err := LoadManifest(dir, "gmail")
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())

	m.Add("<zeta@x>")
	m.Add("<alpha@x>")
	m.Add("<mid@x>")
	require.NoError(t, m.Save())

	data, err := os.ReadFile(ManifestPath(dir, "gmail"))
	require.NoError(t, err)
	assert.Equal(t, "<alpha@x>\n<mid@x>\n<zeta@x>\n", string(data))

	reloaded, err := LoadManifest(dir, "gmail")
	require.NoError(t, err)
	assert.True(t, reloaded.Contains("<mid@x>"))
	assert.False(t, reloaded.Contains("<other@x>"))
	assert.Equal(t, 3, reloaded.Len())
}

func TestManifest_AddIsIdempotent(t *testing.T) {
	m, err := LoadManifest(t.TempDir(), "gmail")
	require.NoError(t, err)
	m.Add("<a@x>")
	m.Add("<a@x>")
	assert.Equal(t, 1, m.Len())
}

func TestUploadsLog(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, AppendUpload(dir, UploadRecord{
		Account: "gmail", MessageID: "<a@x>", Subject: "tab\there", Path: "inbox/a.eml",
	}))
	require.NoError(t, AppendUpload(dir, UploadRecord{
		Account: "gmail", MessageID: "<b@x>", Subject: "second",
	}))

	recent, err := RecentUploads(dir, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "<b@x>", recent[0].MessageID)
	assert.Equal(t, "<a@x>", recent[1].MessageID)
	assert.Equal(t, "tab here", recent[1].Subject)
	assert.Equal(t, "inbox/a.eml", recent[1].Path)

	limited, err := RecentUploads(dir, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "<b@x>", limited[0].MessageID)
}

func TestRecentUploads_MissingFile(t *testing.T) {
	recent, err := RecentUploads(t.TempDir(), 5)
	require.NoError(t, err)
	assert.Nil(t, recent)
}
