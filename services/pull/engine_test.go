package pull

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailhoard/mailhoard/config"
	mailhoard_errors "github.com/mailhoard/mailhoard/errors"
	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/database"
	"github.com/mailhoard/mailhoard/internal/enum"
	"github.com/mailhoard/mailhoard/internal/logger"
	"github.com/mailhoard/mailhoard/internal/models"
	"github.com/mailhoard/mailhoard/internal/repository"
	"github.com/mailhoard/mailhoard/internal/utils"
	"github.com/mailhoard/mailhoard/services/failures"
	"github.com/mailhoard/mailhoard/services/status"
)

// fakeSource is an in-memory IMAP server for engine tests.
type fakeSource struct {
	uidvalidity uint32
	uids        []uint32
	raw         map[uint32][]byte
	headers     map[uint32]*interfaces.MessageHeaders

	headerErr map[uint32]error
	rawErr    map[uint32]error

	headerAttempts []uint32
	onFetchHeaders func(uid uint32)
}

func newFakeSource(uidvalidity uint32) *fakeSource {
	return &fakeSource{
		uidvalidity: uidvalidity,
		raw:         map[uint32][]byte{},
		headers:     map[uint32]*interfaces.MessageHeaders{},
		headerErr:   map[uint32]error{},
		rawErr:      map[uint32]error{},
	}
}

func (f *fakeSource) addMessage(uid uint32, messageID, subject string) {
	raw := []byte(fmt.Sprintf(
		"Message-Id: <%s>\r\nFrom: a@x.com\r\nTo: b@x.com\r\nSubject: %s\r\n"+
			"Date: Mon, 01 Apr 2024 09:00:00 +0000\r\n\r\nbody of %s\r\n",
		messageID, subject, subject))
	f.addRaw(uid, messageID, subject, raw)
}

func (f *fakeSource) addRaw(uid uint32, messageID, subject string, raw []byte) {
	date := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	f.uids = append(f.uids, uid)
	f.raw[uid] = raw
	f.headers[uid] = &interfaces.MessageHeaders{
		UID:       uid,
		MessageID: "<" + messageID + ">",
		Date:      &date,
		From:      "a@x.com",
		To:        "b@x.com",
		Subject:   subject,
	}
}

func (f *fakeSource) Connect() error { return nil }
func (f *fakeSource) Logout() error { return nil }

func (f *fakeSource) ListFolders() ([]interfaces.FolderInfo, error) { return nil, nil }

func (f *fakeSource) Select(folder string, readonly bool) (uint32, uint32, error) {
	return uint32(len(f.uids)), f.uidvalidity, nil
}

func (f *fakeSource) UIDSearchAll() ([]uint32, error) {
	return append([]uint32(nil), f.uids...), nil
}

func (f *fakeSource) FetchHeaders(uid uint32) (*interfaces.MessageHeaders, error) {
	f.headerAttempts = append(f.headerAttempts, uid)
	if f.onFetchHeaders != nil {
		f.onFetchHeaders(uid)
	}
	if err := f.headerErr[uid]; err != nil {
		return nil, err
	}
	h, ok := f.headers[uid]
	if !ok {
		return nil, mailhoard_errors.NewImapTransient("fetch headers", fmt.Errorf("no such uid %d", uid))
	}
	return h, nil
}

func (f *fakeSource) FetchRaw(uid uint32) ([]byte, error) {
	if err := f.rawErr[uid]; err != nil {
		return nil, err
	}
	return f.raw[uid], nil
}

func (f *fakeSource) Append(folder string, raw []byte, internalDate *time.Time) error { return nil }

// fakeStore is an in-memory MessageStore with content dedup.
type fakeStore struct {
	byHash map[string]string
	byID   map[string][]byte
	writes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byHash: map[string]string{}, byID: map[string][]byte{}}
}

func (s *fakeStore) Add(ctx context.Context, msg *interfaces.AddMessage) (string, error) {
	path := fmt.Sprintf("%s/%d.eml", msg.Folder, msg.SourceUID)
	s.byHash[utils.ContentHash(msg.Raw)] = path
	s.byID[msg.MessageID] = msg.Raw
	s.writes++
	return path, nil
}

func (s *fakeStore) Get(ctx context.Context, messageID string) (*models.StoredMessage, error) {
	raw, ok := s.byID[messageID]
	if !ok {
		return nil, nil
	}
	return &models.StoredMessage{MessageID: messageID, Raw: raw}, nil
}

func (s *fakeStore) Has(ctx context.Context, messageID string) (bool, error) {
	_, ok := s.byID[messageID]
	return ok, nil
}

func (s *fakeStore) HasContent(ctx context.Context, raw []byte) (string, bool, error) {
	path, ok := s.byHash[utils.ContentHash(raw)]
	return path, ok, nil
}

func (s *fakeStore) Iter(ctx context.Context, filter *interfaces.IterFilter, fn func(*models.StoredMessage) error) error {
	return nil
}

func (s *fakeStore) Count(ctx context.Context, folder string) (int64, error) {
	return int64(len(s.byID)), nil
}

func (s *fakeStore) Close() error { return nil }

type harness struct {
	engine *Engine
	source *fakeSource
	store  *fakeStore
	repos  *repository.Repositories
	paths  config.Paths
}

func newHarness(t *testing.T, source *fakeSource) *harness {
	t.Helper()

	paths := config.Paths{Root: t.TempDir()}
	require.NoError(t, paths.EnsureStateDir())

	db, err := database.OpenSQLite(filepath.Join(paths.StateDir(), "uids.db"))
	require.NoError(t, err)
	require.NoError(t, repository.MigrateUIDDB(db))
	repos := repository.InitRepositories(db)

	log := logger.NewAppLogger(&logger.Config{DevMode: true, LogLevel: "error"})
	log.InitLogger()

	account := &config.Account{Name: "gmail", Type: enum.AccountGmail, User: "u", Password: "p"}
	st := newFakeStore()
	return &harness{
		engine: NewEngine(account, source, repos, st, nil, nil, paths, log),
		source: source,
		store:  st,
		repos:  repos,
		paths:  paths,
	}
}

func TestFreshPullTinyFolder(t *testing.T) {
	source := newFakeSource(7)
	source.addMessage(11, "m11@x", "first")
	source.addMessage(12, "m12@x", "second")
	source.addMessage(13, "m13@x", "third")

	h := newHarness(t, source)
	summary, err := h.engine.Run(context.Background(), Options{Folder: "INBOX"})
	require.NoError(t, err)

	assert.Equal(t, enum.RunCompleted, summary.Status)
	assert.Equal(t, 3, summary.Found)
	assert.Equal(t, 3, summary.Migrated)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 3, h.store.writes)

	ctx := context.Background()
	for _, uid := range []uint32{11, 12, 13} {
		msg, err := h.repos.PulledMessageRepository.GetByUID(ctx, "gmail", "INBOX", 7, uid)
		require.NoError(t, err)
		require.NotNil(t, msg, "uid %d", uid)
		assert.Equal(t, enum.PullNew, msg.Status)
		assert.NotEmpty(t, msg.LocalPath)
	}

	run, err := h.repos.SyncRunRepository.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, enum.RunCompleted, run.Status)
	assert.Equal(t, 3, run.Total)
	assert.Equal(t, 3, run.Fetched)

	// status file cleared on exit
	s, err := status.Read(h.paths.StatusFile())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestDuplicateContentAcrossFolders(t *testing.T) {
	raw := []byte("Message-Id: <dup@x>\r\nFrom: a@x.com\r\nSubject: same\r\n\r\nsame bytes\r\n")

	sourceA := newFakeSource(7)
	sourceA.addRaw(5, "dup@x", "same", raw)
	h := newHarness(t, sourceA)

	_, err := h.engine.Run(context.Background(), Options{Folder: "A"})
	require.NoError(t, err)
	require.Equal(t, 1, h.store.writes)

	first, err := h.repos.PulledMessageRepository.GetByUID(context.Background(), "gmail", "A", 7, 5)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Second folder, different UID, same bytes, same store.
	sourceB := newFakeSource(7)
	sourceB.addRaw(9, "dup@x", "same", raw)
	h.engine.source = sourceB

	summary, err := h.engine.Run(context.Background(), Options{Folder: "B"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Migrated)
	assert.Equal(t, 1, h.store.writes)

	second, err := h.repos.PulledMessageRepository.GetByUID(context.Background(), "gmail", "B", 7, 9)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, enum.PullSkipped, second.Status)
	assert.Equal(t, first.LocalPath, second.LocalPath)
	assert.Equal(t, first.ContentHash, second.ContentHash)
}

func TestUIDValidityChangeStartsFreshEpoch(t *testing.T) {
	source := newFakeSource(7)
	source.addMessage(1, "e1@x", "one")
	source.addMessage(2, "e2@x", "two")
	source.addMessage(3, "e3@x", "three")

	h := newHarness(t, source)
	_, err := h.engine.Run(context.Background(), Options{Folder: "INBOX"})
	require.NoError(t, err)

	// Server re-assigns UIDs under a new epoch.
	reborn := newFakeSource(8)
	reborn.addMessage(1, "n1@x", "new one")
	reborn.addMessage(2, "n2@x", "new two")
	h.engine.source = reborn

	summary, err := h.engine.Run(context.Background(), Options{Folder: "INBOX"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Found)
	assert.Equal(t, 2, summary.Migrated)

	ctx := context.Background()
	// Old epoch records survive untouched.
	old, err := h.repos.PulledMessageRepository.GetPulledUIDs(ctx, "gmail", "INBOX", 7)
	require.NoError(t, err)
	assert.Len(t, old, 3)

	v, ok, err := h.repos.PulledMessageRepository.GetUIDValidity(ctx, "gmail", "INBOX")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(8), v)
}

func TestConsecutiveErrorAbort(t *testing.T) {
	source := newFakeSource(7)
	source.addMessage(1, "a@x", "one")
	source.addMessage(2, "b@x", "two")
	source.addMessage(3, "c@x", "three")
	source.addMessage(4, "d@x", "four")
	source.addMessage(5, "e@x", "five")
	for _, uid := range []uint32{1, 2, 3} {
		source.headerErr[uid] = mailhoard_errors.NewImapTransient("fetch", fmt.Errorf("connection reset"))
	}

	h := newHarness(t, source)
	summary, err := h.engine.Run(context.Background(), Options{Folder: "INBOX", MaxErrors: 3})
	require.NoError(t, err)

	assert.Equal(t, enum.RunAborted, summary.Status)
	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, []uint32{1, 2, 3}, source.headerAttempts)

	flog, err := failures.Load(h.paths.FailuresDir(), "gmail", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, flog.UIDs())

	run, err := h.repos.SyncRunRepository.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, enum.RunAborted, run.Status)
}

func TestRetryOnlyAttemptsFailureLogUIDs(t *testing.T) {
	source := newFakeSource(7)
	source.addMessage(41, "a@x", "untouched")
	source.addMessage(42, "b@x", "flaky one")
	source.addMessage(43, "c@x", "flaky two")

	h := newHarness(t, source)

	flog, err := failures.Load(h.paths.FailuresDir(), "gmail", "INBOX")
	require.NoError(t, err)
	flog.Record(42, "i/o timeout")
	flog.Record(43, "i/o timeout")
	require.NoError(t, flog.Save())

	summary, err := h.engine.Run(context.Background(), Options{Folder: "INBOX", Retry: true})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Found)
	assert.Equal(t, 2, summary.Migrated)
	assert.Equal(t, []uint32{42, 43}, source.headerAttempts)

	// Successful retries vanish from the log.
	reloaded, err := failures.Load(h.paths.FailuresDir(), "gmail", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.Len())
}

func TestRetryKeepsFailingUIDs(t *testing.T) {
	source := newFakeSource(7)
	source.addMessage(42, "b@x", "still broken")
	source.headerErr[42] = mailhoard_errors.NewImapTransient("fetch", fmt.Errorf("i/o timeout"))

	h := newHarness(t, source)
	flog, err := failures.Load(h.paths.FailuresDir(), "gmail", "INBOX")
	require.NoError(t, err)
	flog.Record(42, "first failure")
	require.NoError(t, flog.Save())

	_, err = h.engine.Run(context.Background(), Options{Folder: "INBOX", Retry: true})
	require.NoError(t, err)

	reloaded, err := failures.Load(h.paths.FailuresDir(), "gmail", "INBOX")
	require.NoError(t, err)
	assert.True(t, reloaded.Has(42))
}

func TestEmptyFilterIsConfigError(t *testing.T) {
	source := newFakeSource(7)
	source.addMessage(1, "a@x", "one")

	h := newHarness(t, source)
	h.engine.account.Filter = &config.Filter{}

	_, err := h.engine.Run(context.Background(), Options{Folder: "INBOX"})
	require.Error(t, err)
	assert.ErrorIs(t, err, mailhoard_errors.ErrEmptyFilter)
	assert.Equal(t, mailhoard_errors.ExitUserError, mailhoard_errors.ExitCode(err))
	assert.Empty(t, source.headerAttempts)

	// Refused before the lock was taken.
	s, err := status.Read(h.paths.StatusFile())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestStatusFileReflectsFailuresLive(t *testing.T) {
	source := newFakeSource(7)
	source.addMessage(1, "a@x", "broken")
	source.addMessage(2, "b@x", "fine")
	source.headerErr[1] = mailhoard_errors.NewImapTransient("fetch", fmt.Errorf("connection reset"))

	h := newHarness(t, source)

	failedSeen := -1
	source.onFetchHeaders = func(uid uint32) {
		if uid != 2 {
			return
		}
		if s, err := status.Read(h.paths.StatusFile()); err == nil && s != nil {
			failedSeen = s.Failed
		}
	}

	summary, err := h.engine.Run(context.Background(), Options{Folder: "INBOX"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Migrated)
	assert.Equal(t, 1, failedSeen, "uid 1 failure should be in the status file before uid 2 is fetched")
}

func TestConcurrentPullRefused(t *testing.T) {
	source := newFakeSource(7)
	h := newHarness(t, source)

	// Simulate a live holder.
	w, err := status.Acquire(h.paths.StatusFile(), enum.OperationPull, "gmail", "INBOX")
	require.NoError(t, err)
	defer w.Release()

	_, err = h.engine.Run(context.Background(), Options{Folder: "INBOX"})
	require.Error(t, err)

	var ce *mailhoard_errors.ConcurrencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, mailhoard_errors.ExitConcurrent, mailhoard_errors.ExitCode(err))
}

func TestDryRunFetchesNothing(t *testing.T) {
	source := newFakeSource(7)
	source.addMessage(11, "a@x", "one")
	source.addMessage(12, "b@x", "two")

	h := newHarness(t, source)
	summary, err := h.engine.Run(context.Background(), Options{Folder: "INBOX", DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.WouldMigrate)
	assert.Equal(t, 0, summary.Migrated)
	assert.Equal(t, 0, h.store.writes)
}

func TestLimitCapsCandidates(t *testing.T) {
	source := newFakeSource(7)
	for uid := uint32(1); uid <= 5; uid++ {
		source.addMessage(uid, fmt.Sprintf("m%d@x", uid), fmt.Sprintf("msg %d", uid))
	}

	h := newHarness(t, source)
	summary, err := h.engine.Run(context.Background(), Options{Folder: "INBOX", Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Found)
	assert.Equal(t, 2, summary.Migrated)
	assert.Equal(t, []uint32{1, 2}, source.headerAttempts)
}
