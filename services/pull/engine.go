package pull

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/mailhoard/mailhoard/config"
	mailhoard_errors "github.com/mailhoard/mailhoard/errors"
	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/enum"
	"github.com/mailhoard/mailhoard/internal/logger"
	"github.com/mailhoard/mailhoard/internal/models"
	"github.com/mailhoard/mailhoard/internal/repository"
	"github.com/mailhoard/mailhoard/internal/utils"
	"github.com/mailhoard/mailhoard/services/failures"
	"github.com/mailhoard/mailhoard/services/fts"
	"github.com/mailhoard/mailhoard/services/status"
)

const staleRunAge = time.Hour

// Options are the per-invocation pull flags.
type Options struct {
	Folder     string
	DryRun     bool
	Full       bool
	Retry      bool
	Limit      int
	CacheTTL   time.Duration
	MaxErrors  int
	Checkpoint int
	Tag        string
}

// Summary is what the CLI reports after a run.
type Summary struct {
	RunID          int64
	Status         enum.RunStatus
	Found          int
	Migrated       int
	Skipped        int
	Failed         int
	WouldMigrate   int
	Errors         []string
	FailureLogPath string
}

// FileIndexer is the slice of the file index the engine needs after a
// successful write.
type FileIndexer interface {
	IndexFile(ctx context.Context, relPath string) error
}

// filterSearcher is implemented by the real IMAP client; fakes without
// filter support fall back to UIDSearchAll.
type filterSearcher interface {
	UIDSearchFilter(filter *config.Filter) ([]uint32, error)
}

// Engine mirrors one remote folder into the local store, one UID at a
// time over a single connection.
type Engine struct {
	account *config.Account
	source  interfaces.MailSource
	repos   *repository.Repositories
	store   interfaces.MessageStore
	indexer FileIndexer
	fts     interfaces.FTSIndex
	paths   config.Paths
	log     logger.Logger
}

func NewEngine(
	account *config.Account,
	source interfaces.MailSource,
	repos *repository.Repositories,
	store interfaces.MessageStore,
	indexer FileIndexer,
	ftsIndex interfaces.FTSIndex,
	paths config.Paths,
	log logger.Logger,
) *Engine {
	return &Engine{
		account: account,
		source:  source,
		repos:   repos,
		store:   store,
		indexer: indexer,
		fts:     ftsIndex,
		paths:   paths,
		log:     log,
	}
}

func (e *Engine) Run(ctx context.Context, opts Options) (*Summary, error) {
	// A filter block with no terms is a config mistake, not a request
	// to search everything.
	if e.account.Filter != nil && e.account.Filter.Empty() {
		return nil, mailhoard_errors.NewConfigError(
			fmt.Sprintf("account %s", e.account.Name), mailhoard_errors.ErrEmptyFilter)
	}

	folder := opts.Folder
	if folder == "" {
		folder = e.account.DefaultFolder()
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 10
	}
	if opts.Checkpoint <= 0 {
		opts.Checkpoint = 25
	}
	if opts.Tag == "" {
		tag, err := gonanoid.New(8)
		if err != nil {
			return nil, err
		}
		opts.Tag = tag
	}

	writer, err := status.Acquire(e.paths.StatusFile(), enum.OperationPull, e.account.Name, folder)
	if err != nil {
		return nil, err
	}
	defer writer.Release()

	if swept, err := e.repos.SyncRunRepository.SweepStaleRuns(ctx, staleRunAge); err != nil {
		e.log.Warnf("stale run sweep failed: %v", err)
	} else if swept > 0 {
		e.log.Warnf("swept %d stale running sync_runs to aborted", swept)
	}

	if err := e.source.Connect(); err != nil {
		return nil, err
	}
	defer e.source.Logout()

	count, uidvalidity, err := e.source.Select(folder, true)
	if err != nil {
		return nil, err
	}
	e.log.Infof("[%s] %s: %d messages, uidvalidity %d", e.account.Name, folder, count, uidvalidity)

	if stored, ok, err := e.repos.PulledMessageRepository.GetUIDValidity(ctx, e.account.Name, folder); err != nil {
		return nil, err
	} else if ok && stored != uidvalidity {
		e.log.Warnf("[%s] %s: uidvalidity changed %d -> %d; previously pulled uids belong to a dead epoch and will be refetched",
			e.account.Name, folder, stored, uidvalidity)
	}

	pulled, err := e.repos.PulledMessageRepository.GetPulledUIDs(ctx, e.account.Name, folder, uidvalidity)
	if err != nil {
		return nil, err
	}

	serverUIDs, err := e.loadServerUIDs(ctx, folder, uidvalidity, count, opts.CacheTTL)
	if err != nil {
		return nil, err
	}

	flog, err := failures.Load(e.paths.FailuresDir(), e.account.Name, folder)
	if err != nil {
		return nil, err
	}

	candidates := planCandidates(serverUIDs, pulled, flog, opts)
	summary := &Summary{
		Found:          len(candidates),
		FailureLogPath: flog.Path(),
	}

	run := &models.SyncRun{
		Operation: enum.OperationPull,
		Account:   e.account.Name,
		Folder:    folder,
		Tag:       opts.Tag,
		Total:     len(candidates),
	}
	runID, err := e.repos.SyncRunRepository.StartRun(ctx, run)
	if err != nil {
		return nil, err
	}
	summary.RunID = runID

	runStatus, runErr := e.fetchLoop(ctx, writer, flog, candidates, folder, uidvalidity, runID, opts, summary)

	if err := flog.Save(); err != nil {
		e.log.Errorf("failed to save failure log: %v", err)
	}
	if err := e.repos.SyncRunRepository.UpdateRunCounters(ctx, runID,
		summary.Found, summary.Migrated, summary.Skipped, summary.Failed); err != nil {
		e.log.Errorf("failed to update run counters: %v", err)
	}
	if err := e.repos.SyncRunRepository.EndRun(ctx, runID, runStatus, runErr); err != nil {
		e.log.Errorf("failed to end run: %v", err)
	}
	summary.Status = runStatus

	return summary, nil
}

// loadServerUIDs returns the folder's UID list, from the cache when it
// is fresh enough, otherwise from a UID SEARCH that also refreshes the
// cache.
func (e *Engine) loadServerUIDs(ctx context.Context, folder string, uidvalidity, count uint32, ttl time.Duration) ([]uint32, error) {
	if ttl > 0 {
		sf, err := e.repos.ServerUIDRepository.GetServerFolder(ctx, e.account.Name, folder)
		if err != nil {
			return nil, err
		}
		if sf != nil && sf.UIDValidity == uidvalidity && time.Since(sf.LastChecked) < ttl {
			uids, err := e.repos.ServerUIDRepository.GetServerUIDs(ctx, e.account.Name, folder, uidvalidity)
			if err != nil {
				return nil, err
			}
			if len(uids) > 0 {
				e.log.Debugf("[%s] %s: using cached uid list (%d uids)", e.account.Name, folder, len(uids))
				return uids, nil
			}
		}
	}

	var uids []uint32
	var err error
	if fs, ok := e.source.(filterSearcher); ok && !e.account.Filter.Empty() {
		uids, err = fs.UIDSearchFilter(e.account.Filter)
	} else {
		uids, err = e.source.UIDSearchAll()
	}
	if err != nil {
		return nil, err
	}

	now := utils.Now()
	batch := make([]models.ServerUID, 0, len(uids))
	for _, uid := range uids {
		batch = append(batch, models.ServerUID{
			Account:     e.account.Name,
			Folder:      folder,
			UIDValidity: uidvalidity,
			UID:         uid,
			LastSeen:    now,
		})
	}
	if err := e.repos.ServerUIDRepository.RecordServerUIDs(ctx, batch); err != nil {
		return nil, err
	}
	if err := e.repos.ServerUIDRepository.RecordServerFolder(ctx, e.account.Name, folder, uidvalidity, uint32(len(uids))); err != nil {
		return nil, err
	}
	return uids, nil
}

// planCandidates composes the UID worklist: failure-log UIDs under
// --retry, everything under --full, otherwise the set difference
// server \ pulled. Always ascending, limited last.
func planCandidates(serverUIDs, pulled []uint32, flog *failures.Log, opts Options) []uint32 {
	var candidates []uint32
	switch {
	case opts.Retry:
		candidates = flog.UIDs()
	case opts.Full:
		candidates = append(candidates, serverUIDs...)
	default:
		have := make(map[uint32]bool, len(pulled))
		for _, uid := range pulled {
			have[uid] = true
		}
		for _, uid := range serverUIDs {
			if !have[uid] {
				candidates = append(candidates, uid)
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	if opts.Limit > 0 && len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}
	return candidates
}

func (e *Engine) fetchLoop(
	ctx context.Context,
	writer *status.Writer,
	flog *failures.Log,
	candidates []uint32,
	folder string,
	uidvalidity uint32,
	runID int64,
	opts Options,
	summary *Summary,
) (enum.RunStatus, string) {
	consecutive := 0

	for i, uid := range candidates {
		if err := ctx.Err(); err != nil {
			return enum.RunAborted, "canceled"
		}

		headers, err := e.source.FetchHeaders(uid)
		if err != nil {
			fatal := e.recordFailure(ctx, writer, flog, folder, uidvalidity, uid, "", runID, err, summary)
			if fatal {
				return enum.RunFailed, err.Error()
			}
			consecutive++
			if consecutive >= opts.MaxErrors {
				return enum.RunAborted, fmt.Sprintf("%d consecutive errors", consecutive)
			}
			continue
		}

		if opts.DryRun {
			summary.WouldMigrate++
			e.log.Infof("would_migrate uid=%d subject=%q", uid, headers.Subject)
			continue
		}

		raw, err := e.source.FetchRaw(uid)
		if err != nil {
			fatal := e.recordFailure(ctx, writer, flog, folder, uidvalidity, uid, headers.Subject, runID, err, summary)
			if fatal {
				return enum.RunFailed, err.Error()
			}
			consecutive++
			if consecutive >= opts.MaxErrors {
				return enum.RunAborted, fmt.Sprintf("%d consecutive errors", consecutive)
			}
			continue
		}

		if err := e.storeMessage(ctx, flog, folder, uidvalidity, uid, headers, raw, runID, summary); err != nil {
			var we *mailhoard_errors.WriteError
			if errors.As(err, &we) {
				return enum.RunFailed, err.Error()
			}
			e.recordFailure(ctx, writer, flog, folder, uidvalidity, uid, headers.Subject, runID, err, summary)
			consecutive++
			if consecutive >= opts.MaxErrors {
				return enum.RunAborted, fmt.Sprintf("%d consecutive errors", consecutive)
			}
			continue
		}

		flog.Remove(uid)
		consecutive = 0

		if err := writer.Update(summary.Found, summary.Migrated, summary.Skipped, summary.Failed, headers.Subject); err != nil {
			e.log.Warnf("status update failed: %v", err)
		}
		if (i+1)%opts.Checkpoint == 0 {
			if err := e.repos.SyncRunRepository.UpdateRunCounters(ctx, runID,
				summary.Found, summary.Migrated, summary.Skipped, summary.Failed); err != nil {
				e.log.Warnf("checkpoint update failed: %v", err)
			}
			e.log.Infof("[%s] %s: %d/%d done (%d new, %d skipped, %d failed)",
				e.account.Name, folder, i+1, len(candidates),
				summary.Migrated, summary.Skipped, summary.Failed)
		}
	}
	return enum.RunCompleted, ""
}

// storeMessage dedups by content, writes new bytes via the store, and
// records the outcome.
func (e *Engine) storeMessage(
	ctx context.Context,
	flog *failures.Log,
	folder string,
	uidvalidity uint32,
	uid uint32,
	headers *interfaces.MessageHeaders,
	raw []byte,
	runID int64,
	summary *Summary,
) error {
	hash := utils.ContentHash(raw)
	messageID := headers.MessageID
	if messageID == "" {
		messageID = utils.SyntheticMessageID(hash)
	}

	msg := &models.PulledMessage{
		Account:     e.account.Name,
		Folder:      folder,
		UIDValidity: uidvalidity,
		UID:         uid,
		ContentHash: hash,
		MessageID:   messageID,
		PulledAt:    utils.Now(),
		Subject:     headers.Subject,
		MsgDate:     headers.Date,
		SyncRunID:   &runID,
		InReplyTo:   headers.InReplyTo,
		References:  strings.Join(headers.References, " "),
		FromAddr:    headers.From,
		ToAddr:      headers.To,
	}

	if existingPath, ok, err := e.store.HasContent(ctx, raw); err != nil {
		return err
	} else if ok {
		msg.Status = enum.PullSkipped
		msg.LocalPath = existingPath
		if err := e.repos.PulledMessageRepository.RecordPull(ctx, msg); err != nil {
			return err
		}
		summary.Skipped++
		e.log.Debugf("uid %d duplicates %s", uid, existingPath)
		return nil
	}

	path, err := e.store.Add(ctx, &interfaces.AddMessage{
		MessageID: messageID,
		Raw:       raw,
		Folder:    folder,
		Date:      headers.Date,
		From:      headers.From,
		To:        headers.To,
		Cc:        headers.Cc,
		Subject:   headers.Subject,
		SourceUID: uid,
	})
	if err != nil {
		return err
	}

	msg.Status = enum.PullNew
	msg.LocalPath = path
	if err := e.repos.PulledMessageRepository.RecordPull(ctx, msg); err != nil {
		return err
	}

	if e.indexer != nil {
		if err := e.indexer.IndexFile(ctx, path); err != nil {
			e.log.Warnf("index of %s failed: %v", path, err)
		}
	}
	if e.fts != nil {
		if err := e.fts.Insert(messageID, headers.Subject, fts.ExtractBodyText(raw), headers.From, headers.To); err != nil {
			e.log.Warnf("fts insert for %s failed: %v", messageID, err)
		}
	}

	summary.Migrated++
	return nil
}

// recordFailure writes a failed PulledMessage, a failure-log entry,
// the summary counters and the live status file; it reports whether
// err is fatal for the run.
func (e *Engine) recordFailure(
	ctx context.Context,
	writer *status.Writer,
	flog *failures.Log,
	folder string,
	uidvalidity uint32,
	uid uint32,
	subject string,
	runID int64,
	cause error,
	summary *Summary,
) bool {
	summary.Failed++
	if len(summary.Errors) < 10 {
		summary.Errors = append(summary.Errors, fmt.Sprintf("uid %d: %v", uid, cause))
	}
	flog.Record(uid, cause.Error())

	msg := &models.PulledMessage{
		Account:     e.account.Name,
		Folder:      folder,
		UIDValidity: uidvalidity,
		UID:         uid,
		PulledAt:    utils.Now(),
		Subject:     subject,
		Status:      enum.PullFailed,
		SyncRunID:   &runID,
		Error:       cause.Error(),
	}
	if err := e.repos.PulledMessageRepository.RecordPull(ctx, msg); err != nil {
		e.log.Errorf("failed to record failure for uid %d: %v", uid, err)
	}

	if err := writer.Update(summary.Found, summary.Migrated, summary.Skipped, summary.Failed, subject); err != nil {
		e.log.Warnf("status update failed: %v", err)
	}

	var ie *mailhoard_errors.ImapError
	if errors.As(cause, &ie) && !ie.Transient {
		return true
	}
	return false
}
