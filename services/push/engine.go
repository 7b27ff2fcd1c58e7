package push

import (
	"context"
	"fmt"
	"sort"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/mailhoard/mailhoard/config"
	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/enum"
	"github.com/mailhoard/mailhoard/internal/logger"
	"github.com/mailhoard/mailhoard/internal/models"
	"github.com/mailhoard/mailhoard/internal/utils"
	"github.com/mailhoard/mailhoard/services/pushlog"
	"github.com/mailhoard/mailhoard/services/status"
)

// DefaultMaxSize is the append size gate: messages above it are
// counted as skipped and never uploaded.
const DefaultMaxSize = 25 * 1024 * 1024

// Options are the per-invocation push flags.
type Options struct {
	Folder    string
	DryRun    bool
	Limit     int
	MaxSize   int64
	Delay     time.Duration
	MaxErrors int
	Tag       string
}

// Summary is what the CLI reports after a push run.
type Summary struct {
	RunID        int64
	Status       enum.RunStatus
	Found        int
	Uploaded     int
	Skipped      int
	Failed       int
	WouldMigrate int
	Errors       []string
}

// SyncRunRecorder is the slice of the sync_runs repository the engine
// needs.
type SyncRunRecorder interface {
	StartRun(ctx context.Context, run *models.SyncRun) (int64, error)
	UpdateRunCounters(ctx context.Context, id int64, total, fetched, skipped, failed int) error
	EndRun(ctx context.Context, id int64, status enum.RunStatus, errMsg string) error
}

// Engine appends local messages to a destination folder, oldest first,
// keeping the per-account manifest as the idempotence ledger.
type Engine struct {
	account *config.Account
	source  interfaces.MailSource
	store   interfaces.MessageStore
	runs    SyncRunRecorder
	paths   config.Paths
	log     logger.Logger
}

func NewEngine(
	account *config.Account,
	source interfaces.MailSource,
	store interfaces.MessageStore,
	runs SyncRunRecorder,
	paths config.Paths,
	log logger.Logger,
) *Engine {
	return &Engine{
		account: account,
		source:  source,
		store:   store,
		runs:    runs,
		paths:   paths,
		log:     log,
	}
}

type candidate struct {
	messageID string
	raw       []byte
	date      *time.Time
	subject   string
	path      string
}

func (e *Engine) Run(ctx context.Context, opts Options) (*Summary, error) {
	folder := opts.Folder
	if folder == "" {
		folder = e.account.DefaultFolder()
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 10
	}
	if opts.Tag == "" {
		tag, err := gonanoid.New(8)
		if err != nil {
			return nil, err
		}
		opts.Tag = tag
	}

	writer, err := status.Acquire(e.paths.StatusFile(), enum.OperationPush, e.account.Name, folder)
	if err != nil {
		return nil, err
	}
	defer writer.Release()

	manifest, err := pushlog.LoadManifest(e.paths.PushedDir(), e.account.Name)
	if err != nil {
		return nil, err
	}

	candidates, err := e.plan(ctx, manifest, opts)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Found: len(candidates)}
	runID, err := e.runs.StartRun(ctx, &models.SyncRun{
		Operation: enum.OperationPush,
		Account:   e.account.Name,
		Folder:    folder,
		Tag:       opts.Tag,
		Total:     len(candidates),
	})
	if err != nil {
		return nil, err
	}
	summary.RunID = runID

	var runStatus enum.RunStatus
	var runErr string
	if opts.DryRun {
		for _, c := range candidates {
			summary.WouldMigrate++
			e.log.Infof("would_migrate message_id=%s subject=%q", c.messageID, c.subject)
		}
		runStatus = enum.RunCompleted
	} else {
		if err := e.source.Connect(); err != nil {
			e.runs.EndRun(ctx, runID, enum.RunFailed, err.Error())
			return nil, err
		}
		defer e.source.Logout()
		runStatus, runErr = e.uploadLoop(ctx, writer, manifest, candidates, folder, opts, summary)
	}

	if err := e.runs.UpdateRunCounters(ctx, runID,
		summary.Found, summary.Uploaded, summary.Skipped, summary.Failed); err != nil {
		e.log.Errorf("failed to update run counters: %v", err)
	}
	if err := e.runs.EndRun(ctx, runID, runStatus, runErr); err != nil {
		e.log.Errorf("failed to end run: %v", err)
	}
	summary.Status = runStatus
	return summary, nil
}

// plan collects unpushed messages, oldest first. Messages without a
// real Message-ID never enter the manifest key set, so they are never
// pushed.
func (e *Engine) plan(ctx context.Context, manifest *pushlog.Manifest, opts Options) ([]candidate, error) {
	var candidates []candidate
	err := e.store.Iter(ctx, nil, func(m *models.StoredMessage) error {
		if m.MessageID == "" || utils.IsSyntheticMessageID(m.MessageID) {
			return nil
		}
		if manifest.Contains(m.MessageID) {
			return nil
		}
		candidates = append(candidates, candidate{
			messageID: m.MessageID,
			raw:       m.Raw,
			date:      m.Date,
			subject:   m.Subject,
			path:      m.Path,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch {
		case a.date == nil && b.date == nil:
			return a.path < b.path
		case a.date == nil:
			return false
		case b.date == nil:
			return true
		case a.date.Equal(*b.date):
			return a.path < b.path
		default:
			return a.date.Before(*b.date)
		}
	})

	if opts.Limit > 0 && len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}
	return candidates, nil
}

func (e *Engine) uploadLoop(
	ctx context.Context,
	writer *status.Writer,
	manifest *pushlog.Manifest,
	candidates []candidate,
	folder string,
	opts Options,
	summary *Summary,
) (enum.RunStatus, string) {
	consecutive := 0

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return enum.RunAborted, "canceled"
		}

		if int64(len(c.raw)) > opts.MaxSize {
			summary.Skipped++
			e.log.Warnf("skipping %s: %d bytes exceeds max size %d", c.messageID, len(c.raw), opts.MaxSize)
			continue
		}

		err := e.source.Append(folder, c.raw, c.date)
		if err != nil {
			summary.Failed++
			if len(summary.Errors) < 10 {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", c.messageID, err))
			}
			consecutive++
			if consecutive >= opts.MaxErrors {
				return enum.RunAborted, fmt.Sprintf("%d consecutive errors", consecutive)
			}
			continue
		}

		manifest.Add(c.messageID)
		if err := manifest.Save(); err != nil {
			return enum.RunFailed, fmt.Sprintf("failed to save manifest: %v", err)
		}
		if err := pushlog.AppendUpload(e.paths.PushedDir(), pushlog.UploadRecord{
			Account:   e.account.Name,
			MessageID: c.messageID,
			Subject:   c.subject,
			Path:      c.path,
		}); err != nil {
			e.log.Warnf("failed to append upload log: %v", err)
		}

		summary.Uploaded++
		consecutive = 0

		if err := writer.Update(summary.Found, summary.Uploaded, summary.Skipped, summary.Failed, c.subject); err != nil {
			e.log.Warnf("status update failed: %v", err)
		}
		if opts.Delay > 0 {
			select {
			case <-time.After(opts.Delay):
			case <-ctx.Done():
				return enum.RunAborted, "canceled"
			}
		}
	}
	return enum.RunCompleted, ""
}
