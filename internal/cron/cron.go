package cron

import (
	"context"
	"errors"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"

	"github.com/mailhoard/mailhoard/config"
	mailhoard_errors "github.com/mailhoard/mailhoard/errors"
	"github.com/mailhoard/mailhoard/internal/app"
	"github.com/mailhoard/mailhoard/internal/logger"
	"github.com/mailhoard/mailhoard/services/imap"
	"github.com/mailhoard/mailhoard/services/parquet"
	"github.com/mailhoard/mailhoard/services/pull"
)

// GroupSync serializes the scheduled pull jobs: one working tree, one
// sync at a time.
const GroupSync = "sync"

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupSync: new(sync.Mutex),
	},
}

// WatchManager runs periodic pulls for every configured account.
type WatchManager struct {
	cfg    *config.AppConfig
	app    *app.App
	log    logger.Logger
	cron   *cronv3.Cron
	jobIDs map[string]cronv3.EntryID
}

func NewWatchManager(cfg *config.AppConfig, a *app.App, log logger.Logger) *WatchManager {
	return &WatchManager{
		cfg:    cfg,
		app:    a,
		log:    log,
		jobIDs: make(map[string]cronv3.EntryID),
	}
}

// Start registers and starts the scheduler. The first sweep runs on
// schedule, not immediately.
func (wm *WatchManager) Start() error {
	c := cronv3.New(cronv3.WithChain(
		cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
		cronv3.Recover(cronv3.DefaultLogger),
	))

	id, err := c.AddFunc(wm.cfg.WatchSchedule, func() {
		jobLocks.locks[GroupSync].Lock()
		defer jobLocks.locks[GroupSync].Unlock()
		wm.pullAllAccounts()
	})
	if err != nil {
		return err
	}
	wm.jobIDs["pull_all"] = id
	wm.log.Infof("registered pull job with schedule: %s", wm.cfg.WatchSchedule)

	c.Start()
	wm.cron = c
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (wm *WatchManager) Stop() {
	if wm.cron != nil {
		wm.log.Info("stopping watch scheduler")
		ctx := wm.cron.Stop()
		<-ctx.Done()
	}
}

func (wm *WatchManager) pullAllAccounts() {
	ctx := context.Background()

	for i := range wm.app.TreeConfig.Accounts {
		account := &wm.app.TreeConfig.Accounts[i]
		if account.User == "" || account.Password == "" {
			wm.log.Warnf("skipping account %s: missing credentials", account.Name)
			continue
		}
		wm.pullAccount(ctx, account)
	}

	if _, err := parquet.Export(ctx, wm.app.Repositories.PulledMessageRepository, wm.app.Paths.Parquet(), wm.log); err != nil {
		wm.log.Errorf("parquet export failed: %v", err)
	}
}

func (wm *WatchManager) pullAccount(ctx context.Context, account *config.Account) {
	wm.log.Infof("scheduled pull for account %s", account.Name)

	client := imap.NewClient(account, wm.log)
	engine := pull.NewEngine(
		account,
		client,
		wm.app.Repositories,
		wm.app.Store,
		wm.app.Indexer,
		wm.app.FTS,
		wm.app.Paths,
		wm.log,
	)

	summary, err := engine.Run(ctx, pull.Options{
		CacheTTL:   time.Duration(wm.cfg.CacheTTLMin) * time.Minute,
		MaxErrors:  wm.cfg.MaxErrors,
		Checkpoint: wm.cfg.Checkpoint,
	})
	if err != nil {
		// Another process holding the lock is fine in watch mode.
		var ce *mailhoard_errors.ConcurrencyError
		if errors.As(err, &ce) {
			wm.log.Infof("account %s: sync already running (pid %d), skipping", account.Name, ce.PID)
			return
		}
		wm.log.Errorf("account %s: scheduled pull failed: %v", account.Name, err)
		return
	}

	wm.log.Infof("account %s: pull %s migrated=%d skipped=%d failed=%d",
		account.Name, summary.Status, summary.Migrated, summary.Skipped, summary.Failed)
}
