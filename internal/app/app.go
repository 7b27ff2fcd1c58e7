package app

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/mailhoard/mailhoard/config"
	mailhoard_errors "github.com/mailhoard/mailhoard/errors"
	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/database"
	"github.com/mailhoard/mailhoard/internal/enum"
	"github.com/mailhoard/mailhoard/internal/logger"
	"github.com/mailhoard/mailhoard/internal/repository"
	"github.com/mailhoard/mailhoard/services/fileindex"
	"github.com/mailhoard/mailhoard/services/fts"
	"github.com/mailhoard/mailhoard/services/parquet"
	"github.com/mailhoard/mailhoard/services/store"
	"github.com/mailhoard/mailhoard/services/threads"
)

// App holds everything a command needs for one working tree: the
// resolved paths, open databases, repositories and services.
type App struct {
	Config     *config.Config
	Paths      config.Paths
	TreeConfig *config.TreeConfig
	Log        logger.Logger

	UIDsDB  *gorm.DB
	IndexDB *gorm.DB

	Repositories *repository.Repositories
	FileIndex    interfaces.FileIndexRepository
	Indexer      *fileindex.Service
	Store        interfaces.MessageStore
	FTS          *fts.Index
	Threads      *threads.Service
}

// Open wires the working tree. When the parquet projection is newer
// than uids.db the database is rebuilt from it before anything else
// touches it.
func Open(ctx context.Context, cfg *config.Config, workdir string) (*App, error) {
	log := logger.NewAppLogger(cfg.Logger)
	log.InitLogger()

	paths, err := config.ResolveWorkdir(workdir)
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureStateDir(); err != nil {
		return nil, err
	}

	treeCfg, err := config.LoadTreeConfig(paths)
	if err != nil {
		return nil, err
	}

	uidsPath := paths.UIDsDB()
	if _, err := os.Stat(uidsPath); os.IsNotExist(err) {
		// Trees written by older versions carry pulls.db with the same
		// schema.
		if _, err := os.Stat(paths.LegacyPullsDB()); err == nil {
			uidsPath = paths.LegacyPullsDB()
		}
	}

	rebuildFromParquet := parquet.NewerThan(paths.Parquet(), uidsPath)

	uidsDB, err := database.OpenSQLite(uidsPath)
	if err != nil {
		return nil, err
	}
	if err := repository.MigrateUIDDB(uidsDB); err != nil {
		return nil, &mailhoard_errors.SchemaError{DB: uidsPath, Err: err}
	}

	indexDB, err := database.OpenSQLite(paths.IndexDB())
	if err != nil {
		return nil, err
	}
	if err := repository.MigrateFileIndexDB(indexDB); err != nil {
		return nil, &mailhoard_errors.SchemaError{DB: paths.IndexDB(), Err: err}
	}

	repos := repository.InitRepositories(uidsDB)
	files := repository.NewFileIndexRepository(indexDB)
	indexer := fileindex.NewService(paths.Root, files, log)

	if rebuildFromParquet {
		log.Infof("parquet projection is newer than %s; rebuilding", paths.UIDsDB())
		if _, err := parquet.Import(ctx, paths.Parquet(), repos.PulledMessageRepository, log); err != nil {
			return nil, err
		}
		if _, err := parquet.CrossReference(ctx, repos.PulledMessageRepository, files, log); err != nil {
			return nil, err
		}
	}

	msgStore, err := openStore(treeCfg, paths, indexer, log)
	if err != nil {
		return nil, err
	}

	ftsIndex, err := fts.Open(paths.FTSDir(), repos.PulledMessageRepository, log)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:       cfg,
		Paths:        paths,
		TreeConfig:   treeCfg,
		Log:          log,
		UIDsDB:       uidsDB,
		IndexDB:      indexDB,
		Repositories: repos,
		FileIndex:    files,
		Indexer:      indexer,
		Store:        msgStore,
		FTS:          ftsIndex,
		Threads:      threads.NewService(repos.PulledMessageRepository),
	}, nil
}

// Layout resolves the configured store layout.
func Layout(treeCfg *config.TreeConfig) enum.StoreLayout {
	if treeCfg.Layout == enum.LayoutSQLite.String() {
		return enum.LayoutSQLite
	}
	return enum.LayoutTree
}

func openStore(treeCfg *config.TreeConfig, paths config.Paths, indexer *fileindex.Service, log logger.Logger) (interfaces.MessageStore, error) {
	if Layout(treeCfg) == enum.LayoutSQLite {
		return store.NewSQLiteStore(paths.MsgsDB())
	}
	return store.NewTreeStore(paths.Root, treeCfg.Layout, indexer, log)
}

// OpenStoreForLayout builds a store for an explicit layout name, used
// by the convert command for the target side.
func (a *App) OpenStoreForLayout(layout string) (interfaces.MessageStore, error) {
	if layout == enum.LayoutSQLite.String() {
		return store.NewSQLiteStore(a.Paths.MsgsDB())
	}
	return store.NewTreeStore(a.Paths.Root, layout, a.Indexer, a.Log)
}

// Close releases database and index handles.
func (a *App) Close() {
	if a.FTS != nil {
		a.FTS.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	for _, db := range []*gorm.DB{a.UIDsDB, a.IndexDB} {
		if db == nil {
			continue
		}
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

// Account resolves an account by name from the tree config.
func (a *App) Account(name string) (*config.Account, error) {
	if name == "" {
		if len(a.TreeConfig.Accounts) == 1 {
			name = a.TreeConfig.Accounts[0].Name
		} else {
			return nil, mailhoard_errors.NewConfigError(
				fmt.Sprintf("account name required (configured: %d)", len(a.TreeConfig.Accounts)), nil)
		}
	}
	return a.TreeConfig.Account(name)
}
