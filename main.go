package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mailhoard/mailhoard/config"
	mailhoard_errors "github.com/mailhoard/mailhoard/errors"
	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/app"
	"github.com/mailhoard/mailhoard/internal/cron"
	"github.com/mailhoard/mailhoard/internal/enum"
	"github.com/mailhoard/mailhoard/server"
	"github.com/mailhoard/mailhoard/services/fts"
	"github.com/mailhoard/mailhoard/services/imap"
	"github.com/mailhoard/mailhoard/services/parquet"
	"github.com/mailhoard/mailhoard/services/pull"
	"github.com/mailhoard/mailhoard/services/push"
	"github.com/mailhoard/mailhoard/services/status"
	"github.com/mailhoard/mailhoard/services/store"
)

func main() {
	cliApp := &cli.App{
		Name:  "mailhoard",
		Usage: "archive IMAP mailboxes into a local working tree",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workdir",
				Aliases: []string{"C"},
				Usage:   "working tree root (default: $MAILHOARD_ROOT or upward .eml search)",
			},
		},
		Commands: []*cli.Command{
			pullCommand(),
			pushCommand(),
			statusCommand(),
			searchCommand(),
			threadsCommand(),
			convertCommand(),
			rebuildIndexCommand(),
			rebuildFTSCommand(),
			exportUIDsCommand(),
			importUIDsCommand(),
			serveCommand(),
			watchCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(mailhoard_errors.ExitCode(err))
	}
}

// openApp loads the env config and wires the working tree.
func openApp(c *cli.Context) (*app.App, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, err
	}
	return app.Open(c.Context, cfg, c.String("workdir"))
}

// signalContext cancels on SIGINT/SIGTERM so the engines end their run
// as aborted and release the status lock.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func pullCommand() *cli.Command {
	return &cli.Command{
		Name:  "pull",
		Usage: "fetch new messages from an account into the store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Aliases: []string{"a"}},
			&cli.StringFlag{Name: "folder", Aliases: []string{"f"}},
			&cli.BoolFlag{Name: "dry-run", Usage: "plan only, fetch nothing"},
			&cli.BoolFlag{Name: "full", Usage: "ignore the UID DB and consider every server UID"},
			&cli.BoolFlag{Name: "retry", Usage: "attempt only UIDs in the failure log"},
			&cli.IntFlag{Name: "limit", Usage: "cap the number of candidates"},
			&cli.StringFlag{Name: "tag", Usage: "sync run tag (default: generated)"},
		},
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			account, err := a.Account(c.String("account"))
			if err != nil {
				return err
			}

			ctx, stop := signalContext(c.Context)
			defer stop()

			engine := pull.NewEngine(account, imap.NewClient(account, a.Log),
				a.Repositories, a.Store, a.Indexer, a.FTS, a.Paths, a.Log)
			summary, err := engine.Run(ctx, pull.Options{
				Folder:     c.String("folder"),
				DryRun:     c.Bool("dry-run"),
				Full:       c.Bool("full"),
				Retry:      c.Bool("retry"),
				Limit:      c.Int("limit"),
				Tag:        c.String("tag"),
				CacheTTL:   time.Duration(a.Config.AppConfig.CacheTTLMin) * time.Minute,
				MaxErrors:  a.Config.AppConfig.MaxErrors,
				Checkpoint: a.Config.AppConfig.Checkpoint,
			})
			if err != nil {
				return err
			}

			if c.Bool("dry-run") {
				fmt.Printf("would migrate %d of %d messages\n", summary.WouldMigrate, summary.Found)
				return nil
			}

			if _, err := parquet.Export(ctx, a.Repositories.PulledMessageRepository, a.Paths.Parquet(), a.Log); err != nil {
				a.Log.Errorf("parquet export failed: %v", err)
			}

			fmt.Printf("pull %s: found=%d migrated=%d skipped=%d failed=%d\n",
				summary.Status, summary.Found, summary.Migrated, summary.Skipped, summary.Failed)
			if summary.Failed > 0 {
				fmt.Printf("failures recorded in %s\n", summary.FailureLogPath)
			}
			return runError(summary.Status, summary.Errors)
		},
	}
}

func pushCommand() *cli.Command {
	return &cli.Command{
		Name:  "push",
		Usage: "append local messages to a destination folder",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Aliases: []string{"a"}},
			&cli.StringFlag{Name: "folder", Aliases: []string{"f"}},
			&cli.BoolFlag{Name: "dry-run"},
			&cli.IntFlag{Name: "limit"},
			&cli.Int64Flag{Name: "max-size", Usage: "skip messages above this many bytes"},
			&cli.IntFlag{Name: "delay-ms", Usage: "pause between uploads"},
			&cli.StringFlag{Name: "tag"},
		},
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			account, err := a.Account(c.String("account"))
			if err != nil {
				return err
			}

			ctx, stop := signalContext(c.Context)
			defer stop()

			maxSize := c.Int64("max-size")
			if maxSize == 0 {
				maxSize = a.Config.AppConfig.PushMaxSize
			}
			delayMs := c.Int("delay-ms")
			if delayMs == 0 {
				delayMs = a.Config.AppConfig.PushDelayMs
			}

			engine := push.NewEngine(account, imap.NewClient(account, a.Log),
				a.Store, a.Repositories.SyncRunRepository, a.Paths, a.Log)
			summary, err := engine.Run(ctx, push.Options{
				Folder:    c.String("folder"),
				DryRun:    c.Bool("dry-run"),
				Limit:     c.Int("limit"),
				MaxSize:   maxSize,
				Delay:     time.Duration(delayMs) * time.Millisecond,
				MaxErrors: a.Config.AppConfig.MaxErrors,
				Tag:       c.String("tag"),
			})
			if err != nil {
				return err
			}

			if c.Bool("dry-run") {
				fmt.Printf("would push %d messages\n", summary.WouldMigrate)
				return nil
			}
			fmt.Printf("push %s: found=%d uploaded=%d skipped=%d failed=%d\n",
				summary.Status, summary.Found, summary.Uploaded, summary.Skipped, summary.Failed)
			return runError(summary.Status, summary.Errors)
		},
	}
}

// runError maps a non-completed run to a process-level error.
func runError(runStatus enum.RunStatus, errs []string) error {
	if runStatus == enum.RunCompleted {
		return nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("run %s: %s", runStatus, strings.Join(errs, "; "))
	}
	return fmt.Errorf("run %s", runStatus)
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show the live sync status and recent runs",
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := status.Read(a.Paths.StatusFile())
			if err != nil {
				return err
			}
			if st == nil {
				fmt.Println("no sync running")
			} else {
				fmt.Printf("%s running (pid %d) account=%s folder=%s: %d/%d done, %d skipped, %d failed\n",
					st.Operation, st.PID, st.Account, st.Folder,
					st.Completed, st.Total, st.Skipped, st.Failed)
			}

			runs, err := a.Repositories.SyncRunRepository.GetRecentRuns(c.Context, 10)
			if err != nil {
				return err
			}
			if len(runs) > 0 {
				fmt.Println("\nrecent runs:")
				for _, run := range runs {
					fmt.Printf("  #%d %s %s %s %s: total=%d fetched=%d skipped=%d failed=%d\n",
						run.ID, run.StartedAt.Format(time.RFC3339), run.Operation,
						run.Account, run.Status, run.Total, run.Fetched, run.Skipped, run.Failed)
				}
			}
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "full-text search over archived messages",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
			&cli.IntFlag{Name: "offset"},
			&cli.StringFlag{Name: "account", Usage: "only messages pulled for this account"},
			&cli.StringFlag{Name: "folder", Usage: "only messages pulled from this folder (subfolders included)"},
		},
		Action: func(c *cli.Context) error {
			query := strings.Join(c.Args().Slice(), " ")
			if query == "" {
				return mailhoard_errors.NewConfigError("search needs a query", nil)
			}

			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			var filter *interfaces.SearchFilter
			if c.String("account") != "" || c.String("folder") != "" {
				filter = &interfaces.SearchFilter{Account: c.String("account"), Folder: c.String("folder")}
			}
			hits, err := a.FTS.Search(c.Context, query, c.Int("limit"), c.Int("offset"), filter)
			if err != nil {
				return err
			}
			for _, hit := range hits {
				line := fmt.Sprintf("%.3f  %s", hit.Score, hit.MessageID)
				if file, err := a.FileIndex.GetByMessageID(c.Context, hit.MessageID); err == nil && file != nil {
					line = fmt.Sprintf("%.3f  %s  %s  %s", hit.Score, file.Path, file.FromAddr, file.Subject)
				}
				fmt.Println(line)
			}
			if len(hits) == 0 {
				fmt.Println("no matches")
			}
			return nil
		},
	}
}

func threadsCommand() *cli.Command {
	return &cli.Command{
		Name:      "threads",
		Usage:     "show the conversation a message belongs to",
		ArgsUsage: "<message-id>",
		Action: func(c *cli.Context) error {
			messageID := c.Args().First()
			if messageID == "" {
				return mailhoard_errors.NewConfigError("threads needs a message id", nil)
			}

			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			members, err := a.Threads.Thread(c.Context, messageID)
			if err != nil {
				return err
			}
			if len(members) == 0 {
				fmt.Println("message not found")
				return nil
			}
			for _, m := range members {
				date := ""
				if m.MsgDate != nil {
					date = m.MsgDate.Format("2006-01-02 15:04")
				}
				fmt.Printf("%s  %s  %s  %s\n", date, m.FromAddr, m.MessageID, m.Subject)
			}
			return nil
		},
	}
}

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:  "convert",
		Usage: "copy the store into another layout and switch to it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "to", Required: true, Usage: "target layout (tree preset or sqlite)"},
			&cli.BoolFlag{Name: "dry-run", Usage: "enumerate moves without writing"},
		},
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			target := c.String("to")
			dst, err := a.OpenStoreForLayout(target)
			if err != nil {
				return err
			}
			defer dst.Close()

			ctx, stop := signalContext(c.Context)
			defer stop()

			if c.Bool("dry-run") {
				planned, err := store.ConvertDryRun(ctx, a.Store, dst, a.Log)
				if err != nil {
					return err
				}
				fmt.Printf("would convert %d messages to layout %s\n", planned, target)
				return nil
			}

			moved, err := store.Convert(ctx, a.Store, dst, a.Log)
			if err != nil {
				return err
			}

			a.TreeConfig.Layout = target
			if err := config.SaveTreeConfig(a.Paths, a.TreeConfig); err != nil {
				return err
			}
			fmt.Printf("converted %d messages to layout %s\n", moved, target)
			fmt.Println("old layout files left in place; remove them once verified")
			return nil
		},
	}
}

func rebuildIndexCommand() *cli.Command {
	return &cli.Command{
		Name:  "rebuild-index",
		Usage: "rebuild the file index from the .eml tree",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "incremental", Usage: "only reindex files changed since the last run"},
		},
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext(c.Context)
			defer stop()

			if c.Bool("incremental") {
				indexed, removed, err := a.Indexer.Update(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("reindexed %d files, removed %d\n", indexed, removed)
				return nil
			}

			indexed, skipped, err := a.Indexer.Rebuild(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d files, skipped %d unreadable\n", indexed, skipped)
			return nil
		},
	}
}

func rebuildFTSCommand() *cli.Command {
	return &cli.Command{
		Name:  "rebuild-fts",
		Usage: "rebuild the full-text index from the file index",
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext(c.Context)
			defer stop()

			// Drop the old index before backfilling.
			a.FTS.Close()
			ftsIndex, err := fts.Recreate(a.Paths.FTSDir(), a.Repositories.PulledMessageRepository, a.Log)
			if err != nil {
				return err
			}
			a.FTS = ftsIndex

			indexed, err := ftsIndex.Backfill(ctx, a.Paths.Root, a.FileIndex)
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d messages\n", indexed)
			return nil
		},
	}
}

func exportUIDsCommand() *cli.Command {
	return &cli.Command{
		Name:  "export-uids",
		Usage: "write the UID DB projection to uids.parquet",
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := parquet.Export(c.Context, a.Repositories.PulledMessageRepository, a.Paths.Parquet(), a.Log)
			if err != nil {
				return err
			}
			fmt.Printf("exported %d rows to %s\n", rows, a.Paths.Parquet())
			return nil
		},
	}
}

func importUIDsCommand() *cli.Command {
	return &cli.Command{
		Name:  "import-uids",
		Usage: "rebuild the UID DB from uids.parquet",
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			imported, err := parquet.Import(c.Context, a.Paths.Parquet(), a.Repositories.PulledMessageRepository, a.Log)
			if err != nil {
				return err
			}
			linked, err := parquet.CrossReference(c.Context, a.Repositories.PulledMessageRepository, a.FileIndex, a.Log)
			if err != nil {
				return err
			}
			fmt.Printf("imported %d rows, cross-referenced %d against the file index\n", imported, linked)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the status dashboard",
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			return server.NewServer(a.Config, a, a.Log).Run()
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "pull all accounts on a schedule until interrupted",
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			wm := cron.NewWatchManager(a.Config.AppConfig, a, a.Log)
			if err := wm.Start(); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop
			wm.Stop()
			return nil
		},
	}
}
