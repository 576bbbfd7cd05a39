package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cellstore/internal/backend"
	"github.com/nextlevelbuilder/cellstore/internal/cell"
	"github.com/nextlevelbuilder/cellstore/internal/config"
	"github.com/nextlevelbuilder/cellstore/internal/cron"
	filestore "github.com/nextlevelbuilder/cellstore/internal/store/file"
	"github.com/nextlevelbuilder/cellstore/internal/watch"
)

const (
	backupJobName     = "backup"
	scheduleStateFile = "schedule-state.json"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Reload edited stores and run scheduled backups",
		Long: "Watch the data directory and reload stores edited by another process. " +
			"When backup.schedule is set, backups also run on that cron expression. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			// The stores are flushed by Close once ctx is cancelled, so the
			// session installs no exit hook of its own.
			return withSession(ctx, sessionOptions{ownsSignals: true}, func(s *session) error {
				return runWatch(ctx, s)
			})
		},
	}
}

func watchesFiles(mode string) bool {
	return mode == config.ModeFile || mode == config.ModeRedis
}

func runWatch(ctx context.Context, s *session) error {
	if !watchesFiles(s.cfg.Storage.Mode) && s.cfg.Backup.Schedule == "" {
		return fmt.Errorf("nothing to watch: mode %q has no store files and backup.schedule is empty", s.cfg.Storage.Mode)
	}
	if err := os.MkdirAll(s.cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if watchesFiles(s.cfg.Storage.Mode) {
		stopFiles, err := watchStoreFiles(ctx, s)
		if err != nil {
			return err
		}
		defer stopFiles()
	}

	if s.cfg.Backup.Schedule != "" {
		sched, err := startBackupSchedule(ctx, s)
		if err != nil {
			return err
		}
		defer sched.Stop()
	}

	cw, err := config.NewWatcher(resolveConfigPath(), s.cfg)
	if err == nil {
		cw.OnChange(func(next *config.Config) {
			if next.Storage.Mode != s.cfg.Storage.Mode || next.Storage.DataDir != s.cfg.Storage.DataDir ||
				next.Backup.Schedule != s.cfg.Backup.Schedule {
				slog.Warn("storage or schedule settings changed; restart watch to apply them")
			}
			s.cfg.ReplaceFrom(next)
		})
		if err := cw.Start(); err != nil {
			slog.Debug("config not watched", "error", err)
		} else {
			defer cw.Stop()
		}
	}

	slog.Info("watching", "dir", s.cfg.Storage.DataDir, "schedule", s.cfg.Backup.Schedule)
	<-ctx.Done()
	return nil
}

// watchStoreFiles reloads a file-backed store whenever its file changes.
func watchStoreFiles(ctx context.Context, s *session) (stop func(), err error) {
	var watchers []*watch.Watcher
	stop = func() {
		for _, w := range watchers {
			w.Stop()
		}
	}

	for name, path := range filestore.Paths(s.cfg.Storage.DataDir) {
		st, err := s.stores.Lookup(name)
		if err != nil {
			stop()
			return nil, err
		}
		w, err := watch.New(path, watch.DefaultDebounce)
		if err != nil {
			stop()
			return nil, err
		}
		w.OnChange(func(string) {
			if err := st.Reload(ctx); err != nil {
				slog.Warn("reload failed", "store", name, "error", err)
				return
			}
			slog.Debug("store checked for external changes", "store", name)
		})
		if err := w.Start(); err != nil {
			stop()
			return nil, err
		}
		watchers = append(watchers, w)
	}
	return stop, nil
}

// startBackupSchedule runs backups on backup.schedule. Job state lives in a
// cell next to the data so a backup missed while not running fires on start.
func startBackupSchedule(ctx context.Context, s *session) (*cron.Service, error) {
	state, err := cell.New(cron.State{}, cell.Config{
		Name:     "schedule-state",
		Backend:  backend.NewFile(filepath.Join(s.cfg.Storage.DataDir, scheduleStateFile)),
		Registry: s.stores.Registry(),
	})
	if err != nil {
		return nil, err
	}

	sched := cron.NewService(state)
	err = sched.AddJob(cron.Job{
		Name: backupJobName,
		Expr: s.cfg.Backup.Schedule,
		Run: func(ctx context.Context) (string, error) {
			return runBackup(ctx, s, io.Discard, "", s.cfg.Backup.Bucket != "", true)
		},
	})
	if err != nil {
		return nil, err
	}
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}
	return sched, nil
}
