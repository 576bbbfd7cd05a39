package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/cellstore/internal/backend"
)

// backupFiles maps the stores included in a backup to their file names.
var backupFiles = []struct {
	store string
	file  string
}{
	{NameCollections, "collections.json"},
	{NameEnvironments, "environments.json"},
	{NameHistory, "history.json"},
}

// BackupFiles lists the file names a backup directory contains.
func BackupFiles() []string {
	names := make([]string, len(backupFiles))
	for i, f := range backupFiles {
		names[i] = f.file
	}
	return names
}

// Backup exports collections, environments and history into a new
// timestamped directory under root and returns its path.
func (s *Stores) Backup(ctx context.Context, root string) (string, error) {
	if err := s.WaitReady(ctx); err != nil {
		return "", err
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	stamp := strings.ReplaceAll(time.Now().UTC().Format("2006-01-02T15:04:05.000Z"), ":", "-")
	dir := filepath.Join(root, stamp)

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range backupFiles {
		st, err := s.Lookup(f.store)
		if err != nil {
			return "", err
		}
		path := filepath.Join(dir, f.file)
		g.Go(func() error {
			if err := st.ExportToFile(gctx, path); err != nil {
				return fmt.Errorf("backup %s: %w", f.store, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	slog.Info("store: backup written", "dir", dir)
	return dir, nil
}

// Restore imports a backup directory. Every file must be present and valid;
// stores are restored independently, so a failure can leave earlier ones
// restored.
func (s *Stores) Restore(ctx context.Context, dir string) error {
	if err := s.WaitReady(ctx); err != nil {
		return err
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	for _, f := range backupFiles {
		st, err := s.Lookup(f.store)
		if err != nil {
			return err
		}
		if err := st.ImportFromFile(ctx, filepath.Join(dir, f.file)); err != nil {
			return fmt.Errorf("restore %s: %w", f.store, err)
		}
	}
	if err := s.FlushAll(ctx); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	slog.Info("store: backup restored", "dir", dir)
	return nil
}

// Upload copies a backup directory's files into the backends returned by
// dest, concurrently.
func Upload(ctx context.Context, dir string, dest func(file string) backend.Backend) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range BackupFiles() {
		g.Go(func() error {
			data, ok, err := backend.NewFile(filepath.Join(dir, name)).Read(gctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("upload %s: %w", name, os.ErrNotExist)
			}
			b := dest(name)
			if err := b.Write(gctx, data); err != nil {
				return fmt.Errorf("upload %s to %s: %w", name, b.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ListBackups returns backup directories under root, newest first.
func ListBackups(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	// Timestamped names sort chronologically.
	slices.Sort(dirs)
	slices.Reverse(dirs)
	return dirs, nil
}

// PruneBackups keeps the newest keep backups under root and removes the
// rest. keep <= 0 keeps everything.
func PruneBackups(root string, keep int) (removed int, err error) {
	if keep <= 0 {
		return 0, nil
	}
	dirs, err := ListBackups(root)
	if err != nil {
		return 0, err
	}
	for _, d := range dirs[min(keep, len(dirs)):] {
		if err := os.RemoveAll(d); err != nil {
			return removed, fmt.Errorf("prune %s: %w", d, err)
		}
		removed++
	}
	return removed, nil
}
