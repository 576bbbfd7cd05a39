package cmd

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cellstore/internal/backend"
	"github.com/nextlevelbuilder/cellstore/internal/store"
)

func backupCmd() *cobra.Command {
	var (
		dir     string
		toS3    bool
		keepAll bool
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up collections, environments and history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStores(ctx, func(s *session) error {
				_, err := runBackup(ctx, s, cmd.OutOrStdout(), dir, toS3, !keepAll)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "backup root directory (default from config)")
	cmd.Flags().BoolVar(&toS3, "s3", false, "also upload the backup to the configured S3 bucket")
	cmd.Flags().BoolVar(&keepAll, "keep-all", false, "do not prune old backups")
	return cmd
}

// runBackup writes a backup under root (or the configured dir), optionally
// uploads it and prunes old ones. It returns the new backup directory.
func runBackup(ctx context.Context, s *session, w io.Writer, root string, toS3, prune bool) (string, error) {
	if root == "" {
		root = s.cfg.Backup.Dir
	}
	out, err := s.stores.Backup(ctx, root)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(w, "Backup written to %s\n", out)

	if toS3 {
		bc := s.cfg.Backup
		if bc.Bucket == "" {
			return out, fmt.Errorf("--s3 needs backup.s3_bucket in the config")
		}
		client, err := backend.NewS3Client(ctx, backend.S3Options{
			Region:          bc.Region,
			Endpoint:        bc.Endpoint,
			AccessKeyID:     bc.KeyID,
			SecretAccessKey: bc.Secret,
		})
		if err != nil {
			return out, err
		}
		stamp := path.Base(out)
		err = store.Upload(ctx, out, func(file string) backend.Backend {
			return backend.NewS3(client, bc.Bucket, path.Join(bc.Prefix, stamp, file))
		})
		if err != nil {
			return out, err
		}
		fmt.Fprintf(w, "Uploaded to s3://%s/%s\n", bc.Bucket, path.Join(bc.Prefix, stamp))
	}

	if prune {
		removed, err := store.PruneBackups(root, s.cfg.Backup.MaxKeeps)
		if err != nil {
			return out, err
		}
		if removed > 0 {
			fmt.Fprintf(w, "Removed %d old backup(s)\n", removed)
		}
	}
	return out, nil
}

func restoreCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore <dir>",
		Short: "Restore collections, environments and history from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := promptConfirm("Restore backup "+args[0]+"?", "Collections, environments and history are replaced.")
				if err != nil {
					return err
				}
				if !ok {
					return errAborted
				}
			}
			return withStores(cmd.Context(), func(s *session) error {
				if err := s.stores.Restore(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Backup restored.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}
