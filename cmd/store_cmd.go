package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cellstore/internal/store"
)

var errAborted = errors.New("aborted")

func storeNamesHelp() string {
	return "Stores: " + strings.Join(store.Names, ", ")
}

// withStores opens a session, seeds defaults once hydrated and closes the
// session afterwards.
func withStores(ctx context.Context, fn func(s *session) error) error {
	return withSession(ctx, sessionOptions{}, fn)
}

func withSession(ctx context.Context, opts sessionOptions, fn func(s *session) error) (err error) {
	sess, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := sess.stores.InitDefaults(ctx); err != nil {
		return err
	}
	return fn(sess)
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <store>",
		Short: "Print a store's value as JSON",
		Long:  "Print a store's value as JSON.\n\n" + storeNamesHelp(),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(s *session) error {
				out, err := s.stores.GetJSON(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <store> <json|->",
		Short: "Replace a store's value (JSON5 accepted, - reads stdin)",
		Long:  "Replace a store's value. The value is validated and written before the command returns.\n\n" + storeNamesHelp(),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := args[1]
			if raw == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				raw = string(b)
			}
			return withStores(cmd.Context(), func(s *session) error {
				if err := s.stores.SetJSON(cmd.Context(), args[0], raw); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s.\n", args[0])
				return nil
			})
		},
	}
}

func exportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <store> [file]",
		Short: "Write a store's value to a file",
		Long: "Write a store's value to a file as JSON or YAML. Relative names resolve against the data directory; " +
			"the default is " + store.ExportDir + "/<store>.json (or .yaml), which never replaces a live store file.\n\n" + storeNamesHelp(),
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := ""
			if len(args) == 2 {
				abs, err := filepath.Abs(args[1])
				if err != nil {
					return err
				}
				file = abs
			}
			f, err := fileFormat(format, file)
			if err != nil {
				return err
			}
			return withStores(cmd.Context(), func(s *session) error {
				if err := s.stores.Export(cmd.Context(), args[0], file, f); err != nil {
					return err
				}
				if file == "" {
					file = store.DefaultExportPath(args[0], f)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s.\n", args[0], file)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "json or yaml (default from the file extension, else json)")
	return cmd
}

func importCmd() *cobra.Command {
	var (
		yes    bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "import <store> <file>",
		Short: "Replace a store's value with a file's content",
		Long: "Replace a store's value with a JSON (JSON5 accepted) or YAML file's content. " +
			"A missing or invalid file fails without changing anything.\n\n" + storeNamesHelp(),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}
			f, err := fileFormat(format, file)
			if err != nil {
				return err
			}
			if !yes {
				ok, err := promptConfirm(fmt.Sprintf("Replace %s with %s?", args[0], args[1]), "The current value is overwritten.")
				if err != nil {
					return err
				}
				if !ok {
					return errAborted
				}
			}
			return withStores(cmd.Context(), func(s *session) error {
				if err := s.stores.Import(cmd.Context(), args[0], file, f); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s.\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	cmd.Flags().StringVarP(&format, "format", "f", "", "json or yaml (default from the file extension, else json)")
	return cmd
}

// fileFormat resolves --format, falling back to the file's extension.
func fileFormat(flag, file string) (store.Format, error) {
	if flag != "" {
		return store.ParseFormat(flag)
	}
	return store.FormatForPath(file), nil
}
