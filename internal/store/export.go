package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/cellstore/internal/cell"
	"github.com/nextlevelbuilder/cellstore/internal/codec"
)

// ExportDir holds default exports, relative to the data directory. It is
// kept apart from the file layout so an export never replaces a live store.
const ExportDir = "exports"

// Format is the encoding of an export file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrUnknownFormat is returned by ParseFormat for anything but json or yaml.
var ErrUnknownFormat = errors.New("store: unknown format")

// ParseFormat accepts "json", "yaml" and "yml". An empty string is json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatForPath guesses the format from a file extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Ext is the file extension used for default export names.
func (f Format) Ext() string {
	if f == FormatYAML {
		return ".yaml"
	}
	return ".json"
}

// DefaultExportPath is where Export writes when no file is given, relative
// to the data directory.
func DefaultExportPath(name string, f Format) string {
	return filepath.Join(ExportDir, name+f.Ext())
}

// Export writes store name to file in format f. An empty file selects
// DefaultExportPath. Values that fail validation are not written.
func (s *Stores) Export(ctx context.Context, name, file string, f Format) error {
	if file == "" {
		file = DefaultExportPath(name, f)
	}
	switch name {
	case NameCollections:
		return exportAs(ctx, s.Collections, file, f, collectionsValidator)
	case NameCurrentCollectionID:
		return exportAs(ctx, s.CurrentCollectionID, file, f, nil)
	case NameEnvironments:
		return exportAs(ctx, s.Environments, file, f, environmentsValidator)
	case NameCurrentEnvironmentID:
		return exportAs(ctx, s.CurrentEnvironmentID, file, f, nil)
	case NameHistory:
		return exportAs(ctx, s.History, file, f, historyValidator)
	case NameHistoryEnabled:
		return exportAs(ctx, s.HistoryEnabled, file, f, nil)
	case NameCookies:
		return exportAs(ctx, s.Cookies, file, f, cookiesValidator)
	case NameSecrets:
		return exportAs(ctx, s.Secrets, file, f, secretsValidator)
	}
	return fmt.Errorf("%w: %s", ErrUnknownStore, name)
}

// Import reads file in format f into store name and flushes it. An empty
// file selects DefaultExportPath. The current value is kept when the file is
// missing or invalid.
func (s *Stores) Import(ctx context.Context, name, file string, f Format) error {
	if file == "" {
		file = DefaultExportPath(name, f)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch name {
	case NameCollections:
		return importAs(ctx, s.Collections, file, f, collectionsValidator)
	case NameCurrentCollectionID:
		return importAs(ctx, s.CurrentCollectionID, file, f, nil)
	case NameEnvironments:
		return importAs(ctx, s.Environments, file, f, environmentsValidator)
	case NameCurrentEnvironmentID:
		return importAs(ctx, s.CurrentEnvironmentID, file, f, nil)
	case NameHistory:
		return importAs(ctx, s.History, file, f, historyValidator)
	case NameHistoryEnabled:
		return importAs(ctx, s.HistoryEnabled, file, f, nil)
	case NameCookies:
		return importAs(ctx, s.Cookies, file, f, cookiesValidator)
	case NameSecrets:
		return importAs(ctx, s.Secrets, file, f, secretsValidator)
	}
	return fmt.Errorf("%w: %s", ErrUnknownStore, name)
}

func exportAs[T any](ctx context.Context, c *cell.Cell[T], file string, f Format, v codec.Validator[T]) error {
	return c.ExportAs(ctx, file, fileCodec(f, v))
}

func importAs[T any](ctx context.Context, c *cell.Cell[T], file string, f Format, v codec.Validator[T]) error {
	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	if err := c.ImportAs(ctx, file, fileCodec(f, v)); err != nil {
		return err
	}
	return c.Flush(ctx)
}

// fileCodec reads JSON exports leniently, so hand-edited files import.
func fileCodec[T any](f Format, v codec.Validator[T]) codec.Codec[T] {
	if f == FormatYAML {
		return codec.Validated(codec.YAML[T](), v)
	}
	return codec.Validated(codec.JSON5[T](), v)
}
