// Package file lays the stores out on the local filesystem: large stores as
// JSON files in the data directory, small settings in a key-value store.
package file

import (
	"fmt"
	"path/filepath"

	"github.com/nextlevelbuilder/cellstore/internal/backend"
	"github.com/nextlevelbuilder/cellstore/internal/store"
)

// fileNames lists the stores persisted as files.
var fileNames = map[string]string{
	store.NameCollections:  "collections.json",
	store.NameEnvironments: "env.json",
	store.NameHistory:      "request-history.json",
	store.NameCookies:      "cookies.json",
}

// Path returns the file a store lives in under dataDir, if it is file-backed.
func Path(dataDir, name string) (string, bool) {
	f, ok := fileNames[name]
	if !ok {
		return "", false
	}
	return filepath.Join(dataDir, f), true
}

// Paths maps every file-backed store to its path.
func Paths(dataDir string) map[string]string {
	out := make(map[string]string, len(fileNames))
	for name := range fileNames {
		out[name], _ = Path(dataDir, name)
	}
	return out
}

// NewLayout builds the standalone layout. Collections are written to both
// their file and kv; the file wins on read. secrets, when non-nil, holds the
// secrets store (keyring or encrypted kv).
func NewLayout(dataDir string, kv backend.KV, secrets backend.Backend) store.Layout {
	return store.LayoutFunc(func(name string) (backend.Backend, error) {
		switch name {
		case store.NameCollections:
			p, _ := Path(dataDir, name)
			return backend.Fallback(backend.NewFile(p), backend.Key(kv, name)), nil
		case store.NameEnvironments, store.NameHistory, store.NameCookies:
			p, _ := Path(dataDir, name)
			return backend.NewFile(p), nil
		case store.NameSecrets:
			if secrets != nil {
				return secrets, nil
			}
			return backend.Key(kv, name), nil
		case store.NameCurrentCollectionID, store.NameCurrentEnvironmentID, store.NameHistoryEnabled:
			return backend.Key(kv, name), nil
		}
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownStore, name)
	})
}
