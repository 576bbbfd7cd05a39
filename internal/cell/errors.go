package cell

import "errors"

var (
	// ErrHydration wraps read or decode failures during the initial load. It is
	// reported, never returned from New.
	ErrHydration = errors.New("cell: hydration failed")

	// ErrWrite wraps encode or backend failures on the write path.
	ErrWrite = errors.New("cell: write failed")

	// ErrImport wraps read or decode failures of ImportFromFile.
	ErrImport = errors.New("cell: import failed")

	// ErrClosed is returned by Flush after Close.
	ErrClosed = errors.New("cell: closed")
)
