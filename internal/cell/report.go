package cell

import "log/slog"

// Reporter surfaces failures that are recovered locally, such as a cell that
// fell back to its initial value because persisted state could not be read.
type Reporter interface {
	Report(name string, err error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(name string, err error)

func (f ReporterFunc) Report(name string, err error) { f(name, err) }

// SlogReporter logs reports at error level.
type SlogReporter struct{}

func (SlogReporter) Report(name string, err error) {
	slog.Error("cell: recovered failure", "cell", name, "error", err)
}
