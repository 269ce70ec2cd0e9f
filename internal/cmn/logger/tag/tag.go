// Package tag provides standardized tag functions for structured logging.
//
// All tag keys use kebab-case naming. Use these functions instead of raw
// strings to keep log output consistent across the codebase.
package tag

import (
	"log/slog"
	"time"
)

func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Project creates a tag for project identifiers.
func Project(id string) slog.Attr {
	return slog.String("project", id)
}

// Block creates a tag for compute block identifiers.
func Block(id string) slog.Attr {
	return slog.String("block", id)
}

// Port creates a tag for input/output port identifiers.
func Port(id string) slog.Attr {
	return slog.String("port", id)
}

// Entrypoint creates a tag for entrypoint identifiers.
func Entrypoint(id string) slog.Attr {
	return slog.String("entrypoint", id)
}

// DAG creates a tag for DAG identifiers handed to the orchestrator.
func DAG(id string) slog.Attr {
	return slog.String("dag", id)
}

// RunID creates a tag for orchestrator run identifiers.
func RunID(id string) slog.Attr {
	return slog.String("run-id", id)
}

// RepoURL creates a tag for manifest source repository URLs.
func RepoURL(url string) slog.Attr {
	return slog.String("repo-url", url)
}

// Template creates a tag for workflow template identifiers.
func Template(name string) slog.Attr {
	return slog.String("template", name)
}

// User creates a tag for user identifiers.
func User(id string) slog.Attr {
	return slog.String("user", id)
}

// Path creates a tag for filesystem paths.
func Path(p string) slog.Attr {
	return slog.String("path", p)
}

// Duration creates a tag for elapsed durations.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Count creates a tag for counts of things.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}
