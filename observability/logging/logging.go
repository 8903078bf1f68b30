// Package logging configures the structured logger shared by the lending
// market's service binary and its HTTP layer, adapted from the teacher's
// observability/logging package: JSON output, renamed timestamp/severity/
// message keys, and a service/env pair attached to every record.
package logging

import (
	"log/slog"
	"os"
)

// Setup returns a JSON slog.Logger tagged with service and env, writing to
// stdout. Renaming the standard attribute keys (time/level/msg ->
// timestamp/severity/message) matches the field names the rest of the
// teacher's log pipeline expects downstream.
func Setup(service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				a.Key = "timestamp"
			case slog.LevelKey:
				a.Key = "severity"
			case slog.MessageKey:
				a.Key = "message"
			}
			return a
		},
	})
	return slog.New(handler).With("service", service, "env", env)
}
