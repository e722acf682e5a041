// Package reporter carries the operator-facing reporting capability through
// the bridging flows. It is always an explicitly constructed value passed
// down from main; no package-level default exists.
package reporter

import "log/slog"

// Reporter reports flow progress to the operator. Implementations must be
// safe for sequential use from a single flow; the engine never reports
// concurrently.
type Reporter interface {
	// Step reports a tagged intermediate step, e.g. Step("SEND", "...").
	Step(tag, msg string, args ...any)
	Info(msg string, args ...any)
	Success(msg string, args ...any)
	Warning(msg string, args ...any)
	Error(msg string, args ...any)
}

// Slog adapts a *slog.Logger to the Reporter capability.
type Slog struct {
	log *slog.Logger
}

func NewSlog(log *slog.Logger) *Slog {
	if log == nil {
		log = slog.Default()
	}
	return &Slog{log: log}
}

func (r *Slog) Step(tag, msg string, args ...any) {
	r.log.Info(msg, append([]any{"step", tag}, args...)...)
}

func (r *Slog) Info(msg string, args ...any)    { r.log.Info(msg, args...) }
func (r *Slog) Success(msg string, args ...any) { r.log.Info(msg, append([]any{"outcome", "ok"}, args...)...) }
func (r *Slog) Warning(msg string, args ...any) { r.log.Warn(msg, args...) }
func (r *Slog) Error(msg string, args ...any)   { r.log.Error(msg, args...) }

// Nop discards all reports.
type Nop struct{}

func (Nop) Step(string, string, ...any) {}
func (Nop) Info(string, ...any)         {}
func (Nop) Success(string, ...any)      {}
func (Nop) Warning(string, ...any)      {}
func (Nop) Error(string, ...any)        {}
