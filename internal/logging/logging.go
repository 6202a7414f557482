// Package logging provides structured logging with per-subsystem levels,
// configured from a single directive string in the style of the Rust
// `env_logger` grammar the original rockslide used ("rockslide=info").
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Subsystem names for per-subsystem level overrides.
const (
	Store        = "store"
	Registry     = "registry"
	Runtime      = "runtime"
	Orchestrator = "orchestrator"
	Proxy        = "proxy"
)

// Directive holds a parsed logging configuration: a default level plus
// optional per-subsystem overrides.
type Directive struct {
	Default   slog.Level
	Overrides map[string]slog.Level
}

// Parse parses a comma-separated "target=level" directive string, e.g.
// "rockslide=info" or "registry=debug,rockslide=warn". An unqualified
// level (just "debug") sets the default directly. The zero value for an
// empty string is "rockslide=info".
func Parse(directive string) Directive {
	d := Directive{Default: slog.LevelInfo, Overrides: map[string]slog.Level{}}
	if directive == "" {
		return d
	}
	for _, part := range strings.Split(directive, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		target, levelStr, ok := strings.Cut(part, "=")
		if !ok {
			d.Default = parseLevel(part)
			continue
		}
		level := parseLevel(levelStr)
		if target == "rockslide" {
			d.Default = level
			continue
		}
		d.Overrides[target] = level
	}
	return d
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFor returns the effective level for a subsystem.
func (d Directive) LevelFor(subsystem string) slog.Level {
	if level, ok := d.Overrides[subsystem]; ok {
		return level
	}
	return d.Default
}

// subsystemHandler scopes a JSON handler (one per logger built by New, all
// writing to stdout) to one subsystem's level and tags every record with a
// "subsystem" attribute.
type subsystemHandler struct {
	slog.Handler
	subsystem string
	level     slog.Level
}

func (h *subsystemHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *subsystemHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.String("subsystem", h.subsystem))
	return h.Handler.Handle(ctx, r)
}

func (h *subsystemHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &subsystemHandler{Handler: h.Handler.WithAttrs(attrs), subsystem: h.subsystem, level: h.level}
}

func (h *subsystemHandler) WithGroup(name string) slog.Handler {
	return &subsystemHandler{Handler: h.Handler.WithGroup(name), subsystem: h.subsystem, level: h.level}
}

// New creates a slog.Logger scoped to the given subsystem, with its level
// resolved from the directive (falling back to the default level).
func New(d Directive, subsystem string) *slog.Logger {
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: d.Default})
	return slog.New(&subsystemHandler{
		Handler:   base,
		subsystem: subsystem,
		level:     d.LevelFor(subsystem),
	})
}

type contextKey struct{}

// IntoContext attaches a logger to a context.
func IntoContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext retrieves the logger previously attached with IntoContext,
// falling back to slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
