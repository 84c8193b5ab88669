package api

import (
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/relayd/internal/logging"
)

// HTTPLoggingMiddleware logs requests at a level keyed to the response
// status. Probe traffic (health checks, CORS preflight) stays at debug so
// a monitored daemon does not fill the journal with 200s.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("http")

	method := ctx.Method()
	path := ctx.URL().Path

	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if query := ctx.URL().RawQuery; query != "" {
		attrs = append(attrs, slog.String("query", query))
	}
	if userAgent := ctx.Header("User-Agent"); userAgent != "" {
		attrs = append(attrs, slog.String("user_agent", userAgent))
	}

	next(ctx)

	status := ctx.Status()
	attrs = append(attrs,
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
	)

	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	case method == "OPTIONS" || path == "/api/health":
		level = slog.LevelDebug
	case path == "/api/events" || path == "/api/metrics":
		// SSE connections run for hours and only log once the client
		// goes away, so the completion line is noise at info.
		level = slog.LevelDebug
	}

	logger.LogAttrs(ctx.Context(), level, "HTTP request completed", attrs...)
}
