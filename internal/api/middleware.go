package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID. A client-supplied value is kept.
const RequestIDHeader = "X-Request-ID"

// requestLevel picks the level for a finished request. Preflights and
// event streams, which close whenever the client goes away, stay at debug.
func requestLevel(method string, status int, streaming bool) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case method == http.MethodOptions, streaming:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// newRequestLogger returns middleware that tags every response with a
// request ID and logs the request once it completes.
func newRequestLogger(logger *slog.Logger) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()

		id := ctx.Header(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		ctx.SetHeader(RequestIDHeader, id)

		u := ctx.URL()
		streaming := strings.Contains(ctx.Header("Accept"), "text/event-stream")
		if streaming {
			logger.Debug("Stream opened", "request_id", id, "path", u.Path)
		}

		next(ctx)

		status := ctx.Status()
		attrs := []slog.Attr{
			slog.String("request_id", id),
			slog.String("method", ctx.Method()),
			slog.String("path", u.Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_addr", ctx.RemoteAddr()),
		}
		if u.RawQuery != "" && !strings.Contains(u.RawQuery, "auth=") {
			attrs = append(attrs, slog.String("query", u.RawQuery))
		}
		logger.LogAttrs(ctx.Context(), requestLevel(ctx.Method(), status, streaming), "Request completed", attrs...)
	}
}
