package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger returns a middleware that logs one line per HTTP request.
//
// A request-scoped logger carrying request and trace IDs is stored in the
// context; handlers retrieve it with zerolog.Ctx and downstream middleware
// may enrich it (Auth adds client_id). Server errors log at error level,
// client errors at warn, the rest at info.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newStatusRecorder(w)

			lc := log.With().Str("request_id", GetRequestID(r.Context()))
			if spanCtx := trace.SpanContextFromContext(r.Context()); spanCtx.IsValid() {
				lc = lc.
					Str("trace_id", spanCtx.TraceID().String()).
					Str("span_id", spanCtx.SpanID().String())
			}
			reqLog := lc.Logger()
			ctx := reqLog.WithContext(r.Context())
			r = r.WithContext(ctx)

			next.ServeHTTP(wrapped, r)

			l := zerolog.Ctx(ctx)
			var event *zerolog.Event
			switch {
			case wrapped.statusCode >= 500:
				event = l.Error()
			case wrapped.statusCode >= 400:
				event = l.Warn()
			default:
				event = l.Info()
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", routePattern(r)).
				Int("status", wrapped.statusCode).
				Int64("bytes", wrapped.written).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Str("user_agent", r.UserAgent()).
				Msg("request completed")
		})
	}
}
