package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// loggedParams are the route parameters copied into request logs, keyed by
// their chi name.
var loggedParams = map[string]string{
	"id":  "",
	"pid": "participant_id",
}

// Logger returns a request logging middleware using zerolog. Each line
// carries the matched route, the room, message or participant it touched,
// and the declared sender. Server errors log at error level, client errors
// at warn.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				var e *zerolog.Event
				switch {
				case status >= 500:
					e = logger.Error()
				case status >= 400:
					e = logger.Warn()
				default:
					e = logger.Info()
				}

				e = e.Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr)

				if sender := r.Header.Get(SenderHeader); sender != "" {
					e = e.Str("sender", sender)
				}
				e = routeFields(e, r)
				e.Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// routeFields adds the chi route pattern and URL parameters. chi fills the
// route context while routing, so it is complete once the handler returns.
func routeFields(e *zerolog.Event, r *http.Request) *zerolog.Event {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return e
	}
	pattern := rctx.RoutePattern()
	if pattern != "" {
		e = e.Str("route", pattern)
	}
	for i, key := range rctx.URLParams.Keys {
		field, ok := loggedParams[key]
		if !ok || i >= len(rctx.URLParams.Values) {
			continue
		}
		if field == "" {
			field = idField(pattern)
		}
		e = e.Str(field, rctx.URLParams.Values[i])
	}
	return e
}

// idField names the {id} parameter after the resource it addresses.
func idField(pattern string) string {
	if strings.HasPrefix(pattern, "/messages/") {
		return "message_id"
	}
	return "room_id"
}
