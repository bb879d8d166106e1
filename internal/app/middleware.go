package app

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Spok95/ct-filing/internal/ctxutil"
	"github.com/Spok95/ct-filing/internal/logging"
	"github.com/Spok95/ct-filing/internal/metrics"
	"github.com/Spok95/ct-filing/internal/observability"
)

const headerRequestID = "X-Request-ID"

// requestID берёт X-Request-ID клиента или генерирует новый.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctxutil.WithRequestID(r.Context(), id)))
	})
}

// requestLogger пишет итог запроса в zap и в метрики по шаблону маршрута.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)
			metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
			metrics.HTTPDuration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())

			l := logging.FromContext(r.Context(), log)
			fields := []zap.Field{
				zap.Int("status", status),
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.String("path", r.URL.Path),
				zap.Duration("latency", elapsed),
			}
			switch {
			case status >= 500:
				l.Error("request completed", fields...)
			case status >= 400:
				l.Warn("request completed", fields...)
			default:
				l.Info("request completed", fields...)
			}
		})
	}
}

// recoverer превращает панику обработчика в 500 и отправляет её в Sentry.
func recoverer(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					observability.CaptureErr(fmt.Errorf("panic in %s %s: %v", r.Method, r.URL.Path, rec))
					logging.FromContext(r.Context(), log).Error("panic recovered",
						zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
					rid, _ := ctxutil.RequestID(r.Context())
					writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", RequestID: rid})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
