package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/events"
)

const HeaderCorrelationID = "X-Correlation-Id"

func NewRouter(h *Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationID)
	r.Use(requestLogger(logger))

	r.Get("/health", h.Health)

	r.Route("/api/warehouse", func(r chi.Router) {
		r.Get("/", h.ListInStock)
		r.Get("/{id}", h.GetProduct)
		for path, fn := range map[string]http.HandlerFunc{
			"/order":   h.Order,
			"/ship":    h.Ship,
			"/restock": h.Restock,
			"/add":     h.Add,
		} {
			r.Get(path, fn)
			r.Post(path, fn)
		}
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("latency", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("correlation_id", ww.Header().Get(HeaderCorrelationID)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// correlationID echoes X-Correlation-Id (or a fresh one) and hands it to the
// events emitted while serving the request.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(HeaderCorrelationID)
		if cid == "" {
			cid = uuid.NewString()
		}
		w.Header().Set(HeaderCorrelationID, cid)

		ctx := events.WithMeta(r.Context(), events.EventMeta{CorrelationID: cid})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
