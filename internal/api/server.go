package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tutorchat/internal/chat"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	ActiveUsers int    `json:"activeUsers"`
	Timestamp   string `json:"timestamp"`
}

// NewRouter serves the websocket relay on / and /ws, the status endpoint and
// the metrics gathered from g.
func NewRouter(m *chat.Manager, ws http.Handler, g prometheus.Gatherer, allowedOrigins []string, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))

	r.Get("/", ws.ServeHTTP)
	r.Get("/ws", ws.ServeHTTP)
	r.Get("/api/status", statusHandler(m))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	return r
}

func statusHandler(m *chat.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := m.Snapshot()
		body, err := json.Marshal(StatusResponse{
			Status:      "online",
			Connections: s.Connections,
			ActiveUsers: s.ActiveUsers,
			Timestamp:   chat.FormatTime(s.Timestamp),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}
