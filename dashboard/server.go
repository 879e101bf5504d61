package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/TFMV/bistro/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bistro_http_requests_total",
		Help: "Dashboard requests by route and status code",
	}, []string{"route", "code"})
	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "bistro_http_request_duration_seconds",
		Help: "Dashboard request latency by route",
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(httpRequests, httpLatency)
}

// Server exposes a Session as a JSON API.
type Server struct {
	session *Session
	logger  *zap.Logger
	mux     *http.ServeMux
}

func NewServer(session *Session, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{session: session, logger: logger, mux: http.NewServeMux()}

	s.handle("GET /healthz", s.health)
	s.handle("GET /api/restaurants", s.restaurants)
	s.handle("GET /api/summary", s.view(ViewSummary))
	s.handle("GET /api/questions", s.view(ViewQuestions))
	s.handle("GET /api/charts/revenue", s.view(ViewRevenue))
	s.handle("GET /api/charts/aov", s.view(ViewAOV))
	s.handle("GET /api/charts/customers", s.view(ViewCustomers))
	s.handle("GET /api/charts/top-foods", s.view(ViewTopFoods))
	s.handle("GET /api/charts/popular-dishes", s.view(ViewPopularDishes))
	s.handle("GET /api/charts/profitable-dishes", s.view(ViewProfitableDishes))
	s.handle("GET /api/charts/frequent-customers", s.view(ViewFrequentCustomers))
	s.handle("GET /api/charts/explorers", s.view(ViewExplorers))
	s.mux.Handle("GET /metrics", promhttp.Handler())
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Dashboard listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("Dashboard shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// handle registers h behind request logging and metrics.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		elapsed := time.Since(start)
		httpRequests.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
		httpLatency.WithLabelValues(pattern).Observe(elapsed.Seconds())
		s.logger.Info("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed))
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"rows":        s.session.Engine().Snapshot().NumRows(),
		"distinct":    s.session.Engine().Snapshot().Cardinalities(),
		"snapshot_at": s.session.Engine().Snapshot().TakenAt(),
	})
}

func (s *Server) restaurants(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Restaurants())
}

func (s *Server) view(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		filter := query.Filter{Restaurant: params.Get("restaurant")}

		k := 0
		if raw := params.Get("k"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				s.writeError(w, http.StatusBadRequest, "k must be a positive integer")
				return
			}
			k = n
		}

		value, err := s.session.View(r.Context(), name, filter, k)
		switch {
		case err == nil:
			s.writeJSON(w, http.StatusOK, value)
		case errors.Is(err, ErrUnknownRestaurant):
			s.writeError(w, http.StatusNotFound, err.Error())
		default:
			s.logger.Error("Failed to compute view", zap.String("view", name), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to compute "+name)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
