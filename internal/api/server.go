package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jask/saldo/internal/metrics"
	"github.com/jask/saldo/internal/service"
)

// Deps is everything the HTTP layer needs.
type Deps struct {
	Categorizer  *service.CategorizerService
	Balances     *service.BalanceService
	Ingest       *service.IngestService
	Analytics    *service.AnalyticsService
	Insights     *service.InsightService
	Maintenance  *service.MaintenanceService
	Metrics      *metrics.Metrics
	Log          zerolog.Logger
	PasswordHash string
}

// Server holds the handlers.
type Server struct {
	deps Deps
}

func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Handler returns the routed mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	mux.HandleFunc("GET /api/categories", s.handleListCategories)
	mux.HandleFunc("POST /api/categories", s.handleCreateCategory)
	mux.HandleFunc("PUT /api/categories/{id}", s.handleUpdateCategory)
	mux.HandleFunc("DELETE /api/categories/{id}", s.handleDeleteCategory)

	mux.HandleFunc("GET /api/rules", s.handleListRules)
	mux.HandleFunc("POST /api/rules", s.handleCreateRule)
	mux.HandleFunc("PUT /api/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /api/rules/{id}", s.handleDeleteRule)

	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)
	mux.HandleFunc("POST /api/transactions", s.handleCreateTransactions)
	mux.HandleFunc("POST /api/transactions/bulk", s.handleBulk)
	mux.HandleFunc("PUT /api/transactions/{id}/category", s.handleSetCategory)
	mux.HandleFunc("DELETE /api/transactions/{id}/category", s.handleClearCategory)
	mux.HandleFunc("POST /api/recategorize", s.handleRecategorize)
	mux.HandleFunc("POST /api/imports", s.handleImport)

	mux.HandleFunc("GET /api/balance", s.handleBalanceStatus)
	mux.HandleFunc("POST /api/balance", s.handleBalanceMutation)
	mux.HandleFunc("GET /api/balance/files", s.handleFileBalances)
	mux.HandleFunc("GET /api/balance/audit", s.handleAuditLog)
	mux.HandleFunc("POST /api/balance/running", s.handleRunningBalances)

	mux.HandleFunc("GET /api/analytics/summary", s.handleSummary)
	mux.HandleFunc("POST /api/insights", s.handleInsights)

	mux.HandleFunc("GET /api/backup", s.handleBackup)
	mux.HandleFunc("POST /api/backup/restore", s.handleRestore)

	var h http.Handler = mux
	h = BasicAuth(s.deps.PasswordHash, "/healthz")(h)
	h = CORS(h)
	h = Logger(s.deps.Log, s.deps.Metrics)(h)
	h = Recovery(s.deps.Log)(h)
	h = RequestID(h)
	return h
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to ten seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		s.deps.Log.Info().Str("addr", addr).Msg("HTTP server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.deps.Log.Info().Msg("HTTP server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Categorizer.Store.DB().PingContext(r.Context()); err != nil {
		WriteError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
