package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intent-cli/internal/artifact"
	"github.com/sells-group/intent-cli/internal/events"
	"github.com/sells-group/intent-cli/internal/model"
	"github.com/sells-group/intent-cli/internal/monitoring"
	"github.com/sells-group/intent-cli/internal/orchestrator"
	"github.com/sells-group/intent-cli/internal/store"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intent discovery HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initDiscovery(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: newRouter(env.Orchestrator, env.Store, routerOptions{
				AllowedOrigins: cfg.Server.AllowedOrigins,
				FilterMinScore: cfg.Pipeline.AcceptThreshold,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if cfg.Monitoring.Enabled() && env.Store != nil {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// routerOptions configures newRouter.
type routerOptions struct {
	AllowedOrigins []string
	// FilterMinScore is the default minimum L3 score for /intents/filter.
	FilterMinScore int
}

type server struct {
	runner   discoverer
	store    store.Store // may be nil
	opts     routerOptions
	upgrader websocket.Upgrader
}

// newRouter builds the HTTP surface. st may be nil, in which case the run
// history routes answer 503.
func newRouter(d discoverer, st store.Store, opts routerOptions) http.Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &server{runner: d, store: st, opts: opts}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/intents", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Get("/ws", s.handleWebSocket)
		r.Post("/filter", s.handleFilter)
	})
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGenerate streams one run as server-sent events.
func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var job orchestrator.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The request context ends when the client disconnects.
	ctx, cancel := events.WithConsumer(r.Context())
	defer cancel(nil)

	sink := events.NewSSESink(w)
	w.WriteHeader(http.StatusOK)
	if _, err := s.runner.Run(ctx, job, sink); err != nil {
		zap.L().Warn("serve: run ended", zap.String("company", job.Company), zap.Error(err))
	}
}

// handleWebSocket reads the job from the first client message, then pushes
// events as JSON frames until the run ends.
func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		zap.L().Debug("serve: websocket upgrade failed", zap.Error(err))
		return
	}

	var job orchestrator.Job
	if err := conn.ReadJSON(&job); err != nil {
		_ = conn.WriteJSON(events.Error("invalid request body"))
		_ = conn.Close()
		return
	}

	ctx, cancel := events.WithConsumer(r.Context())
	defer cancel(nil)

	sink := events.NewWebSocketSink(conn, cancel)
	defer sink.Close() //nolint:errcheck

	if _, err := s.runner.Run(ctx, job, sink); err != nil {
		zap.L().Warn("serve: websocket run ended", zap.String("company", job.Company), zap.Error(err))
	}
}

type filterRequest struct {
	RunDir   string `json:"run_dir"`
	Intent   string `json:"intent"`
	MinScore int    `json:"min_score"`
}

func (s *server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MinScore <= 0 {
		req.MinScore = s.opts.FilterMinScore
	}

	res, err := filterIntent(req.RunDir, req.Intent, req.MinScore)
	switch {
	case errors.Is(err, artifact.ErrNoMatches):
		writeError(w, http.StatusNotFound, "no conversations match intent")
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	q := r.URL.Query()
	filter := store.RunFilter{
		Status:  model.RunStatus(q.Get("status")),
		Company: q.Get("company"),
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("serve: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	detail, err := loadRunDetail(r.Context(), s.store, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		zap.L().Error("serve: get run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get run failed")
	default:
		writeJSON(w, http.StatusOK, detail)
	}
}

func (s *server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.opts.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, origin)
}

// requestLogger logs one line per request at Debug.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("serve: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, eris.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
