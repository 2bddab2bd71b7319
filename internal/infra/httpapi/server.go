// Package httpapi exposes the robot over a small authenticated REST API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"valetudo-home/internal/application"
	"valetudo-home/internal/domain"
	"valetudo-home/internal/infra/valetudo"
)

const (
	urlAction = "action"
	urlJobID  = "id"

	requestTimeout = 15 * time.Second
)

type Config struct {
	Addr      string
	AuthToken string
	// RateLimit is the number of API requests allowed per client per minute.
	RateLimit int
	// StreamInterval is how often websocket clients receive a status snapshot.
	StreamInterval time.Duration
}

type Server struct {
	cfg         Config
	dispatcher  *application.Dispatcher
	scheduler   *application.Scheduler
	gatherer    prometheus.Gatherer
	logger      *slog.Logger
	router      *mux.Router
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader

	// wsMu orders wsGroup.Add against the close of done in Stop.
	wsMu    sync.Mutex
	wsGroup sync.WaitGroup
	done    chan struct{}
	stopped bool

	mu      sync.Mutex
	server  *http.Server
	running bool
}

// NewServer builds the router. scheduler and gatherer may be nil, which
// disables the schedule and metrics routes.
func NewServer(cfg Config, dispatcher *application.Dispatcher, scheduler *application.Scheduler,
	gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 30
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 5 * time.Second
	}

	s := &Server{
		cfg:         cfg,
		dispatcher:  dispatcher,
		scheduler:   scheduler,
		gatherer:    gatherer,
		logger:      logger,
		router:      mux.NewRouter(),
		rateLimiter: NewRateLimiter(cfg.RateLimit, time.Minute),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		done: make(chan struct{}),
	}
	s.registerAPI()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerAPI() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleQuery(domain.ActionStatus)).Methods(http.MethodGet)
	api.HandleFunc("/consumables", s.handleQuery(domain.ActionConsumables)).Methods(http.MethodGet)
	api.HandleFunc("/volume", s.handleQuery(domain.ActionVolume)).Methods(http.MethodGet)
	api.HandleFunc("/token", s.handleQuery(domain.ActionToken)).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	api.HandleFunc(fmt.Sprintf("/commands/{%s}", urlAction), s.handleCommand).Methods(http.MethodPost)
	if s.scheduler != nil {
		api.HandleFunc("/schedule", s.handleSchedule).Methods(http.MethodGet)
		api.HandleFunc(fmt.Sprintf("/schedule/{%s:[0-9]+}/run", urlJobID), s.handleRunJob).Methods(http.MethodPost)
	}
	api.Use(s.logMiddleware)
	api.Use(s.rateLimiter.Middleware)
	api.Use(s.authMiddleware)
}

func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func(srv *http.Server) {
		s.logger.Info("HTTP API starting", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}(s.server)

	s.running = true
	return nil
}

// Stop shuts down the listener and closes open websocket streams.
func (s *Server) Stop() error {
	s.wsMu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.done)
	}
	s.wsMu.Unlock()
	defer s.wsGroup.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := s.server.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}

	s.running = false
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuery(action domain.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.execute(w, r, domain.Command{Action: action})
	}
}

type commandParams struct {
	Volume int `json:"volume"`
	Speed  int `json:"speed"`
	X      int `json:"x"`
	Y      int `json:"y"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	action, err := domain.ParseAction(mux.Vars(r)[urlAction])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	var params commandParams
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read body"})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid body: %v", err)})
			return
		}
	}

	s.execute(w, r, domain.Command{
		Action: action,
		Volume: params.Volume,
		Speed:  params.Speed,
		X:      params.X,
		Y:      params.Y,
	})
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, cmd domain.Command) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, err := s.dispatcher.Execute(ctx, cmd)
	if err != nil {
		writeRobotError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type jobBody struct {
	ID      int            `json:"id"`
	Spec    string         `json:"spec"`
	Command domain.Command `json:"command"`
	Next    *time.Time     `json:"next,omitempty"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, _ *http.Request) {
	jobs := s.scheduler.Jobs()
	out := make([]jobBody, 0, len(jobs))
	for _, j := range jobs {
		body := jobBody{ID: j.ID, Spec: j.Spec, Command: j.Command}
		if !j.Next.IsZero() {
			next := j.Next
			body.Next = &next
		}
		out = append(out, body)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)[urlJobID])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid job id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.scheduler.Run(ctx, id); err != nil {
		var verr *valetudo.Error
		if errors.As(err, &verr) {
			writeRobotError(w, err)
			return
		}
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken != "" {
			token := r.Header.Get("X-Auth-Token")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token != s.cfg.AuthToken {
				s.logger.Warn("unauthorized request", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

type errorBody struct {
	Error      string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

// writeRobotError maps robot failures to 502; anything else is a bad request.
func writeRobotError(w http.ResponseWriter, err error) {
	var verr *valetudo.Error
	if !errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusBadGateway, errorBody{
		Error:      err.Error(),
		Kind:       verr.Kind.String(),
		StatusCode: verr.StatusCode,
		Retryable:  verr.Retryable(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
