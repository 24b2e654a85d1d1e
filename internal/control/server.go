package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sfwriter/internal/acquisition"
	"sfwriter/internal/api"
	"sfwriter/internal/logging"
	"sfwriter/internal/ringbuffer"
)

const maxParametersBody = 1 << 20

// RingStats exposes ring occupancy to the statistics endpoint.
type RingStats interface {
	Stats() ringbuffer.Stats
	SlotBytes() int
}

// Options configures a Server.
type Options struct {
	BindHost          string
	Port              int
	Token             string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Server is the HTTP control plane of one acquisition.
type Server struct {
	ctrl            *acquisition.Controller
	ring            RingStats
	addr            string
	shutdownTimeout time.Duration
	logger          *slog.Logger
	now             func() time.Time

	handler http.Handler
	server  *http.Server
}

// NewServer wires the control endpoints onto a fresh mux.
func NewServer(ctrl *acquisition.Controller, ring RingStats, opts Options) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	readHeader := opts.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = 5 * time.Second
	}
	shutdown := opts.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 5 * time.Second
	}
	s := &Server{
		ctrl:            ctrl,
		ring:            ring,
		addr:            net.JoinHostPort(opts.BindHost, strconv.Itoa(opts.Port)),
		shutdownTimeout: shutdown,
		logger:          logging.NewComponentLogger(opts.Logger, "control"),
		now:             now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /statistics", s.handleStatistics)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("POST /kill", s.handleKill)
	mux.HandleFunc("GET /parameters", s.handleGetParameters)
	mux.HandleFunc("POST /parameters", s.handleSetParameters)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	s.handler = authMiddleware(opts.Token, mux)

	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeader,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the authenticated control mux.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.addr }

// Serve serves on listener until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()
	s.logger.Info("control plane listening", logging.String("address", listener.Addr().String()))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		_ = s.server.Close()
		return fmt.Errorf("control shutdown: %w", err)
	}
	<-errCh
	s.logger.Info("control plane stopped")
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.FromSnapshot(s.ctrl.Snapshot(), s.now()))
}

func (s *Server) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	var (
		ring      ringbuffer.Stats
		slotBytes int
	)
	if s.ring != nil {
		ring = s.ring.Stats()
		slotBytes = s.ring.SlotBytes()
	}
	s.writeJSON(w, http.StatusOK, api.StatisticsFrom(s.ctrl.Snapshot(), ring, slotBytes, s.now()))
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.logger.Info("stop requested over control plane")
	s.ctrl.Stop()
	s.writeJSON(w, http.StatusOK, api.ActionResponse{State: s.ctrl.State().String(), Message: "stop requested"})
}

func (s *Server) handleKill(w http.ResponseWriter, _ *http.Request) {
	s.logger.Info("kill requested over control plane")
	s.ctrl.Kill()
	s.writeJSON(w, http.StatusOK, api.ActionResponse{State: s.ctrl.State().String(), Message: "kill requested"})
}

func (s *Server) handleGetParameters(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.parameters())
}

func (s *Server) handleSetParameters(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxParametersBody))
	dec.UseNumber()
	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		s.writeError(w, http.StatusBadRequest, "parameters must be a JSON object: "+err.Error())
		return
	}
	if len(values) == 0 {
		s.writeError(w, http.StatusBadRequest, "no parameters supplied")
		return
	}
	if err := s.ctrl.SubmitParameters(values); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, acquisition.ErrUnknownParameter) || errors.Is(err, acquisition.ErrInvalidParameter) {
			status = http.StatusBadRequest
		}
		logging.WarnWithContext(s.logger, "parameter submission rejected", "parameters_rejected",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check parameter names and types with GET /parameters"),
			logging.String(logging.FieldImpact, "no parameters were stored"),
		)
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.parameters())
}

func (s *Server) parameters() api.Parameters {
	missing := s.ctrl.MissingParameters()
	if missing == nil {
		missing = []string{}
	}
	return api.Parameters{
		Values:  s.ctrl.Parameters(),
		Types:   s.ctrl.ParameterTypes(),
		Missing: missing,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
