package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/switchyard/internal/bridge"
)

// acceptTimeout bounds how long a delivery waits for the bridge to take it.
const acceptTimeout = 5 * time.Second

// Server is a bridge.CommandSource fed by signed webhook deliveries.
type Server struct {
	config   Config
	ids      *bridge.IDs
	commands chan bridge.Command
	client   *http.Client
	logger   *slog.Logger

	// endpoints maps URL paths to their configurations
	endpoints map[string]*EndpointConfig
}

// New creates a webhook server. ids should be shared with any other source
// feeding the same bridge; nil gets a private generator.
func New(config Config, ids *bridge.IDs, logger *slog.Logger) *Server {
	if ids == nil {
		ids = bridge.NewIDs()
	}
	endpoints := make(map[string]*EndpointConfig)
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		endpoints[ep.Path] = ep
	}

	return &Server{
		config:    config,
		ids:       ids,
		commands:  make(chan bridge.Command),
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
		endpoints: endpoints,
	}
}

func (s *Server) Commands() <-chan bridge.Command { return s.commands }

// Start runs the webhook HTTP server until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Routes returns the webhook router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handleWebhook)
	}

	return r
}

// loggingMiddleware logs requests without their bodies.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := r.Header.Get(endpoint.SignatureHeader)
	if signature == "" {
		s.logger.Warn("webhook signature missing", "path", r.URL.Path, "header", endpoint.SignatureHeader)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := verifyHMACSignature(body, signature, endpoint.Secret); err != nil {
		s.logger.Warn("webhook signature verification failed", "path", r.URL.Path, "error", err)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	cmd := bridge.Command{
		ID:      s.ids.Next(),
		Name:    endpoint.Command,
		Message: string(body),
		Options: r.URL.Query()["option"],
	}
	cmd.Reply = s.replierFor(endpoint, cmd.ID)

	ctx, cancel := context.WithTimeout(r.Context(), acceptTimeout)
	defer cancel()
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		s.logger.Error("bridge did not take webhook command", "path", r.URL.Path, "command", cmd.Name)
		s.respondError(w, http.StatusServiceUnavailable, "bridge not accepting commands")
		return
	}

	s.logger.Info("webhook command relayed",
		"path", r.URL.Path,
		"command", cmd.Name,
		"correlation_id", cmd.ID,
	)
	s.respondJSON(w, http.StatusAccepted, TriggerResponse{CorrelationID: cmd.ID, Command: cmd.Name})
}

func (s *Server) replierFor(ep *EndpointConfig, id uint64) bridge.Replier {
	if ep.CallbackURL == "" {
		return &logReply{path: ep.Path, command: ep.Command, id: id, logger: s.logger}
	}
	return &callbackReply{
		client: s.client,
		url:    ep.CallbackURL,
		base:   CallbackPayload{CorrelationID: id, Command: ep.Command, Path: ep.Path},
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}

// callbackReply posts the reply to the endpoint's callback URL.
type callbackReply struct {
	client *http.Client
	url    string
	base   CallbackPayload
}

func (c *callbackReply) SendReply(ctx context.Context, text string) error {
	payload := c.base
	payload.Reply = text
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode callback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	return nil
}

// logReply records replies for endpoints without a callback.
type logReply struct {
	path    string
	command string
	id      uint64
	logger  *slog.Logger
}

func (l *logReply) SendReply(_ context.Context, text string) error {
	l.logger.Info("webhook command replied",
		"path", l.path,
		"command", l.command,
		"correlation_id", l.id,
		"reply", text,
	)
	return nil
}
