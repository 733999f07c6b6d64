package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HTTPChat is a CommandSource fed by HTTP requests. Each
// POST /commands/{name} becomes one Command and the request stays open
// until its reply arrives.
type HTTPChat struct {
	commands chan Command
	ids      *IDs
	wait     time.Duration
	logger   *slog.Logger
}

// CommandRequest is the JSON body of POST /commands/{name}.
type CommandRequest struct {
	Message string   `json:"message,omitempty"`
	Options []string `json:"options"`
}

// CommandResponse is written back once the reply arrives.
type CommandResponse struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Reply string `json:"reply"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPChat builds the adapter. wait bounds how long a request waits for
// its reply; zero waits until the client goes away. A nil ids gets a
// private generator.
func NewHTTPChat(wait time.Duration, ids *IDs, logger *slog.Logger) *HTTPChat {
	if ids == nil {
		ids = NewIDs()
	}
	return &HTTPChat{
		commands: make(chan Command),
		ids:      ids,
		wait:     wait,
		logger:   logger,
	}
}

func (h *HTTPChat) Commands() <-chan Command { return h.commands }

// Routes returns the adapter's router.
func (h *HTTPChat) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/commands/{name}", h.handleCommand)
	return r
}

// Serve runs the HTTP listener on addr until ctx ends.
func (h *HTTPChat) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	h.logger.Info("chat adapter listening", "listen", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (h *HTTPChat) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req CommandRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read body: " + err.Error()})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}
	}

	ctx := r.Context()
	if h.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.wait)
		defer cancel()
	}

	reply := &httpReply{ch: make(chan string, 1)}
	cmd := Command{
		ID:      h.ids.Next(),
		Name:    name,
		Message: req.Message,
		Options: req.Options,
		Reply:   reply,
	}

	select {
	case h.commands <- cmd:
	case <-ctx.Done():
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "bridge not accepting commands"})
		return
	}
	h.logger.Debug("chat command queued", "name", name, "correlation_id", cmd.ID)

	select {
	case text := <-reply.ch:
		writeJSON(w, http.StatusOK, CommandResponse{ID: cmd.ID, Name: name, Reply: text})
	case <-ctx.Done():
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "no reply before deadline"})
	}
}

// httpReply hands the first reply to the waiting request. Later replies
// are discarded.
type httpReply struct {
	ch chan string
}

func (r *httpReply) SendReply(_ context.Context, text string) error {
	select {
	case r.ch <- text:
	default:
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
