package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/switchyard/internal/journal"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Pool.Stats()
	connected := 0
	for _, ws := range st.Workers {
		if ws.Connected {
			connected++
		}
	}

	resp := HealthzResponse{
		Status:           "ok",
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		TodoDepth:        st.Todo,
		DoneDepth:        st.Done,
		Workers:          len(st.Workers),
		WorkersConnected: connected,
	}
	if connected == 0 {
		resp.Status = "degraded"
	}
	if s.deps.Pending != nil {
		resp.Pending = s.deps.Pending.Pending()
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleWorkers handles GET /workers.
func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, WorkersResponse{Workers: s.deps.Pool.Stats().Workers})
}

// handleJournalRecent handles GET /journal?limit=N.
func (s *Server) handleJournalRecent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	limit := defaultJournalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJournalLimit)
	}

	entries, err := s.deps.Journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("journal read failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	respondJSON(w, http.StatusOK, JournalResponse{Entries: toJournalEntries(entries)})
}

// handleJournalShow handles GET /journal/{correlationID}.
func (s *Server) handleJournalShow(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	id := chi.URLParam(r, "correlationID")
	entries, err := s.deps.Journal.Show(r.Context(), id)
	if err != nil {
		s.logger.Error("journal read failed", "error", err, "correlation_id", id)
		s.writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	if len(entries) == 0 {
		s.writeError(w, http.StatusNotFound, "no journal entries for "+id)
		return
	}
	respondJSON(w, http.StatusOK, JournalResponse{Entries: toJournalEntries(entries)})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

func toJournalEntries(in []journal.Entry) []JournalEntry {
	out := make([]JournalEntry, 0, len(in))
	for _, e := range in {
		je := JournalEntry{
			ID:            e.ID,
			RecordedAt:    e.RecordedAt,
			Stage:         string(e.Stage),
			Name:          e.Name,
			Kind:          e.Kind,
			CorrelationID: e.CorrelationID,
			Message:       e.Message,
			Error:         e.Error,
		}
		if e.Worker != journal.NoWorker {
			worker := e.Worker
			je.Worker = &worker
		}
		out = append(out, je)
	}
	return out
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
