package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/switchyard/internal/journal"
)

// Source reads journal entries for one correlation id, oldest first.
// *journal.Journal satisfies it.
type Source interface {
	Show(ctx context.Context, correlationID string) ([]journal.Entry, error)
}

// Outcomes reported for a trace.
const (
	OutcomeCompleted = "completed"
	OutcomeDropped   = "dropped"
	OutcomeInFlight  = "in-flight"
)

// Report is the structured JSON representation of one envelope's trace.
type Report struct {
	CorrelationID string  `json:"correlation_id"`
	Name          string  `json:"name"`
	Kind          string  `json:"kind"`
	Outcome       string  `json:"outcome"`
	Worker        *int    `json:"worker,omitempty"`
	Elapsed       string  `json:"elapsed"`
	Hops          int     `json:"hops"`
	Steps         []Step  `json:"steps"`
	ReplyMessage  *string `json:"reply,omitempty"`
}

// Step is one recorded stage.
type Step struct {
	Hop        int             `json:"hop"`
	Stage      string          `json:"stage"`
	RecordedAt time.Time       `json:"recorded_at"`
	Offset     string          `json:"offset"`
	Worker     *int            `json:"worker,omitempty"`
	Message    string          `json:"message"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// BuildReport renders a terminal-friendly trace for a correlation id.
func BuildReport(ctx context.Context, src Source, correlationID string) (string, error) {
	report, err := gatherReportData(ctx, src, correlationID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Envelope Trace\n")
	fmt.Fprintf(&out, "Correlation : %s\n", report.CorrelationID)
	fmt.Fprintf(&out, "Name        : %s\n", report.Name)
	fmt.Fprintf(&out, "Kind        : %s\n", report.Kind)
	fmt.Fprintf(&out, "Outcome     : %s\n", report.Outcome)
	fmt.Fprintf(&out, "Worker      : %s\n", renderWorker(report.Worker))
	fmt.Fprintf(&out, "Elapsed     : %s\n", report.Elapsed)
	fmt.Fprintf(&out, "Hops        : %d\n", report.Hops)
	fmt.Fprintf(&out, "\n")

	for _, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %s +%s\n", step.Hop, step.Stage, step.Offset)
		fmt.Fprintf(&out, "    at      : %s\n", step.RecordedAt.Format(time.RFC3339Nano))
		fmt.Fprintf(&out, "    worker  : %s\n", renderWorker(step.Worker))
		if step.Error != "" {
			fmt.Fprintf(&out, "    error   : %s\n", step.Error)
		}
		if len(step.Payload) > 0 {
			fmt.Fprintf(&out, "    message :\n")
			for _, line := range strings.Split(strings.TrimSpace(prettyJSON(step.Payload)), "\n") {
				fmt.Fprintf(&out, "      %s\n", line)
			}
		} else {
			fmt.Fprintf(&out, "    message : %s\n", renderUnset(step.Message, "<empty>"))
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON trace.
func BuildJSONReport(ctx context.Context, src Source, correlationID string) (string, error) {
	report, err := gatherReportData(ctx, src, correlationID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src Source, correlationID string) (*Report, error) {
	if strings.TrimSpace(correlationID) == "" {
		return nil, fmt.Errorf("correlation id is required")
	}

	entries, err := src.Show(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("load journal entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("correlation id %q not found", correlationID)
	}

	first, last := entries[0], entries[len(entries)-1]
	report := &Report{
		CorrelationID: correlationID,
		Name:          first.Name,
		Kind:          first.Kind,
		Outcome:       OutcomeInFlight,
		Elapsed:       last.RecordedAt.Sub(first.RecordedAt).String(),
		Hops:          len(entries),
		Steps:         make([]Step, 0, len(entries)),
	}

	for i, e := range entries {
		step := Step{
			Hop:        i + 1,
			Stage:      string(e.Stage),
			RecordedAt: e.RecordedAt,
			Offset:     e.RecordedAt.Sub(first.RecordedAt).String(),
			Worker:     workerPtr(e.Worker),
			Message:    e.Message,
			Error:      e.Error,
		}
		if json.Valid([]byte(e.Message)) && looksStructured(e.Message) {
			step.Payload = json.RawMessage(e.Message)
		}
		report.Steps = append(report.Steps, step)

		if step.Worker != nil {
			report.Worker = step.Worker
		}
		switch e.Stage {
		case journal.StageCompleted:
			report.Outcome = OutcomeCompleted
			msg := e.Message
			report.ReplyMessage = &msg
		case journal.StageDropped:
			report.Outcome = OutcomeDropped
		}
	}

	return report, nil
}

func workerPtr(w int) *int {
	if w == journal.NoWorker {
		return nil
	}
	return &w
}

// looksStructured limits pretty-printing to objects and arrays; a bare
// number or quoted string is left as plain text.
func looksStructured(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

func renderWorker(w *int) string {
	if w == nil {
		return "<none>"
	}
	return fmt.Sprintf("%d", *w)
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func prettyJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(pretty)
}
