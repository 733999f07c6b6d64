package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchyard/internal/events"
)

const eventLines = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		))
	}

	var lines []string
	for i, e := range eventLog {
		if i >= eventLines {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	))
}

func formatEvent(e events.Event, theme Theme) string {
	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeEnvelopeCompleted, events.TypeWorkerConnected:
		typeStyle = theme.StatusOK
	case events.TypeEnvelopeDropped:
		typeStyle = theme.StatusFailed
	case events.TypeEnvelopeDispatched:
		typeStyle = theme.StatusActive
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s",
		theme.Dim.Render(e.At.Format("15:04:05")),
		typeStyle.Render(fmt.Sprintf("%-20s", e.Type)),
		describeEvent(e),
	)
}

func describeEvent(e events.Event) string {
	if e.Type == events.TypeWorkerConnected {
		var w events.WorkerData
		if err := json.Unmarshal(e.Data, &w); err == nil {
			return fmt.Sprintf("slot %d from %s", w.Worker, w.Addr)
		}
	}

	var d events.EnvelopeData
	if err := json.Unmarshal(e.Data, &d); err != nil || d.Name == "" {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	parts := []string{d.Name}
	if d.CorrelationID != "" {
		parts = append(parts, "["+shortID(d.CorrelationID)+"]")
	}
	if d.Worker != nil {
		parts = append(parts, fmt.Sprintf("w%d", *d.Worker))
	}
	if d.Error != "" {
		parts = append(parts, d.Error)
	}
	return strings.Join(parts, " ")
}
