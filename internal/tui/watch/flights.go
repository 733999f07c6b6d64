package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchyard/internal/events"
)

// Flight is one envelope followed from acceptance to its result.
type Flight struct {
	CorrelationID string
	Name          string
	Kind          string
	Stage         string
	Worker        *int
	Accepted      time.Time
	Finished      time.Time
	Error         string
}

func (f *Flight) active() bool { return f.Finished.IsZero() }

// flightLog keeps in-flight envelopes plus a short tail of finished ones.
type flightLog struct {
	byID     map[string]*Flight
	finished []*Flight
	keep     int
}

func newFlightLog(keep int) *flightLog {
	return &flightLog{byID: make(map[string]*Flight), keep: keep}
}

// apply folds one envelope event into the log. Events without a
// correlation id are ignored.
func (l *flightLog) apply(e events.Event) {
	if !strings.HasPrefix(e.Type, "envelope.") {
		return
	}
	var d events.EnvelopeData
	if err := json.Unmarshal(e.Data, &d); err != nil || d.CorrelationID == "" {
		return
	}

	f, ok := l.byID[d.CorrelationID]
	if !ok {
		f = &Flight{CorrelationID: d.CorrelationID, Accepted: e.At}
		l.byID[d.CorrelationID] = f
	}
	if d.Name != "" {
		f.Name = d.Name
	}
	if d.Kind != "" {
		f.Kind = d.Kind
	}
	if d.Worker != nil {
		f.Worker = d.Worker
	}

	switch e.Type {
	case events.TypeEnvelopeAccepted:
		f.Stage = "queued"
		f.Accepted = e.At
	case events.TypeEnvelopeDispatched:
		f.Stage = "running"
	case events.TypeEnvelopeCompleted, events.TypeEnvelopeDropped:
		f.Stage = strings.TrimPrefix(e.Type, "envelope.")
		f.Finished = e.At
		f.Error = d.Error
		delete(l.byID, d.CorrelationID)
		l.finished = append([]*Flight{f}, l.finished...)
		if len(l.finished) > l.keep {
			l.finished = l.finished[:l.keep]
		}
	}
}

// active returns in-flight envelopes, oldest first.
func (l *flightLog) active() []*Flight {
	out := make([]*Flight, 0, len(l.byID))
	for _, f := range l.byID {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Accepted.Equal(out[j].Accepted) {
			return out[i].CorrelationID < out[j].CorrelationID
		}
		return out[i].Accepted.Before(out[j].Accepted)
	})
	return out
}

func renderFlights(l *flightLog, theme Theme, width int) string {
	innerWidth := width - 4
	active := l.active()
	if len(active) == 0 && len(l.finished) == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("ENVELOPES"),
			theme.Dim.Render("  No envelopes yet..."),
		))
	}

	lines := []string{theme.Title.Render(fmt.Sprintf("ENVELOPES (%d in flight)", len(active)))}
	for _, f := range active {
		lines = append(lines, renderFlight(f, theme))
	}
	for _, f := range l.finished {
		lines = append(lines, renderFlight(f, theme))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderFlight(f *Flight, theme Theme) string {
	var icon string
	switch f.Stage {
	case "queued":
		icon = theme.StatusQueued.Render("○")
	case "running":
		icon = theme.StatusActive.Render("◉")
	case "completed":
		icon = theme.StatusOK.Render("●")
	default:
		icon = theme.StatusFailed.Render("∅")
	}

	worker := "-"
	if f.Worker != nil {
		worker = fmt.Sprintf("w%d", *f.Worker)
	}

	end := f.Finished
	if f.active() {
		end = time.Now()
	}
	elapsed := "-"
	if !f.Accepted.IsZero() {
		elapsed = end.Sub(f.Accepted).Round(time.Millisecond).String()
	}

	line := fmt.Sprintf(" %s %-12s %-16s %-8s %-3s %s",
		icon,
		theme.Highlight.Render(shortID(f.CorrelationID)),
		f.Name, f.Kind, worker,
		theme.Dim.Render(elapsed),
	)
	if f.Error != "" {
		line += " " + theme.StatusFailed.Render(f.Error)
	}
	return line
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
