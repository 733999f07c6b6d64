package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState is the last /healthz answer. Connected is false while the
// API is unreachable.
type HealthState struct {
	Status           string
	UptimeSeconds    int64
	TodoDepth        int
	DoneDepth        int
	Pending          int
	Workers          int
	WorkersConnected int
	Connected        bool
	LastCheck        time.Time
}

func renderHeader(h HealthState, ticker Ticker, activity Activity, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	switch {
	case !h.Connected:
		statusText = theme.StatusFailed.Render("CONNECTING")
	case h.Status != "ok" && h.Status != "":
		statusText = theme.StatusFailed.Render(strings.ToUpper(h.Status))
	}

	lastEvent := "never"
	if !activity.LastEvent().IsZero() {
		lastEvent = formatAgo(time.Since(activity.LastEvent()).Round(time.Second))
	}

	title := fmt.Sprintf(" SWITCHYARD WATCH %s", theme.Highlight.Render(ticker.Current()))
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := max(innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4, 1)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  todo %d  done %d  pending %d  workers %d/%d",
		statusText,
		formatDuration(time.Duration(h.UptimeSeconds)*time.Second),
		h.TodoDepth, h.DoneDepth, h.Pending,
		h.WorkersConnected, h.Workers,
	)
	activityLine := fmt.Sprintf(" last event %s %s", lastEvent, activity.Render(theme))

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine),
	)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
