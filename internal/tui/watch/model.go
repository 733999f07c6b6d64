package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchyard/internal/dispatch"
	"github.com/mattjoyce/switchyard/internal/events"
)

const (
	maxEventLog    = 50
	keepFinished   = 8
	pollInterval   = 2 * time.Second
	reconnectDelay = 3 * time.Second
)

// Model is the BubbleTea model of the monitor.
type Model struct {
	client *Client

	width  int
	height int

	health   HealthState
	workers  []dispatch.SlotStats
	flights  *flightLog
	eventLog []events.Event

	ticker   Ticker
	activity Activity
	table    table.Model
	theme    Theme

	hubEvents chan events.Event
	lastError string
}

// New creates a monitor for the API at apiURL.
func New(apiURL, token string) *Model {
	return &Model{
		client:    NewClient(apiURL, token),
		flights:   newFlightLog(keepFinished),
		ticker:    NewTicker(),
		activity:  NewActivity(),
		table:     newWorkerTable(),
		theme:     NewDefaultTheme(),
		hubEvents: make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.subscribe(m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.client.fetchHealth,
		m.client.fetchWorkers,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)

	case tickMsg:
		m.ticker.Tick()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.activity.OnEvent()
		m.flights.apply(e)
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		next := tea.Tick(pollInterval, func(time.Time) tea.Msg { return m.client.fetchHealth() })
		if msg.err != nil {
			m.health.Connected = false
			m.lastError = msg.err.Error()
			return m, next
		}
		h := msg.resp
		m.health.Connected = true
		m.health.Status = h.Status
		m.health.UptimeSeconds = h.UptimeSeconds
		m.health.TodoDepth = h.TodoDepth
		m.health.DoneDepth = h.DoneDepth
		m.health.Pending = h.Pending
		m.health.Workers = h.Workers
		m.health.WorkersConnected = h.WorkersConnected
		m.health.LastCheck = time.Now()
		return m, next

	case workersMsg:
		next := tea.Tick(pollInterval, func(time.Time) tea.Msg { return m.client.fetchWorkers() })
		if msg.err != nil {
			m.lastError = msg.err.Error()
			return m, next
		}
		m.workers = msg.resp.Workers
		m.table.SetRows(workerRows(m.workers, m.theme))
		return m, next

	case sseDisconnectedMsg:
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.client.subscribe(m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to switchyard..."
	}

	parts := []string{
		renderHeader(m.health, m.ticker, m.activity, m.theme, m.width),
		renderWorkers(m.table, m.theme, m.width),
		renderFlights(m.flights, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, m.theme.Help.Render(" [q] Quit • [↑/↓] Select worker"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
