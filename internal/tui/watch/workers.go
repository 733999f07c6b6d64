package watch

import (
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchyard/internal/dispatch"
)

func newWorkerTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Slot", Width: 4},
			{Title: "Address", Width: 21},
			{Title: "Assigned", Width: 9},
			{Title: "Done", Width: 9},
			{Title: "Bad", Width: 5},
			{Title: "Backlog", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(6),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func workerRows(slots []dispatch.SlotStats, theme Theme) []table.Row {
	rows := make([]table.Row, 0, len(slots))
	for _, s := range slots {
		st := theme.StatusOffline.Render("○")
		if s.Connected {
			st = theme.StatusOK.Render("●")
		}
		if s.Backlog > 0 {
			st = theme.StatusQueued.Render("◔")
		}
		rows = append(rows, table.Row{
			st,
			strconv.Itoa(s.Index),
			s.Addr,
			strconv.FormatInt(s.Assigned, 10),
			strconv.FormatInt(s.Completed, 10),
			strconv.FormatInt(s.Malformed, 10),
			strconv.Itoa(s.Backlog),
		})
	}
	return rows
}

func renderWorkers(t table.Model, theme Theme, width int) string {
	return theme.Border.Width(width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("WORKERS"),
			t.View(),
		),
	)
}
