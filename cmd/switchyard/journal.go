package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mattjoyce/switchyard/internal/inspect"
	"github.com/mattjoyce/switchyard/internal/journal"
	"github.com/mattjoyce/switchyard/internal/storage"
)

func runJournalShow(args []string) int {
	// Flags may follow the id: 'switchyard journal show <id> --json'.
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output report in JSON")

	var correlationID string
	var remainingArgs []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") && correlationID == "" {
			correlationID = arg
		} else {
			remainingArgs = append(remainingArgs, arg)
		}
	}
	if err := fs.Parse(remainingArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if correlationID == "" {
		fmt.Fprintf(os.Stderr, "Usage: switchyard journal show <correlation-id> [--config PATH] [--json]\n")
		return 1
	}

	j, closeDB, err := openJournalForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Journal error: %v\n", err)
		return 1
	}
	defer closeDB()

	var report string
	if jsonOut {
		report, err = inspect.BuildJSONReport(context.Background(), j, correlationID)
	} else {
		report, err = inspect.BuildReport(context.Background(), j, correlationID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Journal show failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	if jsonOut {
		fmt.Println()
	}
	return 0
}

func runJournalRecent(args []string) int {
	fs := flag.NewFlagSet("recent", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration")
	limit := fs.Int("limit", 20, "Number of entries to show")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	j, closeDB, err := openJournalForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Journal error: %v\n", err)
		return 1
	}
	defer closeDB()

	entries, err := j.Recent(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Journal read failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		worker := "-"
		if e.Worker != journal.NoWorker {
			worker = fmt.Sprintf("%d", e.Worker)
		}
		rows = append(rows, []string{
			e.RecordedAt.Local().Format(time.DateTime),
			string(e.Stage), e.Name, e.Kind, e.CorrelationID, worker, e.Error,
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TIME", "STAGE", "NAME", "KIND", "CORRELATION", "WORKER", "ERROR").
		Rows(rows...)
	fmt.Println(t.Render())
	return 0
}

func openJournalForTool(configPath string) (*journal.Journal, func(), error) {
	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if _, err := os.Stat(cfg.Journal.Path); err != nil {
		return nil, nil, fmt.Errorf("journal not found at %s (is journal.enabled set?)", cfg.Journal.Path)
	}
	db, err := storage.OpenSQLite(context.Background(), cfg.Journal.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	return journal.New(db), func() { _ = db.Close() }, nil
}
