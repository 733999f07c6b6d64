package main

import (
	"fmt"
	"os"

	"github.com/mattjoyce/switchyard/internal/config"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		os.Exit(runSystemNoun(args))
	case "agent":
		os.Exit(runAgentNoun(args))
	case "bridge":
		os.Exit(runBridgeNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "journal":
		os.Exit(runJournalNoun(args))

	// --- TOOLS ---
	case "watch":
		os.Exit(runWatch(args))
	case "send":
		os.Exit(runSend(args))
	case "version":
		fmt.Printf("switchyard version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`switchyard - three-tier job dispatch fabric

Usage:
  switchyard <noun> <action> [flags]

Processes (Nouns):
  system    Orchestrator lifecycle
  agent     Worker processes that run services
  bridge    Front-end adapter that accepts commands
  config    Configuration and integrity
  journal   Dispatch audit log

System Commands:
  system start          Start the orchestrator in the foreground

Agent Commands:
  agent start           Start one worker agent (--process-index N)

Bridge Commands:
  bridge start          Start the bridge and its HTTP chat adapter

Config Commands:
  config check          Validate syntax, services and integrity
  config lock           Authorize current state (update integrity hashes)
  config show           Print the resolved configuration

Journal Commands:
  journal show <id>     Show every recorded stage of one correlation id
  journal recent        Show the latest recorded entries

Tools:
  watch                 Live terminal monitor for the orchestrator API
  send <name> [opts]    Submit a command through the bridge chat adapter
  version               Show version information
  help                  Show this help message

Use 'switchyard <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runAgentNoun(args []string) int {
	if len(args) < 1 {
		printAgentNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printAgentNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printAgentStartHelp()
			return 0
		}
		return runAgentStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown agent action: %s\n", action)
		return 1
	}
}

func runBridgeNoun(args []string) int {
	if len(args) < 1 {
		printBridgeNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printBridgeNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printBridgeStartHelp()
			return 0
		}
		return runBridgeStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown bridge action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runJournalNoun(args []string) int {
	if len(args) < 1 {
		printJournalNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJournalNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "show":
		if hasHelpFlag(actionArgs) {
			printJournalShowHelp()
			return 0
		}
		return runJournalShow(actionArgs)
	case "recent":
		if hasHelpFlag(actionArgs) {
			printJournalRecentHelp()
			return 0
		}
		return runJournalRecent(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown journal action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: switchyard system <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printAgentNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: switchyard agent <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printBridgeNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: switchyard bridge <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: switchyard config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, show")
}

func printJournalNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: switchyard journal <action> [flags]")
	fmt.Fprintln(w, "Actions: show, recent")
}

func printSystemStartHelp() {
	fmt.Println("Usage: switchyard system start [--config PATH]")
	fmt.Println("Start the orchestrator: worker pool, front door, API and spawned children.")
}

func printAgentStartHelp() {
	fmt.Println("Usage: switchyard agent start --process-index N [--config PATH]")
	fmt.Println("Start the worker agent for orchestrator slot N.")
}

func printBridgeStartHelp() {
	fmt.Println("Usage: switchyard bridge start [--config PATH] [--handshake]")
	fmt.Println("Start the bridge. With --handshake the front-door address is read from stdin.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: switchyard config check [--config PATH] [--strict] [--format human|json] [--json]")
	fmt.Println("Validate configuration, services and spawn settings.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: switchyard config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Authorize current configuration state by regenerating file integrity hashes.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: switchyard config show [--config PATH] [--json] [--reveal-secrets]")
	fmt.Println("Print the resolved configuration after includes and environment overrides.")
}

func printJournalShowHelp() {
	fmt.Println("Usage: switchyard journal show <correlation-id> [--config PATH] [--json]")
	fmt.Println("Show every recorded stage of one correlation id.")
}

func printJournalRecentHelp() {
	fmt.Println("Usage: switchyard journal recent [--config PATH] [--limit N] [--json]")
	fmt.Println("Show the latest journal entries, newest first.")
}

// resolveConfigPath falls back to discovery when --config was not given.
func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	discovered, err := config.Discover()
	if err != nil {
		return "", fmt.Errorf("failed to discover config: %w", err)
	}
	return discovered, nil
}

func loadConfigForTool(configPath string) (*config.Config, error) {
	resolved, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	return config.Load(resolved)
}
