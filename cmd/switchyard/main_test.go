package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/switchyard/internal/bridge"
	"github.com/mattjoyce/switchyard/internal/config"
	"github.com/mattjoyce/switchyard/internal/journal"
	"github.com/mattjoyce/switchyard/internal/protocol"
	"github.com/mattjoyce/switchyard/internal/storage"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	// Drain concurrently so large output cannot fill the pipe buffer.
	outCh := make(chan string, 1)
	errCh := make(chan string, 1)
	go func() { b, _ := io.ReadAll(stdoutR); outCh <- string(b) }()
	go func() { b, _ := io.ReadAll(stderrR); errCh <- string(b) }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdout, stderr := <-outCh, <-errCh
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, stdout, stderr
}

// writeFixture lays out a config directory with one executable service.
func writeFixture(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()

	svcDir := filepath.Join(dir, "services", "echo")
	if err := os.MkdirAll(svcDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	manifest := "name: echo\nversion: 1.0.0\nentrypoint: run.sh\ncommands: [ping]\n"
	if err := os.WriteFile(filepath.Join(svcDir, "manifest.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("WriteFile manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(svcDir, "run.sh"), []byte("#!/bin/sh\ncat\n"), 0o755); err != nil {
		t.Fatalf("WriteFile run.sh: %v", err)
	}

	body := "agent:\n  services_dir:\n    - " + filepath.Join(dir, "services") + "\n" +
		"journal:\n  path: " + filepath.Join(dir, "journal.db") + "\n" + extra
	path := filepath.Join(dir, config.DefaultFilename)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile config: %v", err)
	}
	return dir, path
}

func TestRunConfigCheckExitCodes(t *testing.T) {
	_, path := writeFixture(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", path})
	})
	if code != 0 {
		t.Fatalf("runConfigCheck() code = %d, stdout: %s stderr: %s", code, stdout, stderr)
	}

	code, _, _ = captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", path, "--strict"})
	})
	if code != 2 {
		t.Fatalf("runConfigCheck(--strict) code = %d, want 2 (default config carries warnings)", code)
	}
}

func TestRunConfigCheckJSONReportsMissingDefault(t *testing.T) {
	_, path := writeFixture(t, "")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	body := strings.Replace(string(data), "agent:\n", "agent:\n  default_service: nope\n", 1)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", path, "--json"})
	})
	if code != 1 {
		t.Fatalf("runConfigCheck() code = %d, want 1; stderr: %s", code, stderr)
	}

	var result struct {
		Valid  bool `json:"valid"`
		Errors []struct {
			Field string `json:"field"`
		} `json:"errors"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, stdout)
	}
	if result.Valid {
		t.Fatalf("expected invalid result: %s", stdout)
	}
	found := false
	for _, e := range result.Errors {
		if e.Field == "agent.default_service" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing agent.default_service error: %s", stdout)
	}
}

func TestRunConfigLockVerboseDryRunShortFlag(t *testing.T) {
	dir, path := writeFixture(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", path, "-v", "--dry-run"})
	})
	if code != 0 {
		t.Fatalf("runConfigLock() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "HASH "+path) {
		t.Fatalf("stdout missing hash line: %s", stdout)
	}
	if !strings.Contains(stdout, "DRY-RUN .checksums") {
		t.Fatalf("stdout missing dry-run marker: %s", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, config.ChecksumFilename)); !os.IsNotExist(err) {
		t.Fatalf("dry run should not write .checksums, stat err = %v", err)
	}
}

func TestRunConfigLockRelocksEditedConfig(t *testing.T) {
	dir, path := writeFixture(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", dir})
	})
	if code != 0 {
		t.Fatalf("runConfigLock() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Successfully locked 1 file(s)") {
		t.Fatalf("unexpected stdout: %s", stdout)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	_, _ = f.WriteString("orchestrator:\n  worker_count: 3\n")
	_ = f.Close()

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigShow([]string{"--config", path})
	})
	if code != 1 || !strings.Contains(stderr, "integrity") {
		t.Fatalf("edited config should fail integrity check, code = %d stderr: %s", code, stderr)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", path})
	})
	if code != 0 {
		t.Fatalf("relock code = %d, stderr: %s", code, stderr)
	}
	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigShow([]string{"--config", path})
	})
	if code != 0 {
		t.Fatalf("show after relock code = %d, stderr: %s", code, stderr)
	}
}

func TestRunConfigShowRedactsTokens(t *testing.T) {
	_, path := writeFixture(t, "api:\n  token: hunter2\n  tokens:\n    - token: scoped-secret\n      scopes: [workers:ro]\n"+
		"bridge:\n  webhooks:\n    listen: 127.0.0.1:8091\n    endpoints:\n"+
		"      - path: /hooks/ci\n        command: echo\n        secret: hook-secret\n        signature_header: X-Sig\n")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigShow([]string{"--config", path, "--json"})
	})
	if code != 0 {
		t.Fatalf("runConfigShow() code = %d, stderr: %s", code, stderr)
	}
	if strings.Contains(stdout, "hunter2") || strings.Contains(stdout, "scoped-secret") || strings.Contains(stdout, "hook-secret") {
		t.Fatalf("tokens leaked: %s", stdout)
	}
	if !strings.Contains(stdout, redacted) {
		t.Fatalf("stdout missing redaction marker: %s", stdout)
	}

	_, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runConfigShow([]string{"--config", path, "--reveal-secrets"})
	})
	if !strings.Contains(stdout, "hunter2") {
		t.Fatalf("--reveal-secrets should print tokens: %s", stdout)
	}
}

func TestRunJournalShowAndRecent(t *testing.T) {
	dir, path := writeFixture(t, "")

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(dir, "journal.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	j := journal.New(db)
	req := protocol.NewDiscord("ping", "hello", 77, "", protocol.DefaultOptionSeparator)
	_ = j.Record(context.Background(), journal.StageAccepted, req, journal.NoWorker, "")
	_ = j.Record(context.Background(), journal.StageCompleted, req.Reply("pong"), 0, "")
	_ = db.Close()

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runJournalShow([]string{"77", "--config", path})
	})
	if code != 0 {
		t.Fatalf("runJournalShow() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Outcome     : completed") {
		t.Fatalf("stdout missing outcome: %s", stdout)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runJournalRecent([]string{"--config", path, "--limit", "5"})
	})
	if code != 0 {
		t.Fatalf("runJournalRecent() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "CORRELATION") || !strings.Contains(stdout, "completed") {
		t.Fatalf("unexpected table: %s", stdout)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runJournalShow([]string{"--config", path})
	})
	if code != 1 || !strings.Contains(stderr, "Usage: switchyard journal show") {
		t.Fatalf("missing id should print usage, code = %d stderr: %s", code, stderr)
	}
}

func TestRunJournalMissingDatabase(t *testing.T) {
	_, path := writeFixture(t, "")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runJournalRecent([]string{"--config", path})
	})
	if code != 1 || !strings.Contains(stderr, "journal not found") {
		t.Fatalf("code = %d stderr: %s", code, stderr)
	}
}

func TestSendCommand(t *testing.T) {
	var got bridge.CommandRequest
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(bridge.CommandResponse{ID: 5, Name: "weather", Reply: "sunny"})
	}))
	defer srv.Close()

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runSend([]string{"weather", "--addr", srv.URL, "--message", "today", "sydney", "celsius"})
	})
	if code != 0 {
		t.Fatalf("runSend() code = %d, stderr: %s", code, stderr)
	}
	if strings.TrimSpace(stdout) != "sunny" {
		t.Fatalf("stdout = %q, want sunny", stdout)
	}
	if gotPath != "/commands/weather" {
		t.Fatalf("path = %q", gotPath)
	}
	if got.Message != "today" || len(got.Options) != 2 || got.Options[1] != "celsius" {
		t.Fatalf("request = %+v", got)
	}
}

func TestSendCommandErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = w.Write([]byte(`{"error":"no reply before deadline"}`))
	}))
	defer srv.Close()

	_, err := sendCommand(context.Background(), srv.Client(), strings.TrimPrefix(srv.URL, "http://"), "slow", bridge.CommandRequest{})
	if err == nil || !strings.Contains(err.Error(), "504: no reply before deadline") {
		t.Fatalf("sendCommand() error = %v", err)
	}
}

func TestNounActionHelp(t *testing.T) {
	tests := []struct {
		name string
		run  func([]string) int
		args []string
		want string
	}{
		{"system start", runSystemNoun, []string{"start", "--help"}, "Usage: switchyard system start"},
		{"agent start", runAgentNoun, []string{"start", "-h"}, "Usage: switchyard agent start"},
		{"bridge start", runBridgeNoun, []string{"start", "--help"}, "Usage: switchyard bridge start"},
		{"config check", runConfigNoun, []string{"check", "--help"}, "Usage: switchyard config check"},
		{"config lock", runConfigNoun, []string{"lock", "--help"}, "Usage: switchyard config lock"},
		{"journal show", runJournalNoun, []string{"show", "--help"}, "Usage: switchyard journal show"},
		{"config noun", runConfigNoun, []string{"--help"}, "Usage: switchyard config <action>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := captureOutputWithExitCode(t, func() int { return tt.run(tt.args) })
			if code != 0 {
				t.Fatalf("code = %d, stderr: %s", code, stderr)
			}
			if !strings.Contains(stdout, tt.want) {
				t.Fatalf("stdout missing %q: %s", tt.want, stdout)
			}
		})
	}
}

func TestNounUnknownAction(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runSystemNoun([]string{"status"})
	})
	if code != 1 || !strings.Contains(stderr, "Unknown system action: status") {
		t.Fatalf("code = %d stderr: %s", code, stderr)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runAgentNoun(nil)
	})
	if code != 1 || !strings.Contains(stderr, "Usage: switchyard agent <action>") {
		t.Fatalf("code = %d stderr: %s", code, stderr)
	}
}

func TestPrintUsageUsesActionTerminology(t *testing.T) {
	_, stdout, _ := captureOutputWithExitCode(t, func() int {
		printUsage()
		return 0
	})
	if !strings.Contains(stdout, "switchyard <noun> <action> [flags]") {
		t.Fatalf("usage missing action terminology: %s", stdout)
	}
	if strings.Contains(stdout, "<noun> <verb>") {
		t.Fatalf("usage should not reference verb terminology: %s", stdout)
	}
}
