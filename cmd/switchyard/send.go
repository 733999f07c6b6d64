package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/switchyard/internal/bridge"
)

func runSend(args []string) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	addr := fs.String("addr", "", "Bridge chat adapter address (default from config bridge.listen)")
	message := fs.String("message", "", "Free-text message carried with the command")
	timeout := fs.Duration("timeout", 30*time.Second, "How long to wait for the reply")
	jsonOut := fs.Bool("json", false, "Print the full response as JSON")

	// The command name comes first: 'switchyard send weather --message hi sydney'.
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		if hasHelpFlag(args) {
			printSendHelp()
			return 0
		}
		fmt.Fprintln(os.Stderr, "Usage: switchyard send <name> [flags] [options...]")
		return 1
	}
	name := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	target := *addr
	if target == "" {
		cfg, err := loadConfigForTool(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		target = cfg.Bridge.Listen
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := sendCommand(ctx, http.DefaultClient, target, name, bridge.CommandRequest{
		Message: *message,
		Options: fs.Args(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	fmt.Println(resp.Reply)
	return 0
}

func printSendHelp() {
	fmt.Println("Usage: switchyard send <name> [--config PATH] [--addr HOST:PORT] [--message TEXT] [--timeout D] [--json] [options...]")
	fmt.Println("Submit a command through the bridge chat adapter and print the reply.")
}

func sendCommand(ctx context.Context, client *http.Client, addr, name string, req bridge.CommandRequest) (*bridge.CommandResponse, error) {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(base, "/")+"/commands/"+url.PathEscape(name), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("bridge returned %d: %s", httpResp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("bridge returned %d", httpResp.StatusCode)
	}

	var resp bridge.CommandResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
