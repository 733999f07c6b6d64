package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Validate checks the invariants every role depends on.
func Validate(cfg *Config) error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	o := cfg.Orchestrator
	if o.WorkerCount < 1 {
		add("orchestrator.worker_count must be at least 1 (got %d)", o.WorkerCount)
	}
	if o.BasePort < 1 || o.BasePort+o.WorkerCount-1 > 65535 {
		add("orchestrator.base_port %d with %d workers is outside 1-65535", o.BasePort, o.WorkerCount)
	}
	if o.Host == "" {
		add("orchestrator.host is required")
	}
	if _, port, err := net.SplitHostPort(o.FrontDoor); err != nil {
		add("orchestrator.front_door %q: %v", o.FrontDoor, err)
	} else if p, err := strconv.Atoi(port); err == nil && o.WorkerCount > 0 && p >= o.BasePort && p < o.BasePort+o.WorkerCount {
		add("orchestrator.front_door port %d overlaps worker ports %d-%d", p, o.BasePort, o.BasePort+o.WorkerCount-1)
	}
	if o.SpawnAgents && len(o.AgentCommand) == 0 {
		add("orchestrator.agent_command is required when spawn_agents is set")
	}
	if o.SpawnBridge && len(o.BridgeCommand) == 0 {
		add("orchestrator.bridge_command is required when spawn_bridge is set")
	}

	switch strings.ToLower(cfg.Service.LogFormat) {
	case "", "json", "text":
	default:
		add("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Agent.Timeout < 0 {
		add("agent.timeout must not be negative")
	}
	if cfg.Bridge.PendingTTL < 0 {
		add("bridge.pending_ttl must not be negative")
	}
	if wh := cfg.Bridge.Webhooks; wh != nil {
		if wh.Listen == "" {
			add("bridge.webhooks.listen is required")
		}
		seen := make(map[string]bool, len(wh.Endpoints))
		for i, ep := range wh.Endpoints {
			if !strings.HasPrefix(ep.Path, "/") {
				add("bridge.webhooks.endpoints[%d].path must start with /", i)
			}
			if seen[ep.Path] {
				add("bridge.webhooks.endpoints[%d].path %q is duplicated", i, ep.Path)
			}
			seen[ep.Path] = true
			if ep.Command == "" {
				add("bridge.webhooks.endpoints[%d].command is required", i)
			}
			if ep.Secret == "" {
				add("bridge.webhooks.endpoints[%d].secret is required", i)
			}
			if ep.SignatureHeader == "" {
				add("bridge.webhooks.endpoints[%d].signature_header is required", i)
			}
		}
	}
	names := make(map[string]bool, len(cfg.Bridge.Schedules))
	for i, sch := range cfg.Bridge.Schedules {
		if sch.Name == "" {
			add("bridge.schedules[%d].name is required", i)
		} else if names[sch.Name] {
			add("bridge.schedules[%d].name %q is duplicated", i, sch.Name)
		}
		names[sch.Name] = true
		if sch.Command == "" {
			add("bridge.schedules[%d].command is required", i)
		}
		if sch.Every <= 0 {
			add("bridge.schedules[%d].every must be positive", i)
		}
		if sch.Jitter < 0 {
			add("bridge.schedules[%d].jitter must not be negative", i)
		}
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		add("api.listen is required when the API is enabled")
	}
	for i, tok := range cfg.API.Tokens {
		if tok.Token == "" {
			add("api.tokens[%d].token is empty", i)
		}
		if len(tok.Scopes) == 0 {
			add("api.tokens[%d] has no scopes", i)
		}
	}
	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		add("journal.path is required when the journal is enabled")
	}
	if cfg.Events.NATSURL != "" && cfg.Events.NATSSubject == "" {
		add("events.nats_subject is required when events.nats_url is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// WorkerAddr is the listen address of worker slot index.
func (c *Config) WorkerAddr(index int) string {
	return net.JoinHostPort(c.Orchestrator.Host, strconv.Itoa(c.Orchestrator.BasePort+index))
}
