// Package doctor checks a switchyard configuration against the services it
// will run and the host it runs on. config.Validate rejects configurations
// that cannot start; doctor also reports the ones that start but misbehave.
package doctor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/mattjoyce/switchyard/internal/auth"
	"github.com/mattjoyce/switchyard/internal/config"
	"github.com/mattjoyce/switchyard/internal/service"
	"github.com/mattjoyce/switchyard/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

var knownScopes = map[string]struct{}{
	auth.ScopeAll:       {},
	auth.ScopeWorkersRO: {},
	auth.ScopeEventsRO:  {},
	auth.ScopeJournalRO: {},
	auth.ScopeJournalRW: {},
}

// Doctor validates configuration against discovered services.
type Doctor struct {
	cfg      *config.Config
	registry *service.Registry

	lookPath func(string) (string, error)
	fsCheck  func(string) error
}

// New creates a Doctor. registry may be nil when discovery itself failed.
func New(cfg *config.Config, registry *service.Registry) *Doctor {
	return &Doctor{
		cfg:      cfg,
		registry: registry,
		lookPath: exec.LookPath,
		fsCheck:  storage.CheckFilesystem,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	if err := config.Validate(d.cfg); err != nil {
		d.addError(r, "config", "", err.Error())
	}
	d.validateServices(r)
	d.validateSpawn(r)
	d.validateAPI(r)
	d.validateJournal(r)
	d.validateWorkspaces(r)
	d.validateWebhooks(r)
	d.warnTimeouts(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServices(r *Result) {
	if mv := d.cfg.Agent.MinVersion; mv != "" {
		if _, err := semver.NewConstraint(mv); err != nil {
			d.addError(r, "services", "agent.min_version", fmt.Sprintf("invalid constraint %q: %v", mv, err))
		}
	}
	if d.registry == nil {
		d.addError(r, "services", "agent.services_dir", "service discovery failed")
		return
	}

	all := d.registry.All()
	if len(all) == 0 {
		d.addError(r, "services", "agent.services_dir",
			fmt.Sprintf("no services discovered in %s", strings.Join(d.cfg.Agent.ServicesDir, ", ")))
	}
	if def := d.cfg.Agent.DefaultService; def != "" {
		if _, ok := d.registry.Get(def); !ok {
			d.addError(r, "services", "agent.default_service",
				fmt.Sprintf("default service %q was not discovered", def))
		}
	} else if len(all) > 0 {
		d.addWarning(r, "services", "agent.default_service",
			"no default service: envelopes no service claims get an error reply")
	}

	claimed := make(map[string]string)
	for _, s := range all {
		for _, cmd := range s.Commands {
			if prev, ok := claimed[cmd]; ok && prev != s.Name {
				d.addWarning(r, "services", "",
					fmt.Sprintf("command %q is declared by both %q and %q; %q wins", cmd, prev, s.Name, prev))
				continue
			}
			claimed[cmd] = s.Name
		}
	}
}

func (d *Doctor) validateSpawn(r *Result) {
	o := d.cfg.Orchestrator
	check := func(enabled bool, field string, argv []string) {
		if !enabled || len(argv) == 0 {
			return
		}
		if _, err := d.lookPath(argv[0]); err != nil {
			d.addError(r, "spawn", field, fmt.Sprintf("%q is not executable: %v", argv[0], err))
		}
	}
	check(o.SpawnAgents, "orchestrator.agent_command", o.AgentCommand)
	check(o.SpawnBridge, "orchestrator.bridge_command", o.BridgeCommand)

	if !o.SpawnAgents && o.WorkerCount > 0 {
		d.addWarning(r, "spawn", "orchestrator.spawn_agents",
			fmt.Sprintf("agents are not spawned: start %d agent process(es) yourself", o.WorkerCount))
	}
}

func (d *Doctor) validateAPI(r *Result) {
	api := d.cfg.API
	if !api.Enabled {
		return
	}
	if api.Token == "" && len(api.Tokens) == 0 {
		d.addWarning(r, "api", "api.token",
			"API enabled without tokens: every endpoint except /healthz will refuse requests")
	}
	for i, tok := range api.Tokens {
		for j, scope := range tok.Scopes {
			if _, ok := knownScopes[strings.TrimSpace(scope)]; !ok {
				d.addError(r, "api", fmt.Sprintf("api.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

func (d *Doctor) validateJournal(r *Result) {
	if !d.cfg.Journal.Enabled {
		return
	}
	if err := d.fsCheck(d.cfg.Journal.Path); err != nil {
		d.addError(r, "journal", "journal.path", err.Error())
	}
}

func (d *Doctor) validateWorkspaces(r *Result) {
	a := d.cfg.Agent
	if a.WorkspaceDir == "" {
		if a.KeepWorkspaces {
			d.addWarning(r, "workspaces", "agent.keep_workspaces", "keep_workspaces has no effect without workspace_dir")
		}
		return
	}
	if a.KeepWorkspaces && a.WorkspaceRetention == 0 {
		d.addWarning(r, "workspaces", "agent.workspace_retention",
			"kept workspaces are never pruned: set workspace_retention")
	}
}

func (d *Doctor) validateWebhooks(r *Result) {
	wh := d.cfg.Bridge.Webhooks
	if wh == nil {
		return
	}
	for i, ep := range wh.Endpoints {
		field := fmt.Sprintf("bridge.webhooks.endpoints[%d]", i)
		if d.registry != nil && !d.handled(ep.Command) {
			d.addWarning(r, "webhooks", field+".command",
				fmt.Sprintf("no service declares %q: deliveries go to the default service", ep.Command))
		}
		if ep.CallbackURL == "" {
			d.addWarning(r, "webhooks", field+".callback_url", "replies are only logged")
			continue
		}
		u, err := url.Parse(ep.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			d.addError(r, "webhooks", field+".callback_url", fmt.Sprintf("%q is not an http(s) URL", ep.CallbackURL))
		}
	}
}

func (d *Doctor) handled(name string) bool {
	if _, ok := d.registry.Get(name); ok {
		return true
	}
	for _, s := range d.registry.All() {
		if s.Handles(name) {
			return true
		}
	}
	return false
}

func (d *Doctor) warnTimeouts(r *Result) {
	a, b := d.cfg.Agent, d.cfg.Bridge
	if a.Timeout > 0 && a.GracePeriod > a.Timeout {
		d.addWarning(r, "timeouts", "agent.grace_period",
			"grace_period exceeds timeout: a hung service may run twice as long as intended")
	}
	if b.PendingTTL > 0 && b.WaitTimeout > b.PendingTTL {
		d.addWarning(r, "timeouts", "bridge.wait_timeout",
			"wait_timeout exceeds pending_ttl: HTTP callers receive the timeout reply before their own deadline")
	}
	if b.PendingTTL == 0 {
		d.addWarning(r, "timeouts", "bridge.pending_ttl",
			"pending_ttl is 0: commands whose result is lost wait forever")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
