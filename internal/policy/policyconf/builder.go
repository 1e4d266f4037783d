package policyconf

import (
	"log/slog"

	"github.com/toolwave/dispatch/internal/policy"
)

// Settings carries the CLI-equivalent configuration the builder layers on
// top of rule files. It is plain data: the core never reads flag or settings
// files itself.
type Settings struct {
	// ExcludedTools are denied outright; this outranks every persisted
	// convenience rule.
	ExcludedTools []string

	// AllowedTools are allowed without confirmation.
	AllowedTools []string

	// TrustedServers are MCP server names whose tools are allowed.
	TrustedServers []string

	// PolicyDirs are operator-supplied override directories loaded at the
	// user tier, in place of the default user directory when non-empty.
	PolicyDirs []string

	// UserDir is the default user policy directory.
	UserDir string

	// WorkspaceDir is the workspace policy directory; dynamic allow-always
	// rules persist here.
	WorkspaceDir string
}

// Builder merges rule sources into a single priority-banded rule set.
type Builder struct {
	defaultDir string
	adminDir   string
	settings   Settings
	log        *slog.Logger
}

// NewBuilder creates a Builder. defaultDir holds the lowest-priority shipped
// rules; adminDir is the system directory whose permissions are verified
// before it is trusted. Either may be empty.
func NewBuilder(defaultDir, adminDir string, settings Settings, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		defaultDir: defaultDir,
		adminDir:   adminDir,
		settings:   settings,
		log:        log,
	}
}

// Build loads all rule sources in tier order and layers settings-derived
// rules on top. Failures are collected per source and returned alongside
// the rules that did load.
func (b *Builder) Build() ([]policy.Rule, []LoadError) {
	var (
		rules    []policy.Rule
		failures []LoadError
	)

	load := func(dir string, tier policy.Tier) {
		if dir == "" {
			return
		}
		loaded, errs := LoadDir(dir, tier)
		rules = append(rules, loaded...)
		failures = append(failures, errs...)
	}

	load(b.defaultDir, policy.TierDefault)

	userDirs := b.settings.PolicyDirs
	if len(userDirs) == 0 && b.settings.UserDir != "" {
		userDirs = []string{b.settings.UserDir}
	}
	for _, dir := range userDirs {
		load(dir, policy.TierUser)
	}

	load(b.settings.WorkspaceDir, policy.TierWorkspace)

	if b.adminDir != "" {
		insecure, err := insecureDir(b.adminDir)
		switch {
		case err != nil:
			failures = append(failures, LoadError{Path: b.adminDir, Err: err})
		case insecure:
			// An attacker who can write to the admin directory must not be
			// able to silently grant themselves tool access.
			b.log.Warn("admin policy directory is group/world-writable, skipping its rules",
				"dir", b.adminDir)
		default:
			load(b.adminDir, policy.TierAdmin)
		}
	}

	rules = append(rules, b.settingsRules()...)
	return rules, failures
}

func (b *Builder) settingsRules() []policy.Rule {
	var rules []policy.Rule
	for _, name := range b.settings.ExcludedTools {
		rules = append(rules, policy.Rule{
			ToolName: name,
			Decision: policy.Deny,
			Priority: policy.TierUser.Priority(policy.LocalExcludedTool),
			Source:   "settings: excluded tool",
		})
	}
	for _, name := range b.settings.AllowedTools {
		rules = append(rules, policy.Rule{
			ToolName: name,
			Decision: policy.Allow,
			Priority: policy.TierUser.Priority(policy.LocalAllowedTool),
			Source:   "settings: allowed tool",
		})
	}
	for _, server := range b.settings.TrustedServers {
		rules = append(rules, policy.Rule{
			ToolName: server + "__*",
			Decision: policy.Allow,
			Priority: policy.TierWorkspace.Priority(policy.LocalTrustedServer),
			Source:   "settings: trusted server " + server,
		})
	}
	return rules
}

// AlwaysAllowRule builds the dynamic rule recorded when a reviewer chooses
// "allow always" for a tool.
func AlwaysAllowRule(toolName string) policy.Rule {
	return policy.Rule{
		ToolName: toolName,
		Decision: policy.Allow,
		Priority: policy.TierWorkspace.Priority(policy.LocalAlwaysAllow),
		Source:   "session allow-always",
	}
}
