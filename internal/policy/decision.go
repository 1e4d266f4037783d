// Package policy implements the rule-based decision engine consulted before
// any tool call executes. Rules are immutable once loaded; the active set
// only grows at runtime (dynamic rules) or is swapped wholesale on reload.
package policy

import "fmt"

// Decision is the engine's answer for one (tool, args) pair.
type Decision string

const (
	Allow   Decision = "allow"
	Deny    Decision = "deny"
	AskUser Decision = "ask_user"
)

// ParseDecision converts the rule-file spelling into a Decision.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case Allow, Deny, AskUser:
		return Decision(s), nil
	}
	return "", fmt.Errorf("invalid decision %q (want allow, deny or ask_user)", s)
}

// Tier is the coarse priority band a rule belongs to. Higher tiers always
// dominate lower ones regardless of local priority.
type Tier int

const (
	TierDefault   Tier = 1
	TierWorkspace Tier = 2
	TierUser      Tier = 3
	TierAdmin     Tier = 4
)

var tierNames = map[Tier]string{
	TierDefault:   "default",
	TierWorkspace: "workspace",
	TierUser:      "user",
	TierAdmin:     "admin",
}

func (t Tier) String() string { return tierNames[t] }

// maxLocalPriority bounds the per-file priority field so a rule can never
// escape its tier: priority = tier + local/1000.
const maxLocalPriority = 999

// Priority computes the effective priority of a rule with the given local
// priority inside this tier. Local priorities outside [0, 999] are clamped.
func (t Tier) Priority(local int) float64 {
	if local < 0 {
		local = 0
	}
	if local > maxLocalPriority {
		local = maxLocalPriority
	}
	return float64(t) + float64(local)/1000
}

// Fixed local priorities for settings-derived and dynamic rules. The
// resulting ordering is security-relevant: an explicit exclusion always
// outranks a persisted "always allow", which outranks a trusted-server
// allow.
const (
	LocalExcludedTool  = 900 // TierUser: --exclude-tools deny
	LocalAllowedTool   = 500 // TierUser: --allow-tools allow
	LocalAlwaysAllow   = 900 // TierWorkspace: runtime/persisted allow-always
	LocalTrustedServer = 500 // TierWorkspace: trusted MCP server allow
)
