package policy

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Rule maps a tool-name pattern (and optionally an argument pattern) to a
// decision. Rules are immutable after construction.
type Rule struct {
	// ToolName matches exactly, or as a glob for server-prefixed wildcards
	// such as "github__*".
	ToolName string

	// ArgsPattern, when non-nil, must match the canonical argument string
	// for the rule to apply.
	ArgsPattern *regexp.Regexp

	Decision Decision

	// Priority is tier + local/1000, so the tier always dominates.
	Priority float64

	// Source is human-readable provenance for audit logging, e.g. the file
	// a rule was loaded from or "session allow-always".
	Source string
}

// Matches reports whether the rule applies to the given tool and canonical
// argument string.
func (r Rule) Matches(toolName, canonicalArgs string) bool {
	if !matchToolName(r.ToolName, toolName) {
		return false
	}
	if r.ArgsPattern != nil && !r.ArgsPattern.MatchString(canonicalArgs) {
		return false
	}
	return true
}

func matchToolName(pattern, name string) bool {
	if pattern == name {
		return true
	}
	if !strings.ContainsAny(pattern, "*?[{") {
		return false
	}
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

// CanonicalArgs renders an argument map as a stable, comparable string.
// Shell-style calls canonicalize to their command line so that
// command-prefix rules read naturally; everything else canonicalizes to
// JSON with sorted keys.
func CanonicalArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	if cmd, ok := args["command"]; ok {
		switch v := cmd.(type) {
		case string:
			return v
		case []string:
			return strings.Join(v, " ")
		case []any:
			parts := make([]string, 0, len(v))
			for _, p := range v {
				if s, ok := p.(string); ok {
					parts = append(parts, s)
				}
			}
			if len(parts) == len(v) {
				return strings.Join(parts, " ")
			}
		}
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		val, err := json.Marshal(args[k])
		if err != nil {
			b.WriteString("<unencodable>")
			continue
		}
		b.Write(val)
	}
	return b.String()
}

// CommandPrefixPattern converts literal command prefixes into an argument
// regex anchored at the start of the canonical command line. "git status"
// matches "git status" and "git status --short" but not "git statusx".
func CommandPrefixPattern(prefixes []string) (*regexp.Regexp, error) {
	alts := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		alts = append(alts, regexp.QuoteMeta(strings.TrimSpace(p)))
	}
	expr := "^(" + strings.Join(alts, "|") + `)(\s|$)`
	if err := ValidatePattern(expr); err != nil {
		return nil, err
	}
	return regexp.Compile(expr)
}
