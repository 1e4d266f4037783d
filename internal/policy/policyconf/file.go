// Package policyconf loads tiered policy rule files, layers settings-derived
// rules on top, and persists dynamic "always allow" grants. Load failures
// are collected as structured records instead of aborting the build, so one
// malformed file never prevents the rest of the system from loading.
package policyconf

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"

	"github.com/toolwave/dispatch/internal/policy"
)

// LoadError records one rule source that could not be loaded. The offending
// source is skipped; the error is surfaced to the operator once.
type LoadError struct {
	Path string
	Err  error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("policy file %s: %v", e.Path, e.Err)
}

// ruleSpec is the raw shape of one [[rule]] table. CommandPrefix stays
// untyped because the file format accepts both a string and a list.
type ruleSpec struct {
	ToolName      string `mapstructure:"toolName"`
	McpName       string `mapstructure:"mcpName"`
	Decision      string `mapstructure:"decision"`
	Priority      int    `mapstructure:"priority"`
	CommandPrefix any    `mapstructure:"commandPrefix"`
	ArgsPattern   string `mapstructure:"argsPattern"`
}

type ruleFile struct {
	Rule []map[string]any `toml:"rule"`
}

// LoadFile parses one TOML rule file, tagging every rule with the tier's
// priority band.
func LoadFile(path string, tier policy.Tier) ([]policy.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw ruleFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	rules := make([]policy.Rule, 0, len(raw.Rule))
	for i, table := range raw.Rule {
		rule, err := buildRule(table, tier, fmt.Sprintf("%s#%d", filepath.Base(path), i+1))
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func buildRule(table map[string]any, tier policy.Tier, source string) (policy.Rule, error) {
	var spec ruleSpec
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &spec,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return policy.Rule{}, err
	}
	if err := dec.Decode(table); err != nil {
		return policy.Rule{}, fmt.Errorf("decode: %w", err)
	}

	toolName := spec.ToolName
	if spec.McpName != "" {
		if toolName == "" {
			toolName = spec.McpName + "__*"
		} else {
			toolName = spec.McpName + "__" + toolName
		}
	}
	if toolName == "" {
		return policy.Rule{}, fmt.Errorf("missing toolName")
	}

	decision, err := policy.ParseDecision(spec.Decision)
	if err != nil {
		return policy.Rule{}, err
	}

	argsPattern, err := argsPatternFor(spec)
	if err != nil {
		return policy.Rule{}, err
	}

	return policy.Rule{
		ToolName:    toolName,
		ArgsPattern: argsPattern,
		Decision:    decision,
		Priority:    tier.Priority(spec.Priority),
		Source:      tier.String() + ":" + source,
	}, nil
}

func argsPatternFor(spec ruleSpec) (*regexp.Regexp, error) {
	if spec.ArgsPattern != "" && spec.CommandPrefix != nil {
		return nil, fmt.Errorf("commandPrefix and argsPattern are mutually exclusive")
	}
	if spec.ArgsPattern != "" {
		if err := policy.ValidatePattern(spec.ArgsPattern); err != nil {
			return nil, fmt.Errorf("argsPattern: %w", err)
		}
		return regexp.Compile(spec.ArgsPattern)
	}
	if spec.CommandPrefix == nil {
		return nil, nil
	}

	var prefixes []string
	switch v := spec.CommandPrefix.(type) {
	case string:
		prefixes = []string{v}
	case []any:
		for _, p := range v {
			s, ok := p.(string)
			if !ok {
				return nil, fmt.Errorf("commandPrefix entries must be strings")
			}
			prefixes = append(prefixes, s)
		}
	default:
		return nil, fmt.Errorf("commandPrefix must be a string or a list of strings")
	}
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("commandPrefix is empty")
	}
	return policy.CommandPrefixPattern(prefixes)
}

// LoadDir loads every .toml file in dir at the given tier, in lexical order
// so later files win equal-priority ties deterministically. A missing
// directory is not an error.
func LoadDir(dir string, tier policy.Tier) ([]policy.Rule, []LoadError) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []LoadError{{Path: dir, Err: err}}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".toml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		rules    []policy.Rule
		failures []LoadError
	)
	for _, name := range names {
		path := filepath.Join(dir, name)
		loaded, err := LoadFile(path, tier)
		if err != nil {
			failures = append(failures, LoadError{Path: path, Err: err})
			continue
		}
		rules = append(rules, loaded...)
	}
	return rules, failures
}
