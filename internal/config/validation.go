package config

import (
	"fmt"
)

// Validate checks config values for correctness.
// Returns an error if any values are invalid.
func (c *Config) Validate() error {
	var errs []string

	// Executor validation
	if c.Executor.TruncateThreshold < 1 {
		errs = append(errs, "executor.truncate_threshold must be >= 1")
	}
	if c.Executor.TruncateHead < 1 {
		errs = append(errs, "executor.truncate_head must be >= 1")
	}
	if c.Executor.TruncateTail < 0 {
		errs = append(errs, "executor.truncate_tail must be >= 0")
	}
	if c.Executor.GracefulShutdownMs < 1 {
		errs = append(errs, "executor.graceful_shutdown_ms must be >= 1")
	}

	// Semantic validation: the truncated representation must be shorter
	// than what it replaces.
	if c.Executor.TruncateHead+c.Executor.TruncateTail >= c.Executor.TruncateThreshold {
		errs = append(errs, "executor.truncate_head + executor.truncate_tail must be < executor.truncate_threshold")
	}

	// Policy validation
	switch c.Policy.DefaultDecision {
	case "allow", "deny", "ask_user":
	default:
		errs = append(errs, "policy.default_decision must be allow, deny or ask_user")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %v", errs)
	}

	return nil
}
