package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Defaults_AreValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidate_TruncateThresholdTooSmall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Executor.TruncateThreshold = 0

	err := cfg.Validate()
	assert.ErrorContains(t, err, "truncate_threshold")
}

func TestValidate_HeadPlusTailMustFitUnderThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Executor.TruncateThreshold = 100
	cfg.Executor.TruncateHead = 60
	cfg.Executor.TruncateTail = 40

	err := cfg.Validate()
	assert.ErrorContains(t, err, "truncate_head + executor.truncate_tail")
}

func TestValidate_NegativeTruncateTail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Executor.TruncateTail = -1

	err := cfg.Validate()
	assert.ErrorContains(t, err, "truncate_tail")
}

func TestValidate_GracefulShutdownMustBePositive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Executor.GracefulShutdownMs = 0

	err := cfg.Validate()
	assert.ErrorContains(t, err, "graceful_shutdown_ms")
}

func TestValidate_InvalidDefaultDecision(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.DefaultDecision = "maybe"

	err := cfg.Validate()
	assert.ErrorContains(t, err, "default_decision")
}
