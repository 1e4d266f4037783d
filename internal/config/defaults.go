package config

// Config holds all application configuration values.
// Defaults are set in DefaultConfig() and can be overridden via dotfile.
// NOTE: Values in config files override defaults, including explicit zero
// values. Missing keys are left at their default values.
type Config struct {
	Executor ExecutorConfig `yaml:"executor"`
	Policy   PolicyConfig   `yaml:"policy"`
}

type ExecutorConfig struct {
	// Output Truncation
	TruncateThreshold int    `yaml:"truncate_threshold"` // Default: 64 * 1024 (64KB)
	TruncateHead      int    `yaml:"truncate_head"`      // Default: 4096
	TruncateTail      int    `yaml:"truncate_tail"`      // Default: 2048
	OutputDir         string `yaml:"output_dir"`         // Default: "" (system temp)

	// Shell Execution
	GracefulShutdownMs int `yaml:"graceful_shutdown_ms"` // Default: 2000
}

type PolicyConfig struct {
	DefaultDecision string `yaml:"default_decision"` // Default: "ask_user"
	DefaultDir      string `yaml:"default_dir"`      // Default: ""
	AdminDir        string `yaml:"admin_dir"`        // Default: "/etc/dispatch/policies"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Executor: ExecutorConfig{
			TruncateThreshold:  64 * 1024,
			TruncateHead:       4096,
			TruncateTail:       2048,
			GracefulShutdownMs: 2000,
		},
		Policy: PolicyConfig{
			DefaultDecision: "ask_user",
			AdminDir:        "/etc/dispatch/policies",
		},
	}
}
