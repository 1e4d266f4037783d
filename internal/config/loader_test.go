package config

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockFileSystem implements FileSystem for testing.
type MockFileSystem struct {
	HomeDir     string
	HomeDirErr  error
	Files       map[string][]byte
	ReadFileErr error
}

func (m *MockFileSystem) UserHomeDir() (string, error) {
	return m.HomeDir, m.HomeDirErr
}

func (m *MockFileSystem) ReadFile(path string) ([]byte, error) {
	if m.ReadFileErr != nil {
		return nil, m.ReadFileErr
	}
	data, ok := m.Files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

const configPath = "/home/user/.config/dispatch/config.yaml"

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	fs := &MockFileSystem{
		HomeDir: "/home/user",
		Files:   map[string][]byte{},
	}
	loader := NewLoaderWithFS(fs)

	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, 64*1024, cfg.Executor.TruncateThreshold)
	assert.Equal(t, 4096, cfg.Executor.TruncateHead)
	assert.Equal(t, 2048, cfg.Executor.TruncateTail)
	assert.Equal(t, 2000, cfg.Executor.GracefulShutdownMs)
	assert.Equal(t, "ask_user", cfg.Policy.DefaultDecision)
	assert.Equal(t, "/etc/dispatch/policies", cfg.Policy.AdminDir)
}

func TestLoad_FullOverride_AllValuesReplaced(t *testing.T) {
	configYAML := `
executor:
  truncate_threshold: 131072
  truncate_head: 8192
  truncate_tail: 4096
  output_dir: /var/tmp/dispatch
  graceful_shutdown_ms: 5000
policy:
  default_decision: deny
  default_dir: /usr/share/dispatch/policies
  admin_dir: /etc/custom/policies
`
	fs := &MockFileSystem{
		HomeDir: "/home/user",
		Files:   map[string][]byte{configPath: []byte(configYAML)},
	}
	loader := NewLoaderWithFS(fs)

	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, 131072, cfg.Executor.TruncateThreshold)
	assert.Equal(t, 8192, cfg.Executor.TruncateHead)
	assert.Equal(t, 4096, cfg.Executor.TruncateTail)
	assert.Equal(t, "/var/tmp/dispatch", cfg.Executor.OutputDir)
	assert.Equal(t, 5000, cfg.Executor.GracefulShutdownMs)
	assert.Equal(t, "deny", cfg.Policy.DefaultDecision)
	assert.Equal(t, "/usr/share/dispatch/policies", cfg.Policy.DefaultDir)
	assert.Equal(t, "/etc/custom/policies", cfg.Policy.AdminDir)
}

func TestLoad_PartialOverride_MergesWithDefaults(t *testing.T) {
	configYAML := `
policy:
  default_decision: allow
`
	fs := &MockFileSystem{
		HomeDir: "/home/user",
		Files:   map[string][]byte{configPath: []byte(configYAML)},
	}
	loader := NewLoaderWithFS(fs)

	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "allow", cfg.Policy.DefaultDecision)
	// Untouched sections stay at defaults.
	assert.Equal(t, 64*1024, cfg.Executor.TruncateThreshold)
	assert.Equal(t, 2000, cfg.Executor.GracefulShutdownMs)
}

func TestLoad_HomeDirError_ReturnsDefaults(t *testing.T) {
	fs := &MockFileSystem{HomeDirErr: errors.New("no home")}
	loader := NewLoaderWithFS(fs)

	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "ask_user", cfg.Policy.DefaultDecision)
}

func TestLoad_PermissionError_Propagated(t *testing.T) {
	fs := &MockFileSystem{
		HomeDir:     "/home/user",
		ReadFileErr: os.ErrPermission,
	}
	loader := NewLoaderWithFS(fs)

	_, err := loader.Load()
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestLoad_MalformedYAML_Fails(t *testing.T) {
	fs := &MockFileSystem{
		HomeDir: "/home/user",
		Files:   map[string][]byte{configPath: []byte("executor: [not a map")},
	}
	loader := NewLoaderWithFS(fs)

	_, err := loader.Load()
	assert.Error(t, err)
}

func TestLoad_InvalidMergedConfig_FailsValidation(t *testing.T) {
	configYAML := `
executor:
  truncate_threshold: 10
  truncate_head: 100
  truncate_tail: 100
`
	fs := &MockFileSystem{
		HomeDir: "/home/user",
		Files:   map[string][]byte{configPath: []byte(configYAML)},
	}
	loader := NewLoaderWithFS(fs)

	_, err := loader.Load()
	assert.ErrorContains(t, err, "config validation failed")
}
