package policyconf

import (
	"fmt"
	"os"
	"path/filepath"
)

// AlwaysAllowFile is the workspace policy file dynamic grants append to.
const AlwaysAllowFile = "always_allow.toml"

// PersistAlwaysAllow appends an allow-always rule entry to the workspace
// policy file. The write is exclusive-create-temp-file plus atomic rename so
// concurrent invocations never leave a partial file behind.
//
// A persistence failure does not roll back the in-memory grant that
// triggered it; the caller logs the error and the session grant stands.
func PersistAlwaysAllow(workspaceDir, toolName string) error {
	if workspaceDir == "" {
		return fmt.Errorf("no workspace policy directory configured")
	}
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return fmt.Errorf("create policy dir: %w", err)
	}

	path := filepath.Join(workspaceDir, AlwaysAllowFile)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	entry := fmt.Sprintf("\n[[rule]]\ntoolName = %q\ndecision = \"allow\"\npriority = %d\n",
		toolName, persistedLocalPriority)

	tmp, err := os.CreateTemp(workspaceDir, AlwaysAllowFile+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(append(existing, entry...)); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// persistedLocalPriority matches policy.LocalAlwaysAllow so a reload from
// disk reproduces the same decision the session grant gave.
const persistedLocalPriority = 900
