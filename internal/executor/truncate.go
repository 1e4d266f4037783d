package executor

import (
	"fmt"
	"os"
	"path/filepath"
)

// truncate persists the full content to a side-channel file and returns a
// shortened representation that states where the rest went.
func (e *Executor) truncate(content string) (string, string, error) {
	dir := e.cfg.OutputDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "dispatch-output")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.CreateTemp(dir, "output-*.log")
	if err != nil {
		return "", "", fmt.Errorf("create output file: %w", err)
	}
	path := f.Name()
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(path)
		return "", "", fmt.Errorf("write output file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("close output file: %w", err)
	}

	head := e.cfg.TruncateHead
	tail := e.cfg.TruncateTail
	if head > len(content) {
		head = len(content)
	}
	if tail > len(content)-head {
		tail = len(content) - head
	}

	short := fmt.Sprintf(
		"%s\n... [output truncated: %d of %d bytes shown; full output saved to %s] ...\n%s",
		content[:head], head+tail, len(content), path, content[len(content)-tail:])
	return short, path, nil
}
