package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
)

// ExternalEditor implements ArgEditor by round-tripping the arguments as
// JSON through the user's editor. Any failure — editor exiting non-zero,
// unparseable result — is returned as an error so the original call stays
// untouched.
type ExternalEditor struct {
	// Command is the editor to launch. Empty falls back to $EDITOR, then vi.
	Command string
}

// EditArgs implements ArgEditor.
func (e *ExternalEditor) EditArgs(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
	editor := e.Command
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	data, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}

	f, err := os.CreateTemp("", toolName+"-args-*.json")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close scratch file: %w", err)
	}

	cmd := exec.CommandContext(ctx, editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("editor %s: %w", editor, err)
	}

	edited, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read edited arguments: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(edited, &out); err != nil {
		return nil, fmt.Errorf("parse edited arguments: %w", err)
	}
	return out, nil
}
