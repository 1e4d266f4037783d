package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEditor(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "editor.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestExternalEditor_EditorLeavesFileUnchanged_ReturnsSameArgs(t *testing.T) {
	e := &ExternalEditor{Command: fakeEditor(t, "exit 0")}

	args := map[string]any{"path": "a.txt", "count": float64(3)}
	got, err := e.EditArgs(context.Background(), "write", args)

	require.NoError(t, err)
	assert.Equal(t, args, got)
}

func TestExternalEditor_EditorRewritesArgs_ReturnsEditedArgs(t *testing.T) {
	e := &ExternalEditor{Command: fakeEditor(t, `printf '{"path": "b.txt"}' > "$1"`)}

	got, err := e.EditArgs(context.Background(), "write", map[string]any{"path": "a.txt"})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"path": "b.txt"}, got)
}

func TestExternalEditor_EditorFails_ReturnsError(t *testing.T) {
	e := &ExternalEditor{Command: fakeEditor(t, "exit 1")}

	_, err := e.EditArgs(context.Background(), "write", map[string]any{"path": "a.txt"})
	assert.ErrorContains(t, err, "editor")
}

func TestExternalEditor_MissingEditorBinary_ReturnsError(t *testing.T) {
	e := &ExternalEditor{Command: "definitely-not-an-editor-xyz"}

	_, err := e.EditArgs(context.Background(), "write", map[string]any{})
	assert.Error(t, err)
}

func TestExternalEditor_EditorWritesInvalidJSON_ReturnsError(t *testing.T) {
	e := &ExternalEditor{Command: fakeEditor(t, `printf 'not json at all' > "$1"`)}

	_, err := e.EditArgs(context.Background(), "write", map[string]any{"path": "a.txt"})
	assert.ErrorContains(t, err, "parse edited arguments")
}
