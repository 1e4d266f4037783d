package policyconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolwave/dispatch/internal/policy"
)

func writePolicyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile_BasicRule(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "rules.toml", `
[[rule]]
toolName = "read_file"
decision = "allow"
priority = 100
`)

	rules, err := LoadFile(path, policy.TierUser)

	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "read_file", rules[0].ToolName)
	assert.Equal(t, policy.Allow, rules[0].Decision)
	assert.Equal(t, policy.TierUser.Priority(100), rules[0].Priority)
	assert.Equal(t, "user:rules.toml#1", rules[0].Source)
}

func TestLoadFile_CommandPrefixString(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "rules.toml", `
[[rule]]
toolName = "run_shell"
decision = "allow"
commandPrefix = "git status"
`)

	rules, err := LoadFile(path, policy.TierWorkspace)

	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.NotNil(t, rules[0].ArgsPattern)
	assert.True(t, rules[0].Matches("run_shell", "git status --short"))
	assert.False(t, rules[0].Matches("run_shell", "git push"))
}

func TestLoadFile_CommandPrefixList(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "rules.toml", `
[[rule]]
toolName = "run_shell"
decision = "allow"
commandPrefix = ["ls", "git log"]
`)

	rules, err := LoadFile(path, policy.TierWorkspace)

	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].Matches("run_shell", "ls -la"))
	assert.True(t, rules[0].Matches("run_shell", "git log --oneline"))
	assert.False(t, rules[0].Matches("run_shell", "git push"))
}

func TestLoadFile_McpNameWithoutToolName_BuildsWildcard(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "rules.toml", `
[[rule]]
mcpName = "github"
decision = "allow"
`)

	rules, err := LoadFile(path, policy.TierWorkspace)

	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "github__*", rules[0].ToolName)
	assert.True(t, rules[0].Matches("github__create_issue", ""))
}

func TestLoadFile_McpNameWithToolName_BuildsPrefixedName(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "rules.toml", `
[[rule]]
mcpName = "github"
toolName = "create_issue"
decision = "deny"
`)

	rules, err := LoadFile(path, policy.TierUser)

	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "github__create_issue", rules[0].ToolName)
}

func TestLoadFile_MissingToolName_Fails(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "rules.toml", `
[[rule]]
decision = "allow"
`)

	_, err := LoadFile(path, policy.TierUser)
	assert.ErrorContains(t, err, "missing toolName")
}

func TestLoadFile_InvalidDecision_Fails(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "rules.toml", `
[[rule]]
toolName = "run_shell"
decision = "maybe"
`)

	_, err := LoadFile(path, policy.TierUser)
	assert.ErrorContains(t, err, "invalid decision")
}

func TestLoadFile_CommandPrefixAndArgsPattern_MutuallyExclusive(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "rules.toml", `
[[rule]]
toolName = "run_shell"
decision = "allow"
commandPrefix = "ls"
argsPattern = "^ls"
`)

	_, err := LoadFile(path, policy.TierUser)
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestLoadFile_UnsafeArgsPattern_Rejected(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "rules.toml", `
[[rule]]
toolName = "run_shell"
decision = "allow"
argsPattern = "(a+)+"
`)

	_, err := LoadFile(path, policy.TierUser)
	assert.ErrorContains(t, err, "argsPattern")
}

func TestLoadDir_MalformedFileSkipped_OthersStillLoad(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "a_good.toml", `
[[rule]]
toolName = "read_file"
decision = "allow"
`)
	writePolicyFile(t, dir, "b_broken.toml", `this is not toml [[[`)
	writePolicyFile(t, dir, "c_good.toml", `
[[rule]]
toolName = "run_shell"
decision = "deny"
`)

	rules, failures := LoadDir(dir, policy.TierUser)

	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Path, "b_broken.toml")
	require.Len(t, rules, 2)
	assert.Equal(t, "read_file", rules[0].ToolName)
	assert.Equal(t, "run_shell", rules[1].ToolName)
}

func TestLoadDir_MissingDirectory_NotAnError(t *testing.T) {
	rules, failures := LoadDir(filepath.Join(t.TempDir(), "nope"), policy.TierUser)
	assert.Empty(t, rules)
	assert.Empty(t, failures)
}

func TestLoadDir_IgnoresNonTomlFiles(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "notes.txt", "not a policy")
	writePolicyFile(t, dir, "rules.toml", `
[[rule]]
toolName = "read_file"
decision = "allow"
`)

	rules, failures := LoadDir(dir, policy.TierDefault)

	assert.Empty(t, failures)
	assert.Len(t, rules, 1)
}
