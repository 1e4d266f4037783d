package executor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolwave/dispatch/internal/call"
	"github.com/toolwave/dispatch/internal/config"
	"github.com/toolwave/dispatch/internal/tool"
	"github.com/toolwave/dispatch/internal/tooltest"
)

func testConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		TruncateThreshold: 100,
		TruncateHead:      20,
		TruncateTail:      10,
	}
}

func newCall(ft *tooltest.FakeTool, args map[string]any) *call.ToolCall {
	inv, err := ft.NewInvocation(args)
	if err != nil {
		panic(err)
	}
	return &call.ToolCall{
		Request:    call.Request{CallID: "c1", Name: ft.Descriptor().Name, Args: args},
		Descriptor: ft.Descriptor(),
		Invocation: inv,
	}
}

func TestExecute_Success(t *testing.T) {
	ft := &tooltest.FakeTool{
		ExecuteFunc: func(ctx context.Context, args map[string]any, opts tool.InvokeOptions) (*tool.Result, error) {
			return &tool.Result{Content: "hello", Display: "done"}, nil
		},
	}
	e := New(testConfig(), nil)

	resp := e.Execute(context.Background(), newCall(ft, nil), Hooks{})

	assert.Empty(t, resp.ErrorKind)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "done", resp.Display)
	assert.Greater(t, resp.Duration.Nanoseconds(), int64(-1))
}

func TestExecute_DomainError_ClassifiedAsExecutionError(t *testing.T) {
	ft := &tooltest.FakeTool{
		ExecuteFunc: func(ctx context.Context, args map[string]any, opts tool.InvokeOptions) (*tool.Result, error) {
			return &tool.Result{
				Content: "partial output",
				Err:     &tool.Error{Kind: tool.ErrKindNotFound, Message: "no such file"},
			}, nil
		},
	}
	e := New(testConfig(), nil)

	resp := e.Execute(context.Background(), newCall(ft, nil), Hooks{})

	assert.Equal(t, call.ErrExecution, resp.ErrorKind)
	assert.Equal(t, "not_found: no such file", resp.ErrorMessage)
	assert.Equal(t, "partial output", resp.Content)
}

func TestExecute_Panic_ContainedAsUnhandled(t *testing.T) {
	ft := &tooltest.FakeTool{
		ExecuteFunc: func(ctx context.Context, args map[string]any, opts tool.InvokeOptions) (*tool.Result, error) {
			panic("boom")
		},
	}
	e := New(testConfig(), nil)

	resp := e.Execute(context.Background(), newCall(ft, nil), Hooks{})

	assert.Equal(t, call.ErrUnhandled, resp.ErrorKind)
	assert.Contains(t, resp.ErrorMessage, "boom")
}

func TestExecute_CancelledContext_WinsOverResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ft := &tooltest.FakeTool{
		ExecuteFunc: func(ctx context.Context, args map[string]any, opts tool.InvokeOptions) (*tool.Result, error) {
			cancel()
			return &tool.Result{Content: "finished anyway"}, nil
		},
	}
	e := New(testConfig(), nil)

	resp := e.Execute(ctx, newCall(ft, nil), Hooks{})

	assert.Equal(t, call.ErrCancelled, resp.ErrorKind)
	assert.Empty(t, resp.Content)
}

func TestExecute_ContextErrorFromInvocation_ClassifiedAsCancelled(t *testing.T) {
	ft := &tooltest.FakeTool{
		ExecuteFunc: func(ctx context.Context, args map[string]any, opts tool.InvokeOptions) (*tool.Result, error) {
			return nil, context.Canceled
		},
	}
	e := New(testConfig(), nil)

	resp := e.Execute(context.Background(), newCall(ft, nil), Hooks{})

	assert.Equal(t, call.ErrCancelled, resp.ErrorKind)
}

func TestExecute_NilResultNilError_ClassifiedAsUnhandled(t *testing.T) {
	ft := &tooltest.FakeTool{
		ExecuteFunc: func(ctx context.Context, args map[string]any, opts tool.InvokeOptions) (*tool.Result, error) {
			return nil, nil
		},
	}
	e := New(testConfig(), nil)

	resp := e.Execute(context.Background(), newCall(ft, nil), Hooks{})

	assert.Equal(t, call.ErrUnhandled, resp.ErrorKind)
	assert.Contains(t, resp.ErrorMessage, "neither result nor error")
}

func TestExecute_ShellClassOutput_TruncatedWithSideFile(t *testing.T) {
	full := strings.Repeat("x", 50) + strings.Repeat("y", 100)
	ft := &tooltest.FakeTool{
		Desc: tool.Descriptor{Name: "run_shell", Kind: tool.Mutating, ShellClass: true},
		ExecuteFunc: func(ctx context.Context, args map[string]any, opts tool.InvokeOptions) (*tool.Result, error) {
			return &tool.Result{Content: full}, nil
		},
	}
	cfg := testConfig()
	cfg.OutputDir = t.TempDir()
	e := New(cfg, nil)

	resp := e.Execute(context.Background(), newCall(ft, nil), Hooks{})

	require.True(t, resp.Truncated)
	require.NotEmpty(t, resp.OutputFile)
	assert.Less(t, len(resp.Content), len(full))
	assert.Contains(t, resp.Content, "output truncated")
	assert.True(t, strings.HasPrefix(resp.Content, strings.Repeat("x", 20)))
	assert.True(t, strings.HasSuffix(resp.Content, strings.Repeat("y", 10)))

	saved, err := os.ReadFile(resp.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, full, string(saved))
}

func TestExecute_NonShellTool_NeverTruncated(t *testing.T) {
	full := strings.Repeat("z", 500)
	ft := &tooltest.FakeTool{
		Desc: tool.Descriptor{Name: "read_file", Kind: tool.ReadOnly},
		ExecuteFunc: func(ctx context.Context, args map[string]any, opts tool.InvokeOptions) (*tool.Result, error) {
			return &tool.Result{Content: full}, nil
		},
	}
	e := New(testConfig(), nil)

	resp := e.Execute(context.Background(), newCall(ft, nil), Hooks{})

	assert.False(t, resp.Truncated)
	assert.Equal(t, full, resp.Content)
}

func TestExecute_ShellOutputBelowThreshold_LeftIntact(t *testing.T) {
	ft := &tooltest.FakeTool{
		Desc: tool.Descriptor{Name: "run_shell", Kind: tool.Mutating, ShellClass: true},
		ExecuteFunc: func(ctx context.Context, args map[string]any, opts tool.InvokeOptions) (*tool.Result, error) {
			return &tool.Result{Content: "short"}, nil
		},
	}
	e := New(testConfig(), nil)

	resp := e.Execute(context.Background(), newCall(ft, nil), Hooks{})

	assert.False(t, resp.Truncated)
	assert.Equal(t, "short", resp.Content)
}

func TestExecute_SideFileFailure_ReturnsUntruncatedContent(t *testing.T) {
	full := strings.Repeat("a", 200)
	ft := &tooltest.FakeTool{
		Desc: tool.Descriptor{Name: "run_shell", Kind: tool.Mutating, ShellClass: true},
		ExecuteFunc: func(ctx context.Context, args map[string]any, opts tool.InvokeOptions) (*tool.Result, error) {
			return &tool.Result{Content: full}, nil
		},
	}
	cfg := testConfig()
	// A file where the output directory should be makes persistence fail.
	blocker := fmt.Sprintf("%s/blocker", t.TempDir())
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.OutputDir = blocker
	e := New(cfg, nil)

	resp := e.Execute(context.Background(), newCall(ft, nil), Hooks{})

	assert.False(t, resp.Truncated)
	assert.Equal(t, full, resp.Content)
	assert.Empty(t, resp.OutputFile)
}

func TestExecute_CallbacksGatedByDescriptorCapabilities(t *testing.T) {
	var sawLive, sawPID bool
	ft := &tooltest.FakeTool{
		Desc: tool.Descriptor{Name: "plain", Kind: tool.ReadOnly},
		ExecuteFunc: func(ctx context.Context, args map[string]any, opts tool.InvokeOptions) (*tool.Result, error) {
			sawLive = opts.LiveOutput != nil
			sawPID = opts.PID != nil
			return &tool.Result{}, nil
		},
	}
	e := New(testConfig(), nil)

	hooks := Hooks{
		LiveOutput: func(string) {},
		PID:        func(int) {},
	}
	e.Execute(context.Background(), newCall(ft, nil), hooks)

	// Neither CanStream nor ShellClass: both callbacks withheld.
	assert.False(t, sawLive)
	assert.False(t, sawPID)
}

func TestExecute_StreamingShellTool_ReceivesBothCallbacks(t *testing.T) {
	var sawLive, sawPID bool
	ft := &tooltest.FakeTool{
		Desc: tool.Descriptor{Name: "run_shell", Kind: tool.Mutating, CanStream: true, ShellClass: true},
		ExecuteFunc: func(ctx context.Context, args map[string]any, opts tool.InvokeOptions) (*tool.Result, error) {
			sawLive = opts.LiveOutput != nil
			sawPID = opts.PID != nil
			return &tool.Result{}, nil
		},
	}
	e := New(testConfig(), nil)

	hooks := Hooks{
		LiveOutput: func(string) {},
		PID:        func(int) {},
	}
	e.Execute(context.Background(), newCall(ft, nil), hooks)

	assert.True(t, sawLive)
	assert.True(t, sawPID)
}

func TestExecute_TailCallForwardedOnResponse(t *testing.T) {
	ft := &tooltest.FakeTool{
		ExecuteFunc: func(ctx context.Context, args map[string]any, opts tool.InvokeOptions) (*tool.Result, error) {
			return &tool.Result{
				Content:  "first page",
				TailCall: &tool.TailCall{Name: "read_file", Args: map[string]any{"page": 2}},
			}, nil
		},
	}
	e := New(testConfig(), nil)

	resp := e.Execute(context.Background(), newCall(ft, nil), Hooks{})

	require.NotNil(t, resp.TailCall)
	assert.Equal(t, "read_file", resp.TailCall.Name)
	assert.Equal(t, map[string]any{"page": 2}, resp.TailCall.Args)
}
