// Package shellexec provides the shell command tool: the one tool this
// module implements itself, because the executor's PID reporting, live
// output streaming and truncation paths are specified against it.
package shellexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/toolwave/dispatch/internal/tool"
)

// ToolName is the name the shell tool registers under.
const ToolName = "run_shell"

// ShellTool executes commands on the local machine. It is mutating,
// streaming and shell-class; every call runs alone in its own wave.
type ShellTool struct {
	gracefulShutdown time.Duration
}

// New creates a ShellTool. gracefulShutdown is how long a cancelled command
// gets between SIGINT and SIGKILL.
func New(gracefulShutdown time.Duration) *ShellTool {
	if gracefulShutdown <= 0 {
		gracefulShutdown = 2 * time.Second
	}
	return &ShellTool{gracefulShutdown: gracefulShutdown}
}

// Descriptor implements tool.Tool.
func (t *ShellTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        ToolName,
		DisplayName: "Shell",
		Kind:        tool.Mutating,
		CanStream:   true,
		ShellClass:  true,
	}
}

// shellRequest is the typed form of the tool's arguments.
type shellRequest struct {
	Command        []string          `mapstructure:"command"`
	WorkingDir     string            `mapstructure:"working_dir"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	Env            map[string]string `mapstructure:"env"`
}

// NewInvocation implements tool.Tool.
func (t *ShellTool) NewInvocation(args map[string]any) (tool.Invocation, error) {
	var req shellRequest
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &req,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("command cannot be empty")
	}
	return &shellInvocation{req: req, gracefulShutdown: t.gracefulShutdown}, nil
}

type shellInvocation struct {
	req              shellRequest
	gracefulShutdown time.Duration
}

// Execute runs the command, reporting the PID as soon as the process has
// started and forwarding output chunks to the live-output callback while
// the command runs. Cancellation tries SIGINT first, then kills.
func (inv *shellInvocation) Execute(ctx context.Context, opts tool.InvokeOptions) (*tool.Result, error) {
	req := inv.req

	// Not CommandContext: cancellation needs the interrupt-then-kill
	// sequence, which CommandContext does not provide.
	cmd := exec.Command(req.Command[0], req.Command[1:]...)
	cmd.Dir = req.WorkingDir
	cmd.Stdin = nil
	if len(req.Env) > 0 {
		env := os.Environ()
		for k, v := range req.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	out := &liveWriter{forward: opts.LiveOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return &tool.Result{
			Err: &tool.Error{Kind: tool.ErrKindExecution, Message: fmt.Sprintf("failed to start %s: %v", req.Command[0], err)},
		}, nil
	}

	if opts.PID != nil {
		opts.PID(cmd.Process.Pid)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeoutC <-chan time.Time
	if req.TimeoutSeconds > 0 {
		timer := time.NewTimer(time.Duration(req.TimeoutSeconds) * time.Second)
		defer timer.Stop()
		timeoutC = timer.C
	}

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		inv.stop(cmd, done)
		return nil, ctx.Err()
	case <-timeoutC:
		inv.stop(cmd, done)
		return &tool.Result{
			Content: out.String(),
			Err:     &tool.Error{Kind: tool.ErrKindTimeout, Message: fmt.Sprintf("command timed out after %ds", req.TimeoutSeconds)},
		}, nil
	}

	exitCode := 0
	if waitErr != nil {
		if ee, ok := waitErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			return nil, waitErr
		}
	}

	// A non-zero exit is a result, not a tool failure: the model needs the
	// output and the code either way.
	return &tool.Result{
		Content: fmt.Sprintf("%s\n[exit code: %d]", out.String(), exitCode),
		Display: fmt.Sprintf("%s (exit %d)", req.Command[0], exitCode),
	}, nil
}

// stop attempts graceful shutdown, then kills.
func (inv *shellInvocation) stop(cmd *exec.Cmd, done <-chan error) {
	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-done:
	case <-time.After(inv.gracefulShutdown):
		_ = cmd.Process.Kill()
		<-done
	}
}

// liveWriter buffers command output and forwards each chunk to the
// live-output callback. Both stdout and stderr share one writer so chunks
// arrive in the order the process produced them.
type liveWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	forward func(chunk string)
}

func (w *liveWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf.Write(p)
	w.mu.Unlock()
	if w.forward != nil {
		w.forward(string(p))
	}
	return len(p), nil
}

func (w *liveWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}
