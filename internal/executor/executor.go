// Package executor runs a single approved tool call's invocation and turns
// whatever happens into a terminal response: success, error or cancelled.
// One call's failure is always contained here; the scheduler never aborts a
// batch because an invocation misbehaved.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/toolwave/dispatch/internal/call"
	"github.com/toolwave/dispatch/internal/config"
	"github.com/toolwave/dispatch/internal/tool"
)

// Hooks carries the per-call callbacks the executor forwards into the
// invocation. Either hook may be nil.
type Hooks struct {
	// LiveOutput receives streamed partial output as it arrives.
	LiveOutput func(chunk string)

	// PID is called as soon as a shell-class invocation reports its process
	// id, before the invocation completes. The scheduler uses it to
	// transition the call to Executing-with-pid eagerly.
	PID func(pid int)
}

// Executor executes resolved invocations and classifies their outcomes.
type Executor struct {
	cfg config.ExecutorConfig
	log *slog.Logger
}

// New creates an Executor.
func New(cfg config.ExecutorConfig, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{cfg: cfg, log: log}
}

// Execute runs the call's invocation and returns its terminal response.
// The response always carries start/end times and the duration between
// them. Execute never returns an error: every failure mode, including a
// panicking invocation, is classified into the response.
func (e *Executor) Execute(ctx context.Context, tc *call.ToolCall, hooks Hooks) *call.Response {
	start := time.Now()
	result, err := e.invoke(ctx, tc, hooks)
	duration := time.Since(start)

	resp := &call.Response{Duration: duration}

	// A triggered cancellation token wins over whatever the invocation
	// reported: the caller asked for this call to stop, and that is what
	// the record must say.
	if ctx.Err() != nil {
		resp.ErrorKind = call.ErrCancelled
		resp.ErrorMessage = "operation cancelled"
		resp.Display = "Cancelled"
		return resp
	}

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			resp.ErrorKind = call.ErrCancelled
			resp.ErrorMessage = "operation cancelled"
			resp.Display = "Cancelled"
			return resp
		}
		resp.ErrorKind = call.ErrUnhandled
		resp.ErrorMessage = err.Error()
		resp.Display = "Failed"
		return resp
	}

	if result.Err != nil {
		resp.ErrorKind = call.ErrExecution
		resp.ErrorMessage = fmt.Sprintf("%s: %s", result.Err.Kind, result.Err.Message)
		resp.Display = "Failed"
		resp.Content = result.Content
		return resp
	}

	resp.Content = result.Content
	resp.Display = result.Display
	resp.TailCall = result.TailCall

	// The output size cap protects the conversation context from unbounded
	// growth. It only applies to shell-class tools, the known producers of
	// large stdout/stderr.
	if tc.Descriptor.ShellClass && len(resp.Content) > e.cfg.TruncateThreshold {
		short, path, err := e.truncate(resp.Content)
		if err != nil {
			e.log.Warn("failed to persist full output, returning untruncated content",
				"call_id", tc.Request.CallID, "error", err)
		} else {
			resp.Content = short
			resp.OutputFile = path
			resp.Truncated = true
		}
	}

	return resp
}

// invoke runs the invocation with panic containment and wires up the
// capability-gated callbacks.
func (e *Executor) invoke(ctx context.Context, tc *call.ToolCall, hooks Hooks) (result *tool.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("invocation panicked",
				"call_id", tc.Request.CallID, "tool", tc.Request.Name, "panic", r)
			result = nil
			err = fmt.Errorf("unhandled exception in %s: %v", tc.Request.Name, r)
		}
	}()

	opts := tool.InvokeOptions{}
	if tc.Descriptor.CanStream {
		opts.LiveOutput = hooks.LiveOutput
	}
	if tc.Descriptor.ShellClass {
		opts.PID = hooks.PID
	}

	result, err = tc.Invocation.Execute(ctx, opts)
	if err == nil && result == nil {
		err = fmt.Errorf("invocation for %s returned neither result nor error", tc.Request.Name)
	}
	return result, err
}
