// Package tooltest provides scriptable tool fakes for exercising the
// scheduler and executor without real tool implementations.
package tooltest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/toolwave/dispatch/internal/tool"
)

// FakeTool is a scriptable tool.Tool. Zero value is a read-only tool named
// "fake" that succeeds with empty content.
type FakeTool struct {
	Desc tool.Descriptor

	// ResolveErr, when set, makes NewInvocation fail.
	ResolveErr error

	// ExecuteFunc scripts the invocation. Nil means immediate success.
	ExecuteFunc func(ctx context.Context, args map[string]any, opts tool.InvokeOptions) (*tool.Result, error)

	executions atomic.Int64

	mu       sync.Mutex
	argsSeen []map[string]any
}

// Descriptor implements tool.Tool.
func (f *FakeTool) Descriptor() tool.Descriptor {
	if f.Desc.Name == "" {
		return tool.Descriptor{Name: "fake"}
	}
	return f.Desc
}

// NewInvocation implements tool.Tool.
func (f *FakeTool) NewInvocation(args map[string]any) (tool.Invocation, error) {
	if f.ResolveErr != nil {
		return nil, f.ResolveErr
	}
	return &fakeInvocation{parent: f, args: args}, nil
}

// Executions reports how many times an invocation of this tool ran.
func (f *FakeTool) Executions() int {
	return int(f.executions.Load())
}

// ArgsSeen returns the argument maps passed to each execution, in order.
func (f *FakeTool) ArgsSeen() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.argsSeen...)
}

type fakeInvocation struct {
	parent *FakeTool
	args   map[string]any
}

func (inv *fakeInvocation) Execute(ctx context.Context, opts tool.InvokeOptions) (*tool.Result, error) {
	inv.parent.executions.Add(1)
	inv.parent.mu.Lock()
	inv.parent.argsSeen = append(inv.parent.argsSeen, inv.args)
	inv.parent.mu.Unlock()

	if inv.parent.ExecuteFunc != nil {
		return inv.parent.ExecuteFunc(ctx, inv.args, opts)
	}
	return &tool.Result{Content: "ok"}, nil
}

// Gauge tracks concurrent executions, for asserting wave behavior.
type Gauge struct {
	mu      sync.Mutex
	current int
	max     int
}

// Enter marks one execution as started.
func (g *Gauge) Enter() {
	g.mu.Lock()
	g.current++
	if g.current > g.max {
		g.max = g.current
	}
	g.mu.Unlock()
}

// Exit marks one execution as finished.
func (g *Gauge) Exit() {
	g.mu.Lock()
	g.current--
	g.mu.Unlock()
}

// Max reports the highest concurrency observed.
func (g *Gauge) Max() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}
