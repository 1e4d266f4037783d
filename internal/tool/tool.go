// Package tool defines the contracts the scheduling core needs from
// individual tools. Tool implementations live outside this module; the core
// only consumes a declared descriptor and an invocation that can be executed
// with cancellation.
package tool

import "context"

// Kind tags a tool as read-only or mutating. The scheduler uses this single
// fact to decide whether a call may share a wave with its neighbours.
type Kind int

const (
	// ReadOnly marks tools with no observable side effects. Read-only calls
	// may execute concurrently with each other.
	ReadOnly Kind = iota

	// Mutating marks tools that change state. A mutating call always
	// executes alone, after every earlier call has finished.
	Mutating
)

// IsReadOnly reports whether the kind permits concurrent execution.
func (k Kind) IsReadOnly() bool { return k == ReadOnly }

// Descriptor is the static, declared shape of a tool.
type Descriptor struct {
	// Name is the unique identifier the model calls the tool by.
	Name string

	// DisplayName is shown in confirmation prompts and progress output.
	// Falls back to Name when empty.
	DisplayName string

	// Kind determines wave placement (read-only vs. mutating).
	Kind Kind

	// CanStream indicates the tool emits partial output while running.
	CanStream bool

	// ShellClass marks tools that run OS processes. Only shell-class tools
	// report a PID and are subject to output truncation.
	ShellClass bool
}

// Label returns the descriptor's human-readable name.
func (d Descriptor) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Name
}

// ErrorKind classifies a domain error reported by an invocation.
type ErrorKind string

const (
	ErrKindExecution ErrorKind = "execution_error"
	ErrKindTimeout   ErrorKind = "timeout"
	ErrKindNotFound  ErrorKind = "not_found"
)

// Error is a domain error produced by a tool itself, as opposed to an
// infrastructure failure while running it.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// TailCall is a synthetic follow-up request a tool may chain from its own
// success. The scheduler forwards it verbatim; it never second-guesses it.
type TailCall struct {
	Name string
	Args map[string]any
}

// Result is what an invocation produces on completion.
type Result struct {
	// Content is the payload returned to the model.
	Content string

	// Display is a short human-readable summary for progress output.
	Display string

	// Err is the tool's own domain error, nil on success.
	Err *Error

	// TailCall, when non-nil, asks the scheduler to chain a follow-up call
	// after this result.
	TailCall *TailCall
}

// InvokeOptions carries the per-execution callbacks an invocation may use.
// Either callback may be nil.
type InvokeOptions struct {
	// LiveOutput receives incremental output chunks from streaming tools.
	LiveOutput func(chunk string)

	// PID receives the process id as soon as a shell-class invocation has
	// started its process, before the invocation completes.
	PID func(pid int)
}

// Invocation is one resolved, executable call. Execute must honour ctx
// cancellation and return promptly once it is triggered.
type Invocation interface {
	Execute(ctx context.Context, opts InvokeOptions) (*Result, error)
}

// Tool pairs a descriptor with the ability to resolve argument maps into
// invocations. Implementations must be stateless and safe for concurrent use.
type Tool interface {
	// Descriptor returns the tool's declared shape.
	Descriptor() Descriptor

	// NewInvocation validates args and builds an executable invocation.
	// An error here means the call never starts (ValidationFailed).
	NewInvocation(args map[string]any) (Invocation, error)
}
