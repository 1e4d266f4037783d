// Package call holds the data model for tool calls: the immutable request,
// the mutable lifecycle record, terminal responses, and the update events
// published on every transition.
package call

import (
	"time"

	"github.com/toolwave/dispatch/internal/tool"
)

// RootSchedulerID marks calls owned by the top-level agent, as opposed to a
// sub-agent's isolated scheduler instance.
const RootSchedulerID = "root"

// Request is one tool invocation requested by the model. It is created by
// the caller and never mutated.
type Request struct {
	// CallID uniquely identifies the request within its batch. The scheduler
	// assigns one when the caller left it empty.
	CallID string

	// Name is the tool to invoke.
	Name string

	// Args are the raw arguments as produced by the model.
	Args map[string]any

	// SchedulerID identifies the owning scheduler instance.
	SchedulerID string

	// PromptID ties the request back to the model turn that produced it.
	PromptID string

	// OriginalName is set when the requested tool name was normalized to an
	// alias before scheduling.
	OriginalName string
}

// Status is a tool call's position in its lifecycle.
type Status int

const (
	StatusQueued Status = iota
	StatusAwaitingApproval
	StatusApproved
	StatusExecuting
	StatusSuccess
	StatusError
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusQueued:           "queued",
	StatusAwaitingApproval: "awaiting_approval",
	StatusApproved:         "approved",
	StatusExecuting:        "executing",
	StatusSuccess:          "success",
	StatusError:            "error",
	StatusCancelled:        "cancelled",
}

func (s Status) String() string { return statusNames[s] }

// Terminal reports whether the status is final. Terminal calls are removed
// from the active map and never transition again.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// Outcome is the reviewer's choice for an ASK_USER confirmation.
type Outcome string

const (
	OutcomeAllowOnce   Outcome = "allow_once"
	OutcomeAllowAlways Outcome = "allow_always"
	OutcomeDeny        Outcome = "deny"
	OutcomeModify      Outcome = "modify"
)

// ErrorKind classifies why a call ended in StatusError or StatusCancelled.
type ErrorKind string

const (
	// ErrPolicyDenied: a DENY rule matched; the tool was never invoked.
	ErrPolicyDenied ErrorKind = "policy_denied"

	// ErrValidationFailed: the tool or its invocation could not be resolved.
	ErrValidationFailed ErrorKind = "validation_failed"

	// ErrExecution: the invocation reported a domain error.
	ErrExecution ErrorKind = "execution_error"

	// ErrUnhandled: the invocation panicked or failed unexpectedly.
	ErrUnhandled ErrorKind = "unhandled_exception"

	// ErrCancelled: the cancellation token fired before completion.
	ErrCancelled ErrorKind = "cancelled"
)

// Response is the terminal result attached to a finished call.
type Response struct {
	// Content is the payload handed back to the model.
	Content string

	// Display is a short human-readable summary.
	Display string

	// ErrorKind is empty on success.
	ErrorKind ErrorKind

	// ErrorMessage describes the failure, empty on success.
	ErrorMessage string

	// OutputFile points at the side-channel file holding the full output
	// when Content was truncated.
	OutputFile string

	// Truncated is set when Content was shortened to protect the
	// conversation context.
	Truncated bool

	// TailCall is the follow-up request the tool asked to chain, if any.
	TailCall *tool.TailCall

	Duration time.Duration
}

// ToolCall is the mutable lifecycle record wrapping a request. It is owned
// exclusively by one state manager; everyone else sees snapshots.
type ToolCall struct {
	Request Request
	Status  Status

	// Descriptor and Invocation are populated once the tool resolves.
	Descriptor tool.Descriptor
	Invocation tool.Invocation

	// Outcome records the reviewer's confirmation choice, if any.
	Outcome Outcome

	// EditedArgs holds reviewer-modified arguments. The original Request is
	// never mutated; when set, these are what the invocation was built from.
	EditedArgs map[string]any

	// PID is the process id of a running shell-class call, 0 otherwise.
	PID int

	// LiveOutput accumulates streamed partial output.
	LiveOutput string

	StartTime time.Time
	EndTime   time.Time

	// Response is set exactly once, when the call reaches a terminal status.
	Response *Response
}

// ReadOnly reports whether the resolved tool is side-effect free.
func (c *ToolCall) ReadOnly() bool { return c.Descriptor.Kind.IsReadOnly() }

// EffectiveArgs returns the arguments the call will execute with: the
// reviewer's edits when present, otherwise the request's original args.
func (c *ToolCall) EffectiveArgs() map[string]any {
	if c.EditedArgs != nil {
		return c.EditedArgs
	}
	return c.Request.Args
}

// Completed is the immutable view of a call that reached a terminal status.
type Completed struct {
	Request   Request
	Status    Status
	Outcome   Outcome
	Response  Response
	StartTime time.Time
	EndTime   time.Time
}

// Snapshot is a copy of a call's externally visible state, safe to publish
// outside the owning state manager.
type Snapshot struct {
	Request    Request
	Status     Status
	Descriptor tool.Descriptor
	Outcome    Outcome
	PID        int
	LiveOutput string
	StartTime  time.Time
	EndTime    time.Time
	Response   *Response
}

// Snap copies the call's current state.
func (c *ToolCall) Snap() Snapshot {
	var resp *Response
	if c.Response != nil {
		r := *c.Response
		resp = &r
	}
	return Snapshot{
		Request:    c.Request,
		Status:     c.Status,
		Descriptor: c.Descriptor,
		Outcome:    c.Outcome,
		PID:        c.PID,
		LiveOutput: c.LiveOutput,
		StartTime:  c.StartTime,
		EndTime:    c.EndTime,
		Response:   resp,
	}
}

// Completed converts a terminal call into its immutable view.
func (c *ToolCall) Completed() Completed {
	resp := Response{}
	if c.Response != nil {
		resp = *c.Response
	}
	return Completed{
		Request:   c.Request,
		Status:    c.Status,
		Outcome:   c.Outcome,
		Response:  resp,
		StartTime: c.StartTime,
		EndTime:   c.EndTime,
	}
}
