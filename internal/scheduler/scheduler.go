package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/toolwave/dispatch/internal/call"
	"github.com/toolwave/dispatch/internal/executor"
	"github.com/toolwave/dispatch/internal/policy"
	"github.com/toolwave/dispatch/internal/policy/policyconf"
	"github.com/toolwave/dispatch/internal/tool"
)

// ConfirmationRequest is what a reviewer sees for an ASK_USER decision.
type ConfirmationRequest struct {
	SchedulerID string
	Call        call.Snapshot

	// Description is a short human-readable summary of what is being asked.
	Description string
}

// Confirmer resolves ASK_USER decisions. It is the sole interface to a
// human-in-the-loop reviewer; the core does not render UI.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmationRequest) (call.Outcome, error)
}

// ArgEditor lets a reviewer modify a pending call's arguments before
// approval, e.g. by opening them in an external editor.
type ArgEditor interface {
	EditArgs(ctx context.Context, toolName string, args map[string]any) (map[string]any, error)
}

// Options configures one Scheduler instance.
type Options struct {
	// SchedulerID namespaces this instance's queue and active map. Empty
	// means call.RootSchedulerID.
	SchedulerID string

	// Confirmer handles ASK_USER decisions. When nil, ASK_USER calls are
	// finalized as policy-denied: approval was required and nobody could
	// grant it.
	Confirmer Confirmer

	// Editor applies the modify outcome. Optional.
	Editor ArgEditor

	// Events receives an event for every state transition. Optional; sends
	// are skipped when nil.
	Events chan<- call.Event

	// OnBatchComplete is invoked with the terminal calls of each Schedule
	// invocation, in completion order. Optional.
	OnBatchComplete func([]call.Completed)

	// WorkspacePolicyDir, when set, persists allow-always grants there.
	WorkspacePolicyDir string

	Logger *slog.Logger
}

// Scheduler accepts batches of tool call requests and drives every one of
// them to a terminal state: policy check, confirmation round-trip, wave
// execution, finalization.
type Scheduler struct {
	id       string
	registry *tool.Registry
	engine   *policy.Engine
	exec     *executor.Executor
	state    *State

	confirmer       Confirmer
	editor          ArgEditor
	events          chan<- call.Event
	onBatchComplete func([]call.Completed)
	persistDir      string
	log             *slog.Logger

	// batchMu serializes Schedule invocations: the queue and active map are
	// owned by exactly one running batch at a time.
	batchMu sync.Mutex

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// New creates a Scheduler. registry, engine and exec are required.
func New(registry *tool.Registry, engine *policy.Engine, exec *executor.Executor, opts Options) *Scheduler {
	if registry == nil {
		panic("registry is required")
	}
	if engine == nil {
		panic("engine is required")
	}
	if exec == nil {
		panic("exec is required")
	}
	id := opts.SchedulerID
	if id == "" {
		id = call.RootSchedulerID
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Scheduler{
		id:              id,
		registry:        registry,
		engine:          engine,
		exec:            exec,
		confirmer:       opts.Confirmer,
		editor:          opts.Editor,
		events:          opts.Events,
		onBatchComplete: opts.OnBatchComplete,
		persistDir:      opts.WorkspacePolicyDir,
		log:             log,
	}
	s.state = NewState(id, nil, func(snap call.Snapshot) {
		s.emit(call.UpdateEvent{SchedulerID: id, Call: snap})
	})
	return s
}

// ID returns the scheduler instance id.
func (s *Scheduler) ID() string { return s.id }

// State exposes the instance's state container for read-only inspection.
func (s *Scheduler) State() *State { return s.state }

// CancelAll cancels the running batch: queued calls are finalized as
// Cancelled without having started, and in-flight invocations are signalled
// to abort. Safe to call from any goroutine; a no-op with no batch running.
func (s *Scheduler) CancelAll() {
	s.cancelMu.Lock()
	cancel := s.cancel
	s.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Schedule enqueues the requests, drives each to a terminal status and
// returns the full set of completed calls, ordered by completion. The
// context is the batch's cancellation token. Every submitted request
// produces exactly one terminal record, including under cancellation.
func (s *Scheduler) Schedule(ctx context.Context, requests []call.Request) ([]call.Completed, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
	defer func() {
		s.cancelMu.Lock()
		s.cancel = nil
		s.cancelMu.Unlock()
	}()

	s.enqueue(requests)

	for s.state.QueueLength() > 0 {
		if ctx.Err() != nil {
			break
		}
		wave := s.gatherWave(ctx)
		if len(wave) == 0 {
			continue
		}
		s.executeWave(ctx, wave)
	}

	// Cancellation never leaves a call unresolved: anything still queued is
	// finalized Cancelled without having started.
	for _, c := range s.state.CancelAllQueued() {
		s.finalizeCancelled(c, "operation cancelled before start")
	}

	completed := s.state.TakeCompleted()
	s.emit(call.BatchDoneEvent{SchedulerID: s.id, Completed: completed})
	if s.onBatchComplete != nil {
		s.onBatchComplete(completed)
	}
	return completed, nil
}

// enqueue wraps requests into lifecycle records, resolving each tool and
// invocation. Resolution failures still enqueue so the call is finalized
// with a terminal ValidationFailed record in order.
func (s *Scheduler) enqueue(requests []call.Request) {
	calls := make([]*call.ToolCall, 0, len(requests))
	for _, req := range requests {
		if req.CallID == "" {
			req.CallID = uuid.NewString()
		}
		if req.SchedulerID == "" {
			req.SchedulerID = s.id
		}
		c := &call.ToolCall{Request: req}

		t, err := s.registry.Lookup(req.Name)
		if err == nil {
			c.Descriptor = t.Descriptor()
			var inv tool.Invocation
			inv, err = t.NewInvocation(req.Args)
			if err == nil {
				c.Invocation = inv
			}
		}
		if err != nil {
			// Marked unresolved; finalized right after enqueueing so the
			// terminal record is still produced in submission order.
			c.Descriptor = tool.Descriptor{Name: req.Name}
			c.Invocation = nil
		}
		calls = append(calls, c)
	}
	s.state.Enqueue(calls...)
}

// gatherWave dequeues the next maximal run of calls that may execute
// together: either one mutating call, or consecutive approved read-only
// calls. Calls denied by policy are finalized here and never occupy a wave
// slot. An ASK_USER decision blocks the pending call and everything after
// it, but never an already-gathered wave.
func (s *Scheduler) gatherWave(ctx context.Context) []*call.ToolCall {
	first := s.state.Dequeue()
	if first == nil {
		return nil
	}
	if !s.admit(ctx, first) {
		return nil
	}
	if !first.ReadOnly() {
		return []*call.ToolCall{first}
	}

	wave := []*call.ToolCall{first}
	for {
		next, ok := s.state.PeekQueue()
		if !ok {
			break
		}
		verdict := s.engine.Check(next.Request.Name, next.Request.Args)
		if verdict.Decision == policy.Deny {
			// Short-circuits before wave placement. admit re-checks and
			// finalizes, covering unresolved invocations too.
			c := s.state.Dequeue()
			_ = s.admit(ctx, c)
			continue
		}
		if verdict.Decision != policy.Allow || !next.Descriptor.Kind.IsReadOnly() {
			break
		}
		c := s.state.Dequeue()
		if !s.admit(ctx, c) {
			continue
		}
		wave = append(wave, c)
	}
	return wave
}

// admit resolves the policy decision for one dequeued call, driving the
// confirmation round-trip when required. Returns true when the call is
// approved for execution; false means it was finalized here.
func (s *Scheduler) admit(ctx context.Context, c *call.ToolCall) bool {
	if c.Invocation == nil {
		s.finalize(c, call.StatusError, &call.Response{
			ErrorKind:    call.ErrValidationFailed,
			ErrorMessage: fmt.Sprintf("tool %q could not be resolved", c.Request.Name),
			Display:      "Invalid tool request",
		})
		return false
	}

	for {
		if ctx.Err() != nil {
			s.finalizeCancelled(c, "operation cancelled")
			return false
		}

		verdict := s.engine.Check(c.Request.Name, c.EffectiveArgs())
		switch verdict.Decision {
		case policy.Deny:
			s.finalizeDenied(c, verdict.Source)
			return false

		case policy.Allow:
			if err := s.state.UpdateStatus(c.Request.CallID, call.StatusApproved); err != nil {
				return false
			}
			return true

		case policy.AskUser:
			outcome, ok := s.confirm(ctx, c)
			if !ok {
				return false
			}
			switch outcome {
			case call.OutcomeDeny:
				s.state.SetOutcome(c.Request.CallID, outcome)
				s.finalizeCancelled(c, "user denied "+c.Descriptor.Label())
				return false

			case call.OutcomeAllowAlways:
				s.state.SetOutcome(c.Request.CallID, outcome)
				s.grantAlwaysAllow(c.Request.Name)
				s.approve(c)
				return true

			case call.OutcomeModify:
				// Re-checked from the top: modified args may now match an
				// allow or deny rule, and the reviewer confirms them again
				// otherwise.
				s.applyModification(ctx, c)
				continue

			default: // OutcomeAllowOnce
				s.state.SetOutcome(c.Request.CallID, outcome)
				s.approve(c)
				return true
			}
		}
	}
}

func (s *Scheduler) approve(c *call.ToolCall) {
	_ = s.state.UpdateStatus(c.Request.CallID, call.StatusApproved)
}

// confirm publishes the pending call and blocks on the reviewer's decision.
// The second return value is false when the call was finalized here.
func (s *Scheduler) confirm(ctx context.Context, c *call.ToolCall) (call.Outcome, bool) {
	if s.confirmer == nil {
		s.finalizeDenied(c, "no reviewer available for required approval")
		return "", false
	}

	if err := s.state.UpdateStatus(c.Request.CallID, call.StatusAwaitingApproval); err != nil {
		return "", false
	}
	snap, _ := s.activeSnapshot(c.Request.CallID)
	s.emit(call.ApprovalRequestedEvent{SchedulerID: s.id, Call: snap})

	outcome, err := s.confirmer.Confirm(ctx, ConfirmationRequest{
		SchedulerID: s.id,
		Call:        snap,
		Description: fmt.Sprintf("%s wants to run with args %s",
			c.Descriptor.Label(), policy.CanonicalArgs(c.EffectiveArgs())),
	})
	if err != nil {
		s.finalizeCancelled(c, "confirmation aborted: "+err.Error())
		return "", false
	}
	return outcome, true
}

// applyModification runs the editor over the call's arguments and
// re-validates the result. Any failure leaves the original call and its
// queue position untouched.
func (s *Scheduler) applyModification(ctx context.Context, c *call.ToolCall) {
	if s.editor == nil {
		s.log.Warn("modify outcome received but no editor configured",
			"call_id", c.Request.CallID)
		return
	}
	newArgs, err := s.editor.EditArgs(ctx, c.Request.Name, c.EffectiveArgs())
	if err != nil {
		s.log.Warn("argument modification failed, keeping original call",
			"call_id", c.Request.CallID, "error", err)
		return
	}

	t, err := s.registry.Lookup(c.Request.Name)
	if err != nil {
		return
	}
	inv, err := t.NewInvocation(newArgs)
	if err != nil {
		s.log.Warn("modified arguments failed validation, keeping original call",
			"call_id", c.Request.CallID, "error", err)
		return
	}
	c.EditedArgs = newArgs
	c.Invocation = inv
	s.state.SetOutcome(c.Request.CallID, call.OutcomeModify)
}

// grantAlwaysAllow records the session grant and optionally persists it.
// A persistence failure is reported but never rolls back the in-memory
// rule: the session-level grant still applies.
func (s *Scheduler) grantAlwaysAllow(toolName string) {
	s.engine.AddDynamicRule(policyconf.AlwaysAllowRule(toolName))
	if s.persistDir == "" {
		return
	}
	if err := policyconf.PersistAlwaysAllow(s.persistDir, toolName); err != nil {
		s.log.Warn("failed to persist allow-always rule; session grant still applies",
			"tool", toolName, "error", err)
	}
}

// executeWave runs the wave's calls concurrently and joins them all before
// returning. Within a wave start order is unspecified; a one-call wave runs
// inline.
func (s *Scheduler) executeWave(ctx context.Context, wave []*call.ToolCall) {
	if len(wave) == 1 {
		s.executeOne(ctx, wave[0])
		return
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range wave {
		g.Go(func() error {
			s.executeOne(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
}

// executeOne drives one approved call through the executor. Failures are
// isolated: a bad invocation never aborts sibling calls or later waves.
func (s *Scheduler) executeOne(ctx context.Context, c *call.ToolCall) {
	callID := c.Request.CallID
	if err := s.state.UpdateStatus(callID, call.StatusExecuting); err != nil {
		return
	}

	resp := s.exec.Execute(ctx, c, executor.Hooks{
		LiveOutput: func(chunk string) { s.state.AppendLiveOutput(callID, chunk) },
		PID:        func(pid int) { s.state.SetPID(callID, pid) },
	})

	status := call.StatusSuccess
	switch resp.ErrorKind {
	case "":
	case call.ErrCancelled:
		status = call.StatusCancelled
	default:
		status = call.StatusError
	}
	s.finalize(c, status, resp)
}

func (s *Scheduler) finalizeDenied(c *call.ToolCall, source string) {
	s.finalize(c, call.StatusError, &call.Response{
		ErrorKind:    call.ErrPolicyDenied,
		ErrorMessage: fmt.Sprintf("%s blocked by policy (%s)", c.Descriptor.Label(), source),
		Display:      "Blocked by policy",
	})
}

func (s *Scheduler) finalizeCancelled(c *call.ToolCall, msg string) {
	s.finalize(c, call.StatusCancelled, &call.Response{
		ErrorKind:    call.ErrCancelled,
		ErrorMessage: msg,
		Display:      "Cancelled",
	})
}

func (s *Scheduler) finalize(c *call.ToolCall, status call.Status, resp *call.Response) {
	if err := s.state.Finalize(c.Request.CallID, status, resp); err != nil {
		s.log.Error("failed to finalize call", "call_id", c.Request.CallID, "error", err)
	}
}

func (s *Scheduler) activeSnapshot(callID string) (call.Snapshot, bool) {
	for _, snap := range s.state.AllActiveCalls() {
		if snap.Request.CallID == callID {
			return snap, true
		}
	}
	return call.Snapshot{}, false
}

func (s *Scheduler) emit(ev call.Event) {
	if s.events != nil {
		s.events <- ev
	}
}
