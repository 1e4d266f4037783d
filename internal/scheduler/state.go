// Package scheduler orchestrates tool call batches: policy consultation,
// confirmation round-trips, wave-based execution and lifecycle bookkeeping.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/toolwave/dispatch/internal/call"
)

// State owns the authoritative in-memory record of queued and active calls
// for one scheduler instance. Every status transition goes through it, so
// the orchestration logic stays free of bookkeeping and can be tested
// against a deterministic, inspectable container.
type State struct {
	mu          sync.Mutex
	schedulerID string
	queue       []*call.ToolCall
	active      map[string]*call.ToolCall
	completed   []call.Completed

	// onTerminal fires after a call is removed from the active map.
	onTerminal func(c call.Completed)

	// notify fires on every transition with the call's fresh snapshot.
	notify func(s call.Snapshot)
}

// NewState creates a state container for one scheduler instance. Both
// handlers may be nil.
func NewState(schedulerID string, onTerminal func(call.Completed), notify func(call.Snapshot)) *State {
	return &State{
		schedulerID: schedulerID,
		active:      make(map[string]*call.ToolCall),
		onTerminal:  onTerminal,
		notify:      notify,
	}
}

// SchedulerID returns the owning scheduler instance id.
func (st *State) SchedulerID() string { return st.schedulerID }

// Enqueue appends calls to the FIFO queue, preserving submitted order.
func (st *State) Enqueue(calls ...*call.ToolCall) {
	st.mu.Lock()
	st.queue = append(st.queue, calls...)
	snaps := make([]call.Snapshot, len(calls))
	for i, c := range calls {
		c.Status = call.StatusQueued
		snaps[i] = c.Snap()
	}
	st.mu.Unlock()
	for _, s := range snaps {
		st.publish(s)
	}
}

// Dequeue pops the next queued call and moves it into the active map.
// Returns nil when the queue is empty.
func (st *State) Dequeue() *call.ToolCall {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.queue) == 0 {
		return nil
	}
	c := st.queue[0]
	st.queue = st.queue[1:]
	st.active[c.Request.CallID] = c
	return c
}

// UpdateStatus performs an in-place, non-terminal transition. Transitions on
// unknown or already-finalized calls are rejected; terminal statuses must go
// through Finalize.
func (st *State) UpdateStatus(callID string, status call.Status) error {
	if status.Terminal() {
		return fmt.Errorf("terminal status %s requires Finalize", status)
	}
	st.mu.Lock()
	c, ok := st.active[callID]
	if !ok {
		st.mu.Unlock()
		return fmt.Errorf("call %s is not active", callID)
	}
	c.Status = status
	if status == call.StatusExecuting && c.StartTime.IsZero() {
		c.StartTime = time.Now()
	}
	snap := c.Snap()
	st.mu.Unlock()
	st.publish(snap)
	return nil
}

// SetOutcome records the reviewer's confirmation choice.
func (st *State) SetOutcome(callID string, outcome call.Outcome) {
	st.mu.Lock()
	if c, ok := st.active[callID]; ok {
		c.Outcome = outcome
	}
	st.mu.Unlock()
}

// SetPID attaches a process id to an executing shell call. Observable via
// the update stream before the call's terminal result arrives.
func (st *State) SetPID(callID string, pid int) {
	st.mu.Lock()
	c, ok := st.active[callID]
	if !ok {
		st.mu.Unlock()
		return
	}
	c.PID = pid
	snap := c.Snap()
	st.mu.Unlock()
	st.publish(snap)
}

// AppendLiveOutput accumulates streamed partial output on the call record.
func (st *State) AppendLiveOutput(callID string, chunk string) {
	st.mu.Lock()
	c, ok := st.active[callID]
	if !ok {
		st.mu.Unlock()
		return
	}
	c.LiveOutput += chunk
	snap := c.Snap()
	st.mu.Unlock()
	st.publish(snap)
}

// Finalize transitions a call to its terminal status, removes it from the
// active map and invokes the terminal handler. Finalizing twice is rejected.
func (st *State) Finalize(callID string, status call.Status, resp *call.Response) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	st.mu.Lock()
	c, ok := st.active[callID]
	if !ok {
		st.mu.Unlock()
		return fmt.Errorf("call %s is not active", callID)
	}
	delete(st.active, callID)
	c.Status = status
	c.Response = resp
	c.EndTime = time.Now()
	if !c.StartTime.IsZero() && resp != nil && resp.Duration == 0 {
		resp.Duration = c.EndTime.Sub(c.StartTime)
	}
	done := c.Completed()
	st.completed = append(st.completed, done)
	snap := c.Snap()
	st.mu.Unlock()

	st.publish(snap)
	if st.onTerminal != nil {
		st.onTerminal(done)
	}
	return nil
}

// CancelAllQueued empties the queue, moving every queued call into the
// active map so the caller can finalize it as Cancelled.
func (st *State) CancelAllQueued() []*call.ToolCall {
	st.mu.Lock()
	drained := st.queue
	st.queue = nil
	for _, c := range drained {
		st.active[c.Request.CallID] = c
	}
	st.mu.Unlock()
	return drained
}

// QueueLength returns the number of calls waiting to be scheduled.
func (st *State) QueueLength() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.queue)
}

// PeekQueue returns a snapshot of the next queued call without dequeuing.
func (st *State) PeekQueue() (call.Snapshot, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.queue) == 0 {
		return call.Snapshot{}, false
	}
	return st.queue[0].Snap(), true
}

// AllActiveCalls returns snapshots of every active call.
func (st *State) AllActiveCalls() []call.Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]call.Snapshot, 0, len(st.active))
	for _, c := range st.active {
		out = append(out, c.Snap())
	}
	return out
}

// FirstActiveCall returns an arbitrary active call, useful for single-call
// progress displays.
func (st *State) FirstActiveCall() (call.Snapshot, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, c := range st.active {
		return c.Snap(), true
	}
	return call.Snapshot{}, false
}

// IsActive reports whether any call is currently active.
func (st *State) IsActive() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.active) > 0
}

// CompletedBatch returns a copy of the completed-call accumulator.
func (st *State) CompletedBatch() []call.Completed {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]call.Completed(nil), st.completed...)
}

// TakeCompleted drains the completed-call accumulator, in completion order.
func (st *State) TakeCompleted() []call.Completed {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := st.completed
	st.completed = nil
	return out
}

func (st *State) publish(s call.Snapshot) {
	if st.notify != nil {
		st.notify(s)
	}
}
