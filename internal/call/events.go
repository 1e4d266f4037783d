package call

// Event is the interface for all scheduler events. Consumers handle events
// via type switch.
type Event interface {
	isEvent()
}

// UpdateEvent is emitted on every status transition and carries the full
// current call, so a display layer can render progress without polling.
type UpdateEvent struct {
	SchedulerID string
	Call        Snapshot
}

func (UpdateEvent) isEvent() {}

// ApprovalRequestedEvent is emitted when a call enters AwaitingApproval and
// a reviewer decision is needed before it can proceed.
type ApprovalRequestedEvent struct {
	SchedulerID string
	Call        Snapshot
}

func (ApprovalRequestedEvent) isEvent() {}

// BatchDoneEvent is emitted when a Schedule invocation has driven every one
// of its requests to a terminal status.
type BatchDoneEvent struct {
	SchedulerID string
	Completed   []Completed
}

func (BatchDoneEvent) isEvent() {}
