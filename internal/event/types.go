package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "command.started").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Outcome describes how a command run ended.
type Outcome string

const (
	// OutcomeSuccess means the top-level code completed without error.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailed means the top-level code raised an uncaught exception.
	OutcomeFailed Outcome = "failed"

	// OutcomeAborted means the instance was torn down before (or instead
	// of) finishing.
	OutcomeAborted Outcome = "aborted"
)

// -----------------------------------------------------------------------------
// Command Lifecycle Events
// -----------------------------------------------------------------------------

// CommandStartedEvent is emitted when an instance is created and its
// top-level code is scheduled.
type CommandStartedEvent struct {
	baseEvent
	CommandID string // Command id owning the instance
	Origin    string // "trusted" or "background"
	Replaced  bool   // Whether an older instance was aborted to make room
}

// NewCommandStartedEvent creates a CommandStartedEvent.
func NewCommandStartedEvent(commandID, origin string, replaced bool) CommandStartedEvent {
	return CommandStartedEvent{
		baseEvent: newBaseEvent("command.started"),
		CommandID: commandID,
		Origin:    origin,
		Replaced:  replaced,
	}
}

// CommandReadyEvent is emitted when an instance's top-level code has
// completed and the instance is accepting messages.
type CommandReadyEvent struct {
	baseEvent
	CommandID string
}

// NewCommandReadyEvent creates a CommandReadyEvent.
func NewCommandReadyEvent(commandID string) CommandReadyEvent {
	return CommandReadyEvent{
		baseEvent: newBaseEvent("command.ready"),
		CommandID: commandID,
	}
}

// CommandFinishedEvent reports the run outcome of an instance to its
// originator. Error carries a message string only.
type CommandFinishedEvent struct {
	baseEvent
	CommandID string
	Origin    string
	Outcome   Outcome
	Error     string // Empty unless Outcome is OutcomeFailed
}

// NewCommandFinishedEvent creates a CommandFinishedEvent.
func NewCommandFinishedEvent(commandID, origin string, outcome Outcome, errMsg string) CommandFinishedEvent {
	return CommandFinishedEvent{
		baseEvent: newBaseEvent("command.finished"),
		CommandID: commandID,
		Origin:    origin,
		Outcome:   outcome,
		Error:     errMsg,
	}
}

// CommandStoppedEvent is emitted after an instance has been fully torn
// down and removed from the registry.
type CommandStoppedEvent struct {
	baseEvent
	CommandID string
	Reason    string // Abort reason type: replaced, stopped, removed, disabled, error
	Detail    string // Optional display-safe detail
}

// NewCommandStoppedEvent creates a CommandStoppedEvent.
func NewCommandStoppedEvent(commandID, reason, detail string) CommandStoppedEvent {
	return CommandStoppedEvent{
		baseEvent: newBaseEvent("command.stopped"),
		CommandID: commandID,
		Reason:    reason,
		Detail:    detail,
	}
}

// -----------------------------------------------------------------------------
// Script Store Events
// -----------------------------------------------------------------------------

// ScriptChangedEvent is emitted by the store watcher when a script's
// source or manifest entry changes on disk.
type ScriptChangedEvent struct {
	baseEvent
	CommandID string
	Change    string // "updated", "removed", "disabled"
}

// NewScriptChangedEvent creates a ScriptChangedEvent.
func NewScriptChangedEvent(commandID, change string) ScriptChangedEvent {
	return ScriptChangedEvent{
		baseEvent: newBaseEvent("script.changed"),
		CommandID: commandID,
		Change:    change,
	}
}

// -----------------------------------------------------------------------------
// UI Events
// -----------------------------------------------------------------------------

// UINoticeEvent is emitted by the bridge ui namespace on behalf of
// sandboxed code. The monitor renders notices in its event feed.
type UINoticeEvent struct {
	baseEvent
	CommandID string
	Text      string
}

// NewUINoticeEvent creates a UINoticeEvent.
func NewUINoticeEvent(commandID, text string) UINoticeEvent {
	return UINoticeEvent{
		baseEvent: newBaseEvent("ui.notice"),
		CommandID: commandID,
		Text:      text,
	}
}
