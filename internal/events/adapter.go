package events

import "time"

// Event type constants for adapter events.
const (
	TypeAdapterFailed      = "adapter_failed"
	TypeAdapterRecovered   = "adapter_recovered"
	TypeAdapterMessage     = "adapter_message"
	TypeInvocationStarted  = "invocation_started"
	TypeInvocationFinished = "invocation_finished"
	TypeConfigWarning      = "config_warning"
	TypeConfigReloaded     = "config_reloaded"
)

// AdapterFailedEvent is emitted when an invocation fails for a reason the
// user should see. Cancellation never produces it.
type AdapterFailedEvent struct {
	BaseEvent
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	Files   []string `json:"files,omitempty"`
}

// NewAdapterFailedEvent creates a new adapter failed event.
func NewAdapterFailedEvent(adapter, kind, message string, files []string) AdapterFailedEvent {
	return AdapterFailedEvent{
		BaseEvent: NewBaseEvent(TypeAdapterFailed, adapter),
		Kind:      kind,
		Message:   message,
		Files:     files,
	}
}

// AdapterRecoveredEvent is emitted on the first success after a failure.
type AdapterRecoveredEvent struct {
	BaseEvent
	FailingFor time.Duration `json:"failing_for"`
}

// NewAdapterRecoveredEvent creates a new adapter recovered event.
func NewAdapterRecoveredEvent(adapter string, failingFor time.Duration) AdapterRecoveredEvent {
	return AdapterRecoveredEvent{
		BaseEvent:  NewBaseEvent(TypeAdapterRecovered, adapter),
		FailingFor: failingFor,
	}
}

// AdapterMessageEvent carries a message an adapter attached to its payload.
type AdapterMessageEvent struct {
	BaseEvent
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// NewAdapterMessageEvent creates a new adapter message event.
func NewAdapterMessageEvent(adapter, severity, message string) AdapterMessageEvent {
	return AdapterMessageEvent{
		BaseEvent: NewBaseEvent(TypeAdapterMessage, adapter),
		Severity:  severity,
		Message:   message,
	}
}

// InvocationStartedEvent is emitted when an adapter process is launched.
type InvocationStartedEvent struct {
	BaseEvent
	InvocationID string   `json:"invocation_id"`
	Command      string   `json:"command"`
	Targets      []string `json:"targets"`
}

// NewInvocationStartedEvent creates a new invocation started event.
func NewInvocationStartedEvent(adapter, invocationID, command string, targets []string) InvocationStartedEvent {
	return InvocationStartedEvent{
		BaseEvent:    NewBaseEvent(TypeInvocationStarted, adapter),
		InvocationID: invocationID,
		Command:      command,
		Targets:      targets,
	}
}

// InvocationFinishedEvent is emitted exactly once per invocation.
type InvocationFinishedEvent struct {
	BaseEvent
	InvocationID string        `json:"invocation_id"`
	State        string        `json:"state"`
	Failure      string        `json:"failure,omitempty"`
	Duration     time.Duration `json:"duration"`
	Diagnostics  int           `json:"diagnostics"`
}

// NewInvocationFinishedEvent creates a new invocation finished event.
func NewInvocationFinishedEvent(adapter, invocationID, state, failure string, duration time.Duration, diagnostics int) InvocationFinishedEvent {
	return InvocationFinishedEvent{
		BaseEvent:    NewBaseEvent(TypeInvocationFinished, adapter),
		InvocationID: invocationID,
		State:        state,
		Failure:      failure,
		Duration:     duration,
		Diagnostics:  diagnostics,
	}
}

// ConfigWarningEvent reports adapter configuration problems that did not
// prevent the server from starting.
type ConfigWarningEvent struct {
	BaseEvent
	Message string `json:"message"`
}

// NewConfigWarningEvent creates a new config warning event.
func NewConfigWarningEvent(adapter, message string) ConfigWarningEvent {
	return ConfigWarningEvent{
		BaseEvent: NewBaseEvent(TypeConfigWarning, adapter),
		Message:   message,
	}
}

// ConfigReloadedEvent is emitted after the adapter set has been replaced.
type ConfigReloadedEvent struct {
	BaseEvent
	Adapters []string `json:"adapters"`
	Removed  []string `json:"removed,omitempty"`
}

// NewConfigReloadedEvent creates a new config reloaded event.
func NewConfigReloadedEvent(adapters, removed []string) ConfigReloadedEvent {
	return ConfigReloadedEvent{
		BaseEvent: NewBaseEvent(TypeConfigReloaded, ""),
		Adapters:  adapters,
		Removed:   removed,
	}
}
