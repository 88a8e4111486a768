// Package events defines the dotted, stable, forward-compatible event type
// strings emitted across the sandbox (spec §4.H) and the wake-policy lookup
// that classifies which ones the Conductor must react to versus which exist
// purely for UI telemetry. Consumers filter by prefix; new event types may
// be added without breaking existing prefix filters.
package events

import "github.com/sandboxrun/core/runtime/agent/eventstore"

// Type is a dotted event type string, e.g. "conductor.task.started".
type Type string

const (
	ConductorTaskStarted   Type = "conductor.task.started"
	ConductorTaskProgress  Type = "conductor.task.progress"
	ConductorTaskCompleted Type = "conductor.task.completed"
	ConductorTaskFailed    Type = "conductor.task.failed"

	ConductorWorkerCall   Type = "conductor.worker.call"
	ConductorWorkerResult Type = "conductor.worker.result"

	WorkerTaskStarted   Type = "worker.task.started"
	WorkerTaskProgress  Type = "worker.task.progress"
	WorkerTaskFinding   Type = "worker.task.finding"
	WorkerTaskLearning  Type = "worker.task.learning"
	WorkerTaskCompleted Type = "worker.task.completed"
	WorkerTaskFailed    Type = "worker.task.failed"

	DocumentUpdate Type = "document.update"

	ChatUserMsg      Type = "chat.user_msg"
	ChatAssistantMsg Type = "chat.assistant_msg"

	UserThemePreference Type = "user.theme_preference"
)

// wakePolicy maps each known event type to its wake classification. Types
// not present here default to DisplayOnly via WakePolicyFor.
var wakePolicy = map[Type]eventstore.WakePolicy{
	ConductorTaskStarted:   eventstore.Wake,
	ConductorTaskProgress:  eventstore.DisplayOnly,
	ConductorTaskCompleted: eventstore.Wake,
	ConductorTaskFailed:    eventstore.Wake,

	ConductorWorkerCall:   eventstore.DisplayOnly,
	ConductorWorkerResult: eventstore.Wake,

	WorkerTaskStarted:   eventstore.DisplayOnly,
	WorkerTaskProgress:  eventstore.DisplayOnly,
	WorkerTaskFinding:   eventstore.DisplayOnly,
	WorkerTaskLearning:  eventstore.DisplayOnly,
	WorkerTaskCompleted: eventstore.Wake,
	WorkerTaskFailed:    eventstore.Wake,

	DocumentUpdate: eventstore.DisplayOnly,

	ChatUserMsg:      eventstore.Wake,
	ChatAssistantMsg: eventstore.Wake,

	UserThemePreference: eventstore.DisplayOnly,
}

// WakePolicyFor returns the wake classification for t. Unknown event types
// are treated as DisplayOnly so new, not-yet-cataloged event types never
// spuriously wake the Conductor.
func WakePolicyFor(t Type) eventstore.WakePolicy {
	if wp, ok := wakePolicy[t]; ok {
		return wp
	}
	return eventstore.DisplayOnly
}

// IsWake reports whether t should be classified as Wake.
func IsWake(t Type) bool {
	return WakePolicyFor(t) == eventstore.Wake
}
