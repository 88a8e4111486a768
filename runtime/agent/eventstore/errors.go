package eventstore

import "errors"

// StorageError wraps a backing-store failure encountered during Append. It is
// fatal for the caller's current mutation attempt; the caller must retry.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	if e.Cause == nil {
		return "eventstore: " + e.Op
	}
	return "eventstore: " + e.Op + ": " + e.Cause.Error()
}

func (e *StorageError) Unwrap() error { return e.Cause }

// ErrEventTypeRequired/ErrActorIDRequired guard Append against malformed input.
var (
	ErrEventTypeRequired = errors.New("eventstore: event_type is required")
	ErrActorIDRequired   = errors.New("eventstore: actor_id is required")
)
