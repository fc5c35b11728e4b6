package event

import "fmt"

// EventError represents an error raised while handling an envelope.
type EventError struct {
	Event   *Envelope // The envelope that failed
	Handler string    // Handler that failed (if known)
	Message string    // Error message
	Err     error     // Underlying error
}

// Error implements error interface.
func (e *EventError) Error() string {
	id := ""
	if e.Event != nil {
		id = e.Event.ID()
	}
	if e.Err != nil {
		return fmt.Sprintf("event %s: %s: %v", id, e.Message, e.Err)
	}
	return fmt.Sprintf("event %s: %s", id, e.Message)
}

// Unwrap returns the underlying error.
func (e *EventError) Unwrap() error {
	return e.Err
}

// PanicError is returned when a handler panics.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}
