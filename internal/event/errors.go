package event

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed event payload at commit time.
//
// A batch containing any invalid event is rejected whole - no prefix of
// the batch is ever appended or materialized.
type ValidationError struct {
	// Name is the event type name of the failing event.
	Name string

	// EventID identifies the failing event within the batch, if known.
	EventID string

	// Detail is a human-readable description of the schema violation.
	Detail string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("invalid event %s (id=%s): %s", e.Name, e.EventID, e.Detail)
	}
	return fmt.Sprintf("invalid event %s: %s", e.Name, e.Detail)
}

// IsValidation returns true if the error is a payload validation error.
// Uses errors.As to handle wrapped errors.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// UnknownNameError reports an event type name outside the closed taxonomy.
//
// Unknown names are a fatal schema error, not something to skip: during
// schema evolution a replica that silently dropped events it does not
// understand would materialize a divergent, lossy snapshot.
type UnknownNameError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownNameError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Name)
}

// IsUnknownName returns true if the error reports an unknown event name.
func IsUnknownName(err error) bool {
	var ue *UnknownNameError
	return errors.As(err, &ue)
}
