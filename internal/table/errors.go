package table

import (
	"errors"
	"fmt"
)

// IntegrityError reports a materialization invariant violation, such as
// inserting a duplicate primary id.
//
// Integrity violations should never occur under correct event generation.
// They are fatal: the commit or rebase that triggered one is abandoned
// wholesale so the process never continues on a corrupted snapshot.
type IntegrityError struct {
	Table   Name
	ID      string
	Message string
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("integrity violation in %s (id=%s): %s", e.Table, e.ID, e.Message)
	}
	return fmt.Sprintf("integrity violation in %s: %s", e.Table, e.Message)
}

// IsIntegrity returns true if the error is an integrity violation.
// Uses errors.As to handle wrapped errors.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
