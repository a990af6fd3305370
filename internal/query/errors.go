package query

import (
	"errors"
	"fmt"
)

// DescriptorError reports a malformed query descriptor.
// Raised at subscription time; a bad descriptor is never allowed to
// masquerade as an empty result set.
type DescriptorError struct {
	Query  string
	Detail string
}

// Error implements the error interface.
func (e *DescriptorError) Error() string {
	return fmt.Sprintf("invalid query descriptor %s: %s", e.Query, e.Detail)
}

// IsDescriptor returns true if the error is a descriptor validation error.
// Uses errors.As to handle wrapped errors.
func IsDescriptor(err error) bool {
	var de *DescriptorError
	return errors.As(err, &de)
}
