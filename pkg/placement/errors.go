package placement

import (
	"errors"
	"fmt"
)

// ErrNoAnchor is returned when the current map has an empty name table, so
// there is nothing to resolve hosts against or to number new buckets below.
var ErrNoAnchor = errors.New("placement: current map has no named items")

// UnresolvedHostError names a rack member missing from the current map.
type UnresolvedHostError struct {
	Host string
}

func (e *UnresolvedHostError) Error() string {
	return fmt.Sprintf("placement: host %q is not in the current map", e.Host)
}

// SynthesisError is an inconsistency between the racks and the current map.
type SynthesisError struct {
	Reason string
}

func (e *SynthesisError) Error() string {
	return "placement: " + e.Reason
}

func synthesisErrorf(format string, args ...any) error {
	return &SynthesisError{Reason: fmt.Sprintf(format, args...)}
}
