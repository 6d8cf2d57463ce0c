package crush

import "fmt"

// DecodeError reports a malformed map blob and where decoding stopped.
type DecodeError struct {
	Offset int
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("crush: decode %s at offset %d: %v", e.Field, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError reports a map that cannot be represented on the wire.
type EncodeError struct {
	Field string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("crush: encode %s: %v", e.Field, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
