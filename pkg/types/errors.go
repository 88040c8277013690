package types

import "fmt"

// DeserializationError reports a message that could not be decoded. It is
// fatal to the batch being applied.
type DeserializationError struct {
	Err error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("failed to decode message: %s", e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}
