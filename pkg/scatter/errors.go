package scatter

import (
	"fmt"
)

// NotFoundError is returned when an expected descriptor input is missing.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("scatter descriptor not found: %s", e.Path)
}

// FormatError is returned when a descriptor cannot be parsed as structured
// markup, even after the decrypt step.
type FormatError struct {
	Decrypted bool
	Err       error
}

func (e *FormatError) Error() string {
	msg := "cannot parse scatter descriptor"
	if e.Decrypted {
		msg += " (after decrypt)"
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// DecryptError is returned when the vendor container cannot be decrypted.
type DecryptError struct {
	Err error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("cannot decrypt scatter container: %v", e.Err)
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}

// IOError wraps a filesystem failure on a descriptor artifact.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
