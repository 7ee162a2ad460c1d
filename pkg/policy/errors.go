package policy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPolicyWarning marks a non-fatal policy problem, typically a partition
// the policy expects is absent from a (lawful) descriptor variant.
var ErrPolicyWarning = errors.New("warn")

func Warning(reason ...any) error {
	var parts []string
	for _, r := range reason {
		parts = append(parts, fmt.Sprintf("%v", r))
	}
	msg := strings.Join(parts, " ")
	return fmt.Errorf("%w: %s", ErrPolicyWarning, msg)
}

func IsWarning(err error) bool {
	return errors.Is(err, ErrPolicyWarning)
}

// onlyWarnings reports whether err and everything joined into it is a
// policy warning.
func onlyWarnings(err error) bool {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if !onlyWarnings(e) {
				return false
			}
		}
		return true
	}
	return IsWarning(err)
}
