package covenant

import (
	"errors"
	"fmt"
)

// ErrAssertion is the error every failed covenant assertion unwraps to.
var ErrAssertion = errors.New("covenant assertion failed")

// AssertionError is returned when a transition's preconditions, signatures
// or requested outputs don't satisfy the covenant. It is the in-process
// equivalent of a script evaluation failure, so retrying the same spend
// can never succeed.
type AssertionError struct {
	// Transition is the transition that was being evaluated.
	Transition TransitionID

	// Reason describes the failed assertion.
	Reason string
}

// Error returns the assertion failure as a string.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrAssertion, e.Transition,
		e.Reason)
}

// Unwrap lets errors.Is match ErrAssertion.
func (e *AssertionError) Unwrap() error {
	return ErrAssertion
}

// assertionf builds an AssertionError for a transition.
func assertionf(id TransitionID, format string,
	args ...interface{}) *AssertionError {

	return &AssertionError{
		Transition: id,
		Reason:     fmt.Sprintf(format, args...),
	}
}
