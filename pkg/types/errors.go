package types

import (
	"errors"
	"fmt"
)

// ErrCannotConnect is matched by every SimulatorError; callers that only need
// to know whether a simulator is reachable test for it with errors.Is.
var ErrCannotConnect = errors.New("cannot connect")

// SimulatorError wraps errors from the simulator with additional context.
type SimulatorError struct {
	Endpoint    Endpoint
	Err         error
	Message     string
	Recoverable bool
}

func (e *SimulatorError) Error() string {
	return fmt.Sprintf("simulator %s: %s: %v", e.Endpoint, e.Message, e.Err)
}

func (e *SimulatorError) Unwrap() error {
	return e.Err
}

// Is reports ErrCannotConnect for any SimulatorError.
func (e *SimulatorError) Is(target error) bool {
	return target == ErrCannotConnect
}
