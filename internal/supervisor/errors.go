package supervisor

import (
	"errors"
	"fmt"

	"github.com/starford/hexobridge/internal/models"
)

var (
	// ErrNoProcess means the role has never had a process to stop.
	ErrNoProcess = errors.New("supervisor: no process to stop")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("supervisor: closed")
)

// SignalError reports that a stop signal could not be delivered. The process
// may or may not still be running.
type SignalError struct {
	Role models.Role
	PID  int
	Err  error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("supervisor: signal %s process %d: %v", e.Role, e.PID, e.Err)
}

func (e *SignalError) Unwrap() error {
	return e.Err
}
