package command

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCommand = errors.New("command: empty argv")
	ErrTimeout      = errors.New("command: timed out")
)

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Name string
	Code int
	// Output is the tail of the combined stdout/stderr.
	Output string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %s: exit status %d", e.Name, e.Code)
}
