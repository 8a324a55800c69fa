package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrBootFailed          = errors.New("sandbox failed to initialize")
	ErrCompilationFailed   = errors.New("compilation failed")
	ErrProcessFailed       = errors.New("process execution failed")
	ErrInstallFailed       = errors.New("package installation failed")
)

// RunError wraps a sentinel with the failing operation and the message
// shown to the user.
type RunError struct {
	Op  string // The operation that failed
	Msg string
	Err error
}

func (e *RunError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Operation returns the failing operation recorded in err, or "unknown".
func Operation(err error) string {
	var runErr *RunError
	if errors.As(err, &runErr) && runErr.Op != "" {
		return runErr.Op
	}
	return "unknown"
}
