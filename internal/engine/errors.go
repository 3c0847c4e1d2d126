package engine

import (
	"errors"
	"fmt"
)

// ErrExecTimeout is returned when the executor's local soft timeout fires
// before the subprocess exits. The task-level timer remains the hard
// backstop; this error only reports that the executor gave up first.
var ErrExecTimeout = errors.New("engine process exceeded execution timeout")

// SpawnError indicates the engine binary could not be launched.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn engine binary %q: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProcessExitError indicates the subprocess exited with a non-zero code.
// Stdout and Stderr are truncated to the configured cap.
type ProcessExitError struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ProcessExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("engine process exited with code %d: %s", e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("engine process exited with code %d", e.ExitCode)
}

// EngineError indicates the engine reported a logical failure in its
// result envelope despite a clean process exit.
type EngineError struct {
	Message string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine reported error: %s", e.Message)
}

// ParseError indicates the envelope or the final payload could not be
// decoded.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse engine output: %s", e.Reason)
}
