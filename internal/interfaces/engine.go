package interfaces

import (
	"context"

	"github.com/ternarybob/praeco/internal/models"
)

// LogSink receives a captured output line from a running engine process.
type LogSink func(entry models.TaskLogEntry)

// SpawnCallback reports the subprocess pid once the engine process starts.
type SpawnCallback func(pid int)

// ExecuteRequest carries one task into an engine execution.
type ExecuteRequest struct {
	TaskID    string
	Payload   string
	Streaming bool          // Use the streaming output format and report events as they arrive
	OnLog     LogSink       // Optional; invoked from the executor's goroutines
	OnSpawn   SpawnCallback // Optional; invoked once after the process starts
}

// Engine executes a task payload and returns the result text.
// The context carries the hard task deadline; implementations enforce
// their own softer execution timeout beneath it.
type Engine interface {
	Execute(ctx context.Context, req ExecuteRequest) (string, error)
}
