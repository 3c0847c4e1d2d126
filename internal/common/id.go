package common

import (
	"github.com/google/uuid"
)

// NewTaskID generates a unique task ID with the "task_" prefix
// Format: task_<uuid>
func NewTaskID() string {
	return "task_" + uuid.New().String()
}

// NewSessionID generates a unique browser session ID with the "bs_" prefix
func NewSessionID() string {
	return "bs_" + uuid.New().String()
}
