package interfaces

import "github.com/ternarybob/praeco/internal/models"

// EventService is a publish/subscribe channel for live task log entries,
// keyed by task id. An external UI or SSE layer consumes the stream; the
// task store is the producer.
type EventService interface {
	// PublishLog delivers an entry to all subscribers of the task.
	PublishLog(taskID string, entry models.TaskLogEntry)

	// SubscribeLogs returns a channel of log entries for the task and an
	// unsubscribe function. The channel is closed on unsubscribe or service
	// shutdown. Slow subscribers drop entries rather than block producers.
	SubscribeLogs(taskID string) (<-chan models.TaskLogEntry, func())

	// Close shuts the service down and closes all subscriber channels.
	Close() error
}
