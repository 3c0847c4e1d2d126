package events

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praeco/internal/interfaces"
	"github.com/ternarybob/praeco/internal/models"
)

// subscriberBuffer bounds each subscriber channel. Entries beyond the
// buffer are dropped for that subscriber rather than blocking producers.
const subscriberBuffer = 256

type subscriber struct {
	id int
	ch chan models.TaskLogEntry
}

// Service implements the task log pub/sub channel. Subscriptions are keyed
// by task id; an external UI/SSE layer consumes entries as they arrive.
type Service struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	nextID      int
	closed      bool
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[string][]*subscriber),
		logger:      logger,
	}
}

// PublishLog delivers an entry to all subscribers of the task. Delivery is
// non-blocking; a full subscriber channel drops the entry.
func (s *Service) PublishLog(taskID string, entry models.TaskLogEntry) {
	s.mu.RLock()
	subs := s.subscribers[taskID]
	s.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- entry:
		default:
			s.logger.Debug().
				Str("task_id", taskID).
				Msg("Dropping log entry for slow subscriber")
		}
	}
}

// SubscribeLogs registers a subscriber for one task's log stream.
func (s *Service) SubscribeLogs(taskID string) (<-chan models.TaskLogEntry, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscriber{
		id: s.nextID,
		ch: make(chan models.TaskLogEntry, subscriberBuffer),
	}
	s.nextID++

	if s.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	s.subscribers[taskID] = append(s.subscribers[taskID], sub)

	s.logger.Debug().
		Str("task_id", taskID).
		Int("subscriber_count", len(s.subscribers[taskID])).
		Msg("Log subscriber registered")

	unsubscribe := func() { s.removeSubscriber(taskID, sub.id) }
	return sub.ch, unsubscribe
}

func (s *Service) removeSubscriber(taskID string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[taskID]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}
		s.subscribers[taskID] = append(subs[:i], subs[i+1:]...)
		if len(s.subscribers[taskID]) == 0 {
			delete(s.subscribers, taskID)
		}
		close(sub.ch)
		return
	}
}

// Close shuts down the event service and closes all subscriber channels.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, subs := range s.subscribers {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	s.subscribers = make(map[string][]*subscriber)
	s.logger.Info().Msg("Event service closed")

	return nil
}
