package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/praeco/internal/common"
	"github.com/ternarybob/praeco/internal/models"
)

func TestService_PublishAndSubscribe(t *testing.T) {
	service := NewService(common.GetLogger())
	defer service.Close()

	ch, unsubscribe := service.SubscribeLogs("task_a")
	defer unsubscribe()

	entry := models.TaskLogEntry{
		Timestamp: time.Now(),
		Stream:    models.LogStreamSystem,
		Content:   "task assigned to worker 0",
	}
	service.PublishLog("task_a", entry)

	select {
	case got := <-ch:
		assert.Equal(t, entry.Content, got.Content)
	case <-time.After(time.Second):
		t.Fatal("entry never delivered")
	}
}

func TestService_SubscribersAreScopedByTask(t *testing.T) {
	service := NewService(common.GetLogger())
	defer service.Close()

	chA, unsubA := service.SubscribeLogs("task_a")
	defer unsubA()
	chB, unsubB := service.SubscribeLogs("task_b")
	defer unsubB()

	service.PublishLog("task_a", models.TaskLogEntry{Content: "for a only"})

	select {
	case got := <-chA:
		assert.Equal(t, "for a only", got.Content)
	case <-time.After(time.Second):
		t.Fatal("entry never delivered to task_a subscriber")
	}

	select {
	case got := <-chB:
		t.Fatalf("task_b subscriber received foreign entry: %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestService_PublishWithoutSubscribersIsSafe(t *testing.T) {
	service := NewService(common.GetLogger())
	defer service.Close()

	assert.NotPanics(t, func() {
		service.PublishLog("task_nobody", models.TaskLogEntry{Content: "dropped"})
	})
}

func TestService_UnsubscribeClosesChannel(t *testing.T) {
	service := NewService(common.GetLogger())
	defer service.Close()

	ch, unsubscribe := service.SubscribeLogs("task_a")
	unsubscribe()

	_, open := <-ch
	assert.False(t, open, "unsubscribe must close the channel")

	// Publishing after unsubscribe must not panic.
	assert.NotPanics(t, func() {
		service.PublishLog("task_a", models.TaskLogEntry{Content: "late"})
	})
}

func TestService_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	service := NewService(common.GetLogger())
	defer service.Close()

	_, unsubscribe := service.SubscribeLogs("task_a")
	defer unsubscribe()

	// Overfill the buffer; publishes must return promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			service.PublishLog("task_a", models.TaskLogEntry{Content: "burst"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestService_Close(t *testing.T) {
	service := NewService(common.GetLogger())

	ch, _ := service.SubscribeLogs("task_a")
	require.NoError(t, service.Close())

	_, open := <-ch
	assert.False(t, open, "close must close subscriber channels")

	// Idempotent close and post-close subscribe both degrade gracefully.
	require.NoError(t, service.Close())
	late, _ := service.SubscribeLogs("task_b")
	_, open = <-late
	assert.False(t, open)
}
