package queue

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praeco/internal/common"
)

// WatchdogReport is the outcome of one scan, retained for status reporting.
type WatchdogReport struct {
	ScanTime       time.Time `json:"scan_time"`
	StalledSlots   []int     `json:"stalled_slots,omitempty"`
	BacklogLength  int       `json:"backlog_length"`
	BacklogWarning bool      `json:"backlog_warning"`
}

// Watchdog periodically scans the pool for stalled workers and backlog
// growth. It is diagnostic only: the per-task timeout timer is the sole
// enforcement mechanism, the watchdog never cancels anything.
type Watchdog struct {
	pool             *Pool
	logger           arbor.ILogger
	interval         time.Duration
	stallAfter       time.Duration
	backlogThreshold int

	mu      sync.Mutex
	last    WatchdogReport
	stopped chan struct{}
	once    sync.Once
}

// NewWatchdog creates a watchdog for the pool. The stall threshold is the
// configured fraction of the task timeout.
func NewWatchdog(config common.QueueConfig, pool *Pool, logger arbor.ILogger) *Watchdog {
	taskTimeout := common.Duration(config.TaskTimeout, 5*time.Minute)
	fraction := config.StallFraction
	if fraction <= 0 || fraction > 1 {
		fraction = 0.8
	}

	return &Watchdog{
		pool:             pool,
		logger:           logger,
		interval:         common.Duration(config.WatchdogInterval, 30*time.Second),
		stallAfter:       time.Duration(float64(taskTimeout) * fraction),
		backlogThreshold: config.BacklogThreshold,
		stopped:          make(chan struct{}),
	}
}

// Start launches the scan loop.
func (w *Watchdog) Start() {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-w.stopped:
				return
			case <-ticker.C:
				w.scan()
			}
		}
	}()

	w.logger.Debug().
		Dur("interval", w.interval).
		Dur("stall_after", w.stallAfter).
		Int("backlog_threshold", w.backlogThreshold).
		Msg("Deadlock watchdog started")
}

// Stop halts the scan loop.
func (w *Watchdog) Stop() {
	w.once.Do(func() { close(w.stopped) })
}

// LastReport returns the most recent scan result.
func (w *Watchdog) LastReport() WatchdogReport {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *Watchdog) scan() WatchdogReport {
	slots, backlogLen := w.pool.Snapshot()
	now := time.Now()

	report := WatchdogReport{
		ScanTime:      now,
		BacklogLength: backlogLen,
	}

	for _, slot := range slots {
		if !slot.Busy {
			continue
		}
		elapsed := now.Sub(slot.StartTime)
		if elapsed < w.stallAfter {
			continue
		}
		report.StalledSlots = append(report.StalledSlots, slot.Index)
		w.logger.Warn().
			Int("worker", slot.Index).
			Str("task_id", slot.TaskID).
			Int("pid", slot.PID).
			Dur("elapsed", elapsed).
			Msg("Worker slot running longer than stall threshold")
	}

	if w.backlogThreshold > 0 && backlogLen > w.backlogThreshold {
		report.BacklogWarning = true
		w.logger.Warn().
			Int("backlog", backlogLen).
			Int("threshold", w.backlogThreshold).
			Msg("Task backlog exceeds threshold")
	}

	w.mu.Lock()
	w.last = report
	w.mu.Unlock()

	return report
}
