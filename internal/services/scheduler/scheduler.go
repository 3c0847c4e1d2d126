// -----------------------------------------------------------------------
// Login Scheduler - periodic re-verification of platform sessions
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praeco/internal/common"
	"github.com/ternarybob/praeco/internal/services/browser"
)

// LoginScheduler re-runs the login probe for every configured platform on
// a cron schedule so expired sessions are flagged before a task needs them.
type LoginScheduler struct {
	probe     *browser.LoginProbe
	platforms []common.PlatformEntry
	cron      *cron.Cron
	logger    arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewLoginScheduler creates a scheduler for the given platforms.
func NewLoginScheduler(probe *browser.LoginProbe, platforms []common.PlatformEntry, logger arbor.ILogger) *LoginScheduler {
	return &LoginScheduler{
		probe:     probe,
		platforms: platforms,
		cron:      cron.New(),
		logger:    logger,
	}
}

// Start registers the recheck job and starts the cron runner.
func (s *LoginScheduler) Start(schedule string) error {
	if schedule == "" {
		// Default: every 6 hours
		schedule = "0 */6 * * *"
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.CheckAll(context.Background())
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", schedule).
		Int("platforms", len(s.platforms)).
		Msg("Login recheck scheduler started")
	return nil
}

// Stop stops the cron runner and waits for an in-flight run to finish.
func (s *LoginScheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Login recheck still running at shutdown, abandoning")
	}
	s.logger.Info().Msg("Login recheck scheduler stopped")
}

// CheckAll probes every configured platform once. Overlapping runs are
// skipped rather than queued.
func (s *LoginScheduler) CheckAll(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug().Msg("Login recheck already in progress, skipping")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for _, platform := range s.platforms {
		loggedIn, err := s.probe.Check(ctx, platform.ID, false)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("platform", platform.ID).
				Msg("Login recheck failed")
			continue
		}
		s.logger.Info().
			Str("platform", platform.ID).
			Bool("logged_in", loggedIn).
			Msg("Login recheck completed")
	}
}
