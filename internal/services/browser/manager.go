// -----------------------------------------------------------------------
// Browser Manager - singleton remote-debuggable browser lifecycle
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praeco/internal/common"
	"github.com/ternarybob/praeco/internal/interfaces"
	"github.com/ternarybob/praeco/internal/models"
	"golang.org/x/time/rate"
)

var _ interfaces.BrowserManager = (*Manager)(nil)

// Manager owns the single managed browser process. All start/stop
// transitions are serialized by the mutex so two callers can never race on
// the debug port or the user data directory.
type Manager struct {
	mu     sync.Mutex
	config common.BrowserConfig
	logger arbor.ILogger
	client *DevToolsClient

	session models.BrowserSession
	cmd     *exec.Cmd
	waitCh  chan error
}

// NewManager creates a browser manager. No process is spawned until Start.
func NewManager(config common.BrowserConfig, logger arbor.ILogger) *Manager {
	return &Manager{
		config: config,
		logger: logger,
		client: NewDevToolsClient(config.DebugPort, common.Duration(config.RequestTimeout, 15*time.Second), logger),
		session: models.BrowserSession{
			DebugPort: config.DebugPort,
			Status:    models.BrowserStatusStopped,
		},
	}
}

// Client returns the devtools client bound to the managed debug port.
func (m *Manager) Client() *DevToolsClient {
	return m.client
}

// Session returns a snapshot of the current session state.
func (m *Manager) Session() models.BrowserSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// IsRunning reports whether a session is currently running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Status == models.BrowserStatusRunning
}

// Start launches the browser or reuses the running instance. A matching
// user data dir with forceRestart=false is treated as success; a different
// directory is always stop-then-start. Launch failures are absorbed into a
// false return so callers degrade gracefully.
func (m *Manager) Start(ctx context.Context, userDataDir string, forceRestart, headless bool, startURL string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if userDataDir == "" {
		userDataDir = m.config.UserDataDir
	}

	if m.session.Status == models.BrowserStatusRunning {
		if m.session.UserDataDir == userDataDir && !forceRestart {
			m.logger.Debug().
				Str("user_data_dir", userDataDir).
				Msg("Browser already running, reusing session")
			if startURL != "" {
				if _, err := m.client.NewPage(ctx, startURL); err != nil {
					m.logger.Warn().Err(err).Str("url", startURL).Msg("Failed to open start URL in running browser")
				}
			}
			return true
		}
		if err := m.stopLocked(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to stop existing browser session")
		}
	}

	// A browser from a previous service run may still hold the port.
	m.reapOrphanLocked(ctx)

	m.session = models.BrowserSession{
		ID:          common.NewSessionID(),
		DebugPort:   m.config.DebugPort,
		UserDataDir: userDataDir,
		Status:      models.BrowserStatusStarting,
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", m.config.DebugPort),
		fmt.Sprintf("--user-data-dir=%s", userDataDir),
		"--no-first-run",
		"--no-default-browser-check",
	}
	if headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	if startURL != "" {
		args = append(args, startURL)
	}

	cmd := exec.Command(m.config.Binary, args...)
	if err := cmd.Start(); err != nil {
		m.logger.Warn().
			Err(err).
			Str("binary", m.config.Binary).
			Msg("Failed to launch browser")
		m.session.Status = models.BrowserStatusError
		return false
	}

	m.cmd = cmd
	m.session.PID = cmd.Process.Pid
	m.waitCh = make(chan error, 1)
	go func(ch chan error) { ch <- cmd.Wait() }(m.waitCh)

	m.logger.Info().
		Int("pid", cmd.Process.Pid).
		Int("debug_port", m.config.DebugPort).
		Str("user_data_dir", userDataDir).
		Bool("headless", headless).
		Msg("Browser launched, waiting for debug port")

	if !m.awaitReady(ctx) {
		m.logger.Warn().
			Int("debug_port", m.config.DebugPort).
			Msg("Browser debug port never became ready")
		if err := m.stopLocked(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to stop unready browser")
		}
		m.session.Status = models.BrowserStatusError
		return false
	}

	m.session.Status = models.BrowserStatusRunning
	m.logger.Info().Int("debug_port", m.config.DebugPort).Msg("Browser session running")
	return true
}

// Stop terminates the managed session gracefully.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

// stopLocked sends SIGTERM, waits out the grace window, then force-kills.
// It also reaps an orphaned browser holding the debug port when this
// process did not spawn the session. Must be called with the mutex held.
func (m *Manager) stopLocked(ctx context.Context) error {
	if m.cmd == nil {
		m.reapOrphanLocked(ctx)
		m.session.Status = models.BrowserStatusStopped
		m.session.PID = 0
		return nil
	}

	grace := common.Duration(m.config.StopGrace, 5*time.Second)
	pid := m.cmd.Process.Pid

	m.logger.Info().Int("pid", pid).Msg("Stopping browser session")
	if err := m.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		m.logger.Debug().Err(err).Int("pid", pid).Msg("SIGTERM failed, process may have exited")
	}

	select {
	case <-m.waitCh:
	case <-time.After(grace):
		m.logger.Warn().Int("pid", pid).Msg("Browser survived SIGTERM grace window, killing")
		m.cmd.Process.Kill()
		<-m.waitCh
	}

	m.cmd = nil
	m.waitCh = nil
	m.session.Status = models.BrowserStatusStopped
	m.session.PID = 0
	m.session.ID = ""
	return nil
}

// reapOrphanLocked terminates a browser left holding the debug port by a
// previous service run. Matching is by the port flag in the command line;
// best-effort only.
func (m *Manager) reapOrphanLocked(ctx context.Context) {
	if !portOpen(m.config.DebugPort) {
		return
	}

	m.logger.Warn().
		Int("debug_port", m.config.DebugPort).
		Msg("Debug port already in use, terminating orphaned browser")

	pattern := fmt.Sprintf("remote-debugging-port=%d", m.config.DebugPort)
	if err := exec.CommandContext(ctx, "pkill", "-f", pattern).Run(); err != nil {
		m.logger.Debug().Err(err).Str("pattern", pattern).Msg("Orphan termination returned error")
		return
	}

	// Give the OS a moment to release the port.
	deadline := time.Now().Add(common.Duration(m.config.StopGrace, 5*time.Second))
	for time.Now().Before(deadline) && portOpen(m.config.DebugPort) {
		time.Sleep(100 * time.Millisecond)
	}
}

// awaitReady polls the debug port with bounded retries, paced by a rate
// limiter so a slow browser start does not get hammered.
func (m *Manager) awaitReady(ctx context.Context) bool {
	retries := m.config.ReadyRetries
	if retries <= 0 {
		retries = 30
	}
	interval := common.Duration(m.config.ReadyInterval, 500*time.Millisecond)
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for i := 0; i < retries; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return false
		}
		if portOpen(m.config.DebugPort) {
			return true
		}
	}
	return false
}

func portOpen(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
