package interfaces

import (
	"context"

	"github.com/ternarybob/praeco/internal/models"
)

// BrowserManager owns the single remote-debuggable browser instance.
// Start and Stop return degraded boolean results rather than propagating
// launch failures; callers fall back or retry.
type BrowserManager interface {
	// Start launches the browser, or reuses the running instance when the
	// user data dir matches and forceRestart is false. Returns true once
	// the remote debugging port accepts connections.
	Start(ctx context.Context, userDataDir string, forceRestart, headless bool, startURL string) bool

	// Stop terminates the managed instance gracefully, escalating to a
	// force kill after the grace window.
	Stop(ctx context.Context) error

	// IsRunning reports whether a session is currently running.
	IsRunning() bool

	// Session returns a snapshot of the current session state.
	Session() models.BrowserSession
}
