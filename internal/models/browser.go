package models

import "time"

// BrowserStatus represents the lifecycle state of the managed browser.
type BrowserStatus string

const (
	BrowserStatusStopped  BrowserStatus = "stopped"
	BrowserStatusStarting BrowserStatus = "starting"
	BrowserStatusRunning  BrowserStatus = "running"
	BrowserStatusError    BrowserStatus = "error"
)

// BrowserSession describes the single managed remote-debuggable browser
// instance. At most one session exists; a request for a different
// UserDataDir always stops the current session first.
type BrowserSession struct {
	ID          string        `json:"id,omitempty"` // Minted per spawn, empty while stopped
	DebugPort   int           `json:"debug_port"`
	UserDataDir string        `json:"user_data_dir"`
	Status      BrowserStatus `json:"status"`
	PID         int           `json:"pid,omitempty"`
}

// Cookie is a browser cookie as reported by the remote debugging protocol
// or read directly from the persisted cookie store.
type Cookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain"`
	Path    string    `json:"path"`
	Expires time.Time `json:"expires,omitempty"` // Zero for session cookies
}

// PageTarget is one open page as listed by the remote debugging endpoint.
type PageTarget struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}
