package models

import "time"

// LoginStatus represents the known login state for a platform.
type LoginStatus string

const (
	LoginStatusLoggedIn  LoginStatus = "logged_in"
	LoginStatusLoggedOut LoginStatus = "logged_out"
	LoginStatusExpired   LoginStatus = "expired"
	LoginStatusChecking  LoginStatus = "checking"
)

// LoginCheckConfig describes how to probe a platform for login state.
type LoginCheckConfig struct {
	CheckURL     string   `json:"check_url"`
	Domain       string   `json:"domain"`
	LoginCookies []string `json:"login_cookies"`
	LoginURL     string   `json:"login_url"`
}

// LoginRecord is the persisted login state for one platform. A status of
// logged_in always carries a future ExpiresAt; while ExpiresAt is in the
// future a fresh probe is skipped unless explicitly forced.
type LoginRecord struct {
	PlatformID         string           `json:"platform_id" badgerhold:"key"`
	Status             LoginStatus      `json:"status"`
	Username           string           `json:"username,omitempty"`
	LastCheckTime      time.Time        `json:"last_check_time"`
	ExpiresAt          *time.Time       `json:"expires_at,omitempty"`
	LoginValidityHours int              `json:"login_validity_hours"`
	CheckConfig        LoginCheckConfig `json:"check_config"`
}

// Fresh reports whether the cached login state is still valid.
func (r *LoginRecord) Fresh(now time.Time) bool {
	return r.Status == LoginStatusLoggedIn && r.ExpiresAt != nil && r.ExpiresAt.After(now)
}
