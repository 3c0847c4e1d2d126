// -----------------------------------------------------------------------
// Login Probe - cookie-store fast path with devtools fallback
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praeco/internal/common"
	"github.com/ternarybob/praeco/internal/interfaces"
	"github.com/ternarybob/praeco/internal/models"

	_ "modernc.org/sqlite"
)

// LoginProbe decides whether a platform session is still authenticated.
// It prefers reading the browser's on-disk cookie store (no browser
// needed); when that is unavailable or negative it falls back to a live
// devtools cookie query against a running session.
type LoginProbe struct {
	config  common.LoginConfig
	storage interfaces.LoginStorage
	manager *Manager
	logger  arbor.ILogger
}

// NewLoginProbe creates a login probe backed by the given record storage
// and browser manager.
func NewLoginProbe(config common.LoginConfig, storage interfaces.LoginStorage, manager *Manager, logger arbor.ILogger) *LoginProbe {
	return &LoginProbe{
		config:  config,
		storage: storage,
		manager: manager,
		logger:  logger,
	}
}

// Check verifies the login state for a platform and persists the outcome.
// A record whose previous positive result has not yet expired short-circuits
// unless force is set.
func (p *LoginProbe) Check(ctx context.Context, platformID string, force bool) (bool, error) {
	record, err := p.storage.GetLoginRecord(ctx, platformID)
	if err != nil {
		return false, fmt.Errorf("no login record for platform %s: %w", platformID, err)
	}

	now := time.Now()
	if !force && record.Fresh(now) {
		p.logger.Debug().
			Str("platform", platformID).
			Str("expires_at", record.ExpiresAt.Format(time.RFC3339)).
			Msg("Login still fresh, skipping check")
		return true, nil
	}

	cfg := record.CheckConfig
	loggedIn := false

	names, err := p.cookieStoreNames(cfg.Domain)
	if err != nil {
		p.logger.Debug().
			Err(err).
			Str("platform", platformID).
			Msg("Cookie store unavailable, falling back to live browser check")
	} else if containsAll(names, cfg.LoginCookies) {
		p.logger.Info().
			Str("platform", platformID).
			Msg("Login confirmed from cookie store")
		loggedIn = true
	}

	if !loggedIn {
		loggedIn = p.liveCheck(ctx, platformID, cfg)
	}

	p.settle(record, loggedIn, now)
	if err := p.storage.SaveLoginRecord(ctx, record); err != nil {
		return loggedIn, fmt.Errorf("failed to persist login record: %w", err)
	}
	return loggedIn, nil
}

// liveCheck drives a running browser session to the check URL and inspects
// live cookies. Browser failures are absorbed into a logged-out verdict.
func (p *LoginProbe) liveCheck(ctx context.Context, platformID string, cfg models.LoginCheckConfig) bool {
	if !p.manager.Start(ctx, "", false, true, "") {
		p.logger.Warn().Str("platform", platformID).Msg("Browser unavailable for login check")
		return false
	}

	client := p.manager.Client()

	if p.needsNavigation(ctx, client, cfg.CheckURL) {
		if err := client.Navigate(ctx, cfg.CheckURL); err != nil {
			p.logger.Warn().Err(err).Str("url", cfg.CheckURL).Msg("Failed to navigate for login check")
			return false
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.WaitReady(waitCtx); err != nil {
		p.logger.Warn().Err(err).Str("platform", platformID).Msg("Page never settled during login check")
	}

	cookies, err := client.GetAllCookies(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Str("platform", platformID).Msg("Failed to read live cookies")
		return false
	}

	names := make(map[string]struct{})
	for _, ck := range cookies {
		if domainMatches(ck.Domain, cfg.Domain) {
			names[ck.Name] = struct{}{}
		}
	}
	return containsAll(names, cfg.LoginCookies)
}

// needsNavigation reports whether the first page is already on the check
// URL's host. If page discovery fails we navigate anyway.
func (p *LoginProbe) needsNavigation(ctx context.Context, client *DevToolsClient, checkURL string) bool {
	target, err := url.Parse(checkURL)
	if err != nil {
		return true
	}
	page, err := client.FirstPage(ctx)
	if err != nil {
		return true
	}
	current, err := url.Parse(page.URL)
	if err != nil {
		return true
	}
	return !strings.EqualFold(current.Host, target.Host)
}

// settle writes the verdict into the record. A positive result extends the
// freshness window; a negative one clears it.
func (p *LoginProbe) settle(record *models.LoginRecord, loggedIn bool, now time.Time) {
	record.LastCheckTime = now
	if loggedIn {
		hours := record.LoginValidityHours
		if hours <= 0 {
			hours = p.config.ValidityHours
		}
		if hours <= 0 {
			hours = 24
		}
		expires := now.Add(time.Duration(hours) * time.Hour)
		record.Status = models.LoginStatusLoggedIn
		record.ExpiresAt = &expires
		return
	}
	record.Status = models.LoginStatusLoggedOut
	record.ExpiresAt = nil
}

// cookieStoreNames reads cookie names for a domain straight from the
// browser's sqlite cookie database. The store is copied to a scratch file
// first because the browser holds a lock on the original while running.
func (p *LoginProbe) cookieStoreNames(domain string) (map[string]struct{}, error) {
	storePath := p.config.CookieStorePath
	if storePath == "" {
		return nil, fmt.Errorf("no cookie store path configured")
	}
	if _, err := os.Stat(storePath); err != nil {
		return nil, fmt.Errorf("cookie store not accessible: %w", err)
	}

	scratch, err := copyToScratch(storePath)
	if err != nil {
		return nil, err
	}
	defer os.Remove(scratch)

	db, err := sql.Open("sqlite", scratch)
	if err != nil {
		return nil, fmt.Errorf("failed to open cookie store: %w", err)
	}
	defer db.Close()

	bare := strings.TrimPrefix(domain, ".")
	rows, err := db.Query(
		`SELECT name FROM cookies WHERE host_key = ? OR host_key = ? OR host_key LIKE ?`,
		bare, "."+bare, "%."+bare,
	)
	if err != nil {
		return nil, fmt.Errorf("cookie store query failed: %w", err)
	}
	defer rows.Close()

	names := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = struct{}{}
	}
	return names, rows.Err()
}

func copyToScratch(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open cookie store: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "praeco-cookies-*.db")
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("failed to copy cookie store: %w", err)
	}
	return dst.Name(), nil
}

// containsAll reports whether every expected name is present. An empty
// expectation never matches; it would make any cookie jar look logged-in.
func containsAll(names map[string]struct{}, expected []string) bool {
	if len(expected) == 0 {
		return false
	}
	for _, name := range expected {
		if _, ok := names[name]; !ok {
			return false
		}
	}
	return true
}

// domainMatches compares a cookie domain against a target domain, treating
// leading dots as equivalent and accepting subdomain suffixes.
func domainMatches(cookieDomain, target string) bool {
	cd := strings.TrimPrefix(strings.ToLower(cookieDomain), ".")
	td := strings.TrimPrefix(strings.ToLower(target), ".")
	return cd == td || strings.HasSuffix(cd, "."+td)
}
