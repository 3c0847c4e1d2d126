// -----------------------------------------------------------------------
// Automation Session - chromedp attached to the managed browser
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praeco/internal/models"
)

// AutomationSession drives the managed browser through the devtools
// protocol for scripted interactions that outgrow one-shot JSON-RPC
// calls: full page renders, DOM extraction, cookie snapshots. It attaches
// to the browser the Manager spawned rather than launching its own.
type AutomationSession struct {
	mu          sync.Mutex
	browserCtx  context.Context
	cancelCtx   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      arbor.ILogger
	closed      bool
}

// NewAutomationSession attaches a chromedp session to the running managed
// browser, starting one with defaults if needed.
func NewAutomationSession(ctx context.Context, manager *Manager, logger arbor.ILogger) (*AutomationSession, error) {
	if !manager.IsRunning() {
		if !manager.Start(ctx, "", false, true, "") {
			return nil, fmt.Errorf("browser unavailable for automation session")
		}
	}

	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.Background(), manager.Client().BaseURL())
	browserCtx, cancelCtx := chromedp.NewContext(allocCtx)

	// Verify the attachment before handing the session out.
	testCtx, testCancel := context.WithTimeout(browserCtx, 15*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Evaluate("1", nil)); err != nil {
		cancelCtx()
		cancelAlloc()
		return nil, fmt.Errorf("failed to attach to browser: %w", err)
	}

	logger.Debug().
		Str("endpoint", manager.Client().BaseURL()).
		Msg("Automation session attached")

	return &AutomationSession{
		browserCtx:  browserCtx,
		cancelCtx:   cancelCtx,
		cancelAlloc: cancelAlloc,
		logger:      logger,
	}, nil
}

// Navigate loads a URL and waits for the document body.
func (s *AutomationSession) Navigate(ctx context.Context, pageURL string) error {
	runCtx, cancel := s.boundedCtx(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
	); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", pageURL, err)
	}
	return nil
}

// CaptureHTML navigates to a URL and returns the rendered document HTML.
func (s *AutomationSession) CaptureHTML(ctx context.Context, pageURL string) (string, error) {
	runCtx, cancel := s.boundedCtx(ctx)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	); err != nil {
		return "", fmt.Errorf("failed to capture %s: %w", pageURL, err)
	}

	s.logger.Debug().
		Str("url", pageURL).
		Int("html_bytes", len(html)).
		Msg("Page HTML captured")
	return html, nil
}

// Evaluate runs a JavaScript expression in the current page.
func (s *AutomationSession) Evaluate(ctx context.Context, expression string, result interface{}) error {
	runCtx, cancel := s.boundedCtx(ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Evaluate(expression, result))
}

// Cookies returns the cookies visible to the attached session.
func (s *AutomationSession) Cookies(ctx context.Context) ([]models.Cookie, error) {
	runCtx, cancel := s.boundedCtx(ctx)
	defer cancel()

	var cookies []models.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(actCtx context.Context) error {
		raw, err := network.GetCookies().Do(actCtx)
		if err != nil {
			return err
		}
		cookies = make([]models.Cookie, 0, len(raw))
		for _, ck := range raw {
			cookie := models.Cookie{
				Name:   ck.Name,
				Value:  ck.Value,
				Domain: ck.Domain,
				Path:   ck.Path,
			}
			if ck.Expires > 0 {
				cookie.Expires = time.Unix(int64(ck.Expires), 0)
			}
			cookies = append(cookies, cookie)
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read session cookies: %w", err)
	}
	return cookies, nil
}

// Close detaches from the browser. The browser itself stays up; its
// lifetime belongs to the Manager.
func (s *AutomationSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancelCtx()
	s.cancelAlloc()
	s.logger.Debug().Msg("Automation session detached")
}

// boundedCtx merges the caller's deadline with the session's browser
// context so cancellation flows from either side.
func (s *AutomationSession) boundedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(60 * time.Second)
	}
	runCtx, cancel := context.WithDeadline(s.browserCtx, deadline)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}
