// -----------------------------------------------------------------------
// DevTools Client - HTTP + WebSocket JSON-RPC against the debug endpoint
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praeco/internal/models"
)

// DevToolsClient talks to a remote-debuggable browser over its HTTP
// endpoint (page discovery, page creation) and per-page WebSocket
// (JSON-RPC commands). Each command dials a fresh connection; the
// protocol is strictly request/response from our side, with unsolicited
// event frames skipped until the matching response id arrives.
type DevToolsClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     arbor.ILogger
}

type rpcRequest struct {
	ID     int         `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewDevToolsClient creates a client bound to a local debug port.
func NewDevToolsClient(port int, timeout time.Duration, logger arbor.ILogger) *DevToolsClient {
	return &DevToolsClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", port),
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		logger:     logger,
	}
}

// BaseURL returns the HTTP endpoint of the debug interface.
func (c *DevToolsClient) BaseURL() string {
	return c.baseURL
}

// ListPages enumerates open targets via GET /json.
func (c *DevToolsClient) ListPages(ctx context.Context) ([]models.PageTarget, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/json", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list pages returned status %d", resp.StatusCode)
	}

	var targets []models.PageTarget
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("failed to decode page list: %w", err)
	}
	return targets, nil
}

// NewPage opens a tab at the given URL via PUT /json/new.
func (c *DevToolsClient) NewPage(ctx context.Context, pageURL string) (*models.PageTarget, error) {
	endpoint := c.baseURL + "/json/new?" + url.Values{"url": {pageURL}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("open page returned status %d: %s", resp.StatusCode, string(body))
	}

	var target models.PageTarget
	if err := json.Unmarshal(body, &target); err != nil {
		return nil, fmt.Errorf("failed to decode page target: %w", err)
	}
	return &target, nil
}

// FirstPage returns the first target of type "page" with a debugger URL.
func (c *DevToolsClient) FirstPage(ctx context.Context) (*models.PageTarget, error) {
	targets, err := c.ListPages(ctx)
	if err != nil {
		return nil, err
	}
	for i := range targets {
		if targets[i].Type == "page" && targets[i].WebSocketDebuggerURL != "" {
			return &targets[i], nil
		}
	}
	return nil, fmt.Errorf("no debuggable page target found")
}

// Navigate drives the first page to the given URL via Page.navigate.
func (c *DevToolsClient) Navigate(ctx context.Context, pageURL string) error {
	page, err := c.FirstPage(ctx)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, page.WebSocketDebuggerURL, "Page.navigate", map[string]string{"url": pageURL})
	return err
}

// Evaluate runs a JavaScript expression in the first page and returns the
// string form of the result value.
func (c *DevToolsClient) Evaluate(ctx context.Context, expression string) (string, error) {
	page, err := c.FirstPage(ctx)
	if err != nil {
		return "", err
	}

	raw, err := c.call(ctx, page.WebSocketDebuggerURL, "Runtime.evaluate", map[string]interface{}{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("failed to decode evaluate result: %w", err)
	}

	var asString string
	if err := json.Unmarshal(result.Result.Value, &asString); err == nil {
		return asString, nil
	}
	return string(result.Result.Value), nil
}

// WaitReady polls document.readyState until the page reports complete or
// the context expires.
func (c *DevToolsClient) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		state, err := c.Evaluate(ctx, "document.readyState")
		if err == nil && state == "complete" {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("page never reached readyState complete: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetAllCookies returns every cookie the browser holds, across domains.
func (c *DevToolsClient) GetAllCookies(ctx context.Context) ([]models.Cookie, error) {
	page, err := c.FirstPage(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := c.call(ctx, page.WebSocketDebuggerURL, "Network.getAllCookies", nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Cookies []struct {
			Name    string  `json:"name"`
			Value   string  `json:"value"`
			Domain  string  `json:"domain"`
			Path    string  `json:"path"`
			Expires float64 `json:"expires"`
		} `json:"cookies"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode cookies: %w", err)
	}

	cookies := make([]models.Cookie, 0, len(payload.Cookies))
	for _, ck := range payload.Cookies {
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
	return cookies, nil
}

// call performs one JSON-RPC command over a fresh WebSocket connection.
func (c *DevToolsClient) call(ctx context.Context, wsURL, method string, params interface{}) (json.RawMessage, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial debugger websocket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)

	const requestID = 1
	if err := conn.WriteJSON(rpcRequest{ID: requestID, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	// The browser interleaves event notifications; skip frames until the
	// response with our id shows up.
	for {
		var resp rpcResponse
		if err := conn.ReadJSON(&resp); err != nil {
			return nil, fmt.Errorf("failed to read %s response: %w", method, err)
		}
		if resp.ID != requestID {
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s failed: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	}
}
