package browser

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/praeco/internal/common"
	"github.com/ternarybob/praeco/internal/models"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// debugFixture emulates a browser debug endpoint: page discovery over HTTP
// and JSON-RPC command handling over WebSocket.
type debugFixture struct {
	server *httptest.Server
	port   int
}

func newDebugFixture(t *testing.T) *debugFixture {
	t.Helper()
	fixture := &debugFixture{}

	mux := http.NewServeMux()
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		targets := []models.PageTarget{
			{
				ID:                   "bg1",
				Type:                 "background_page",
				URL:                  "chrome-extension://internal",
				WebSocketDebuggerURL: "",
			},
			{
				ID:                   "page1",
				Type:                 "page",
				Title:                "Feed",
				URL:                  "https://social.example.com/feed",
				WebSocketDebuggerURL: "ws://" + r.Host + "/devtools/page/page1",
			},
		}
		json.NewEncoder(w).Encode(targets)
	})
	mux.HandleFunc("/json/new", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		target := models.PageTarget{
			ID:                   "page2",
			Type:                 "page",
			URL:                  r.URL.Query().Get("url"),
			WebSocketDebuggerURL: "ws://" + r.Host + "/devtools/page/page2",
		}
		json.NewEncoder(w).Encode(target)
	})
	mux.HandleFunc("/devtools/page/page1", func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			// Interleave an unsolicited event frame first; the client must
			// skip it and keep waiting for the matching response id.
			conn.WriteJSON(map[string]interface{}{
				"method": "Page.frameNavigated",
				"params": map[string]string{"frameId": "f1"},
			})

			switch req.Method {
			case "Page.navigate":
				conn.WriteJSON(map[string]interface{}{
					"id":     req.ID,
					"result": map[string]string{"frameId": "f1"},
				})
			case "Runtime.evaluate":
				conn.WriteJSON(map[string]interface{}{
					"id": req.ID,
					"result": map[string]interface{}{
						"result": map[string]interface{}{"type": "string", "value": "complete"},
					},
				})
			case "Network.getAllCookies":
				conn.WriteJSON(map[string]interface{}{
					"id": req.ID,
					"result": map[string]interface{}{
						"cookies": []map[string]interface{}{
							{"name": "sess", "value": "abc", "domain": ".social.example.com", "path": "/", "expires": float64(time.Now().Add(time.Hour).Unix())},
							{"name": "theme", "value": "dark", "domain": "social.example.com", "path": "/", "expires": float64(0)},
						},
					},
				})
			default:
				conn.WriteJSON(map[string]interface{}{
					"id":    req.ID,
					"error": map[string]interface{}{"code": -32601, "message": "unknown method"},
				})
			}
		}
	})

	fixture.server = httptest.NewServer(mux)
	t.Cleanup(fixture.server.Close)

	_, portStr, err := net.SplitHostPort(fixture.server.Listener.Addr().String())
	require.NoError(t, err)
	fixture.port, err = strconv.Atoi(portStr)
	require.NoError(t, err)

	return fixture
}

func (f *debugFixture) client() *DevToolsClient {
	return NewDevToolsClient(f.port, 5*time.Second, common.GetLogger())
}

func TestDevToolsClient_ListPages(t *testing.T) {
	fixture := newDebugFixture(t)
	client := fixture.client()

	pages, err := client.ListPages(t.Context())
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "page1", pages[1].ID)
	assert.Equal(t, "https://social.example.com/feed", pages[1].URL)
}

func TestDevToolsClient_FirstPageSkipsNonPageTargets(t *testing.T) {
	fixture := newDebugFixture(t)
	client := fixture.client()

	page, err := client.FirstPage(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "page1", page.ID)
	assert.NotEmpty(t, page.WebSocketDebuggerURL)
}

func TestDevToolsClient_NewPage(t *testing.T) {
	fixture := newDebugFixture(t)
	client := fixture.client()

	target, err := client.NewPage(t.Context(), "https://social.example.com/compose")
	require.NoError(t, err)
	assert.Equal(t, "page2", target.ID)
	assert.Equal(t, "https://social.example.com/compose", target.URL)
}

func TestDevToolsClient_Navigate(t *testing.T) {
	fixture := newDebugFixture(t)
	client := fixture.client()

	err := client.Navigate(t.Context(), "https://social.example.com/login")
	require.NoError(t, err)
}

func TestDevToolsClient_EvaluateSkipsEventFrames(t *testing.T) {
	fixture := newDebugFixture(t)
	client := fixture.client()

	value, err := client.Evaluate(t.Context(), "document.readyState")
	require.NoError(t, err)
	assert.Equal(t, "complete", value)
}

func TestDevToolsClient_GetAllCookies(t *testing.T) {
	fixture := newDebugFixture(t)
	client := fixture.client()

	cookies, err := client.GetAllCookies(t.Context())
	require.NoError(t, err)
	require.Len(t, cookies, 2)

	assert.Equal(t, "sess", cookies[0].Name)
	assert.Equal(t, ".social.example.com", cookies[0].Domain)
	assert.False(t, cookies[0].Expires.IsZero())

	// Session cookies report no expiry.
	assert.Equal(t, "theme", cookies[1].Name)
	assert.True(t, cookies[1].Expires.IsZero())
}

func TestDevToolsClient_RPCError(t *testing.T) {
	fixture := newDebugFixture(t)
	client := fixture.client()

	page, err := client.FirstPage(t.Context())
	require.NoError(t, err)

	_, err = client.call(t.Context(), page.WebSocketDebuggerURL, "Unknown.method", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown method")
}

func TestDevToolsClient_WaitReady(t *testing.T) {
	fixture := newDebugFixture(t)
	client := fixture.client()

	// The fixture always reports readyState complete.
	require.NoError(t, client.WaitReady(t.Context()))
}
