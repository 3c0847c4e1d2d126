package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/praeco/internal/models"
)

// maxEventFieldLen caps tool payloads and unknown events in log entries so
// a chatty subprocess cannot grow memory without bound.
const maxEventFieldLen = 2000

// StreamEvent is one decoded record from the engine's newline-delimited
// event protocol. Only the discriminant is guaranteed; every other field is
// optional and depends on the event kind. Unknown kinds are preserved via
// Raw instead of being dropped.
type StreamEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// session/initialization notices
	Model     string `json:"model,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// assistant message with content blocks
	Message *StreamMessage `json:"message,omitempty"`

	// incremental content block events
	Index        int           `json:"index,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *ContentDelta `json:"delta,omitempty"`

	// usage/accounting notices
	Usage *UsageInfo `json:"usage,omitempty"`

	// terminal result record
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// StreamMessage is the message body of an assistant event.
type StreamMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a single content element: text, reasoning, or a tool
// invocation with its input payload.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ContentDelta is an incremental fragment within a content block.
type ContentDelta struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

// UsageInfo is a token accounting notice.
type UsageInfo struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// DecodeStreamEvent parses one line of the event protocol. The raw line is
// retained for unknown-kind logging.
func DecodeStreamEvent(line []byte) (*StreamEvent, error) {
	var event StreamEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return nil, err
	}
	event.Raw = json.RawMessage(append([]byte(nil), line...))
	return &event, nil
}

// Interpreter classifies stream events into task log entries and tracks the
// most recent result payload as the candidate final value. It is driven
// line-by-line by the executor and holds no references to the subprocess.
type Interpreter struct {
	resultPayload string
	sawResult     bool
}

// NewInterpreter creates an interpreter for one streaming execution.
func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

// Result returns the payload of the last result event and whether one was
// seen at all.
func (in *Interpreter) Result() (string, bool) {
	return in.resultPayload, in.sawResult
}

// Interpret maps one event to zero or more log entries. Unknown kinds are
// logged verbatim (truncated) so new event types surface in task logs
// instead of disappearing.
func (in *Interpreter) Interpret(event *StreamEvent) []models.TaskLogEntry {
	now := time.Now()

	switch event.Type {
	case "system":
		content := "engine session started"
		if event.Subtype != "" {
			content = fmt.Sprintf("engine session %s", event.Subtype)
		}
		if event.Model != "" {
			content += fmt.Sprintf(" (model %s)", event.Model)
		}
		return []models.TaskLogEntry{systemEntry(now, content)}

	case "assistant":
		if event.Message == nil {
			return nil
		}
		var entries []models.TaskLogEntry
		for _, block := range event.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					entries = append(entries, stdoutEntry(now, block.Text))
				}
			case "tool_use":
				entries = append(entries, systemEntry(now,
					fmt.Sprintf("tool %s: %s", block.Name, truncate(string(block.Input), maxEventFieldLen))))
			}
		}
		return entries

	case "content_block_start":
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			return []models.TaskLogEntry{systemEntry(now,
				fmt.Sprintf("tool %s invoked", event.ContentBlock.Name))}
		}
		return nil

	case "content_block_delta":
		if event.Delta == nil {
			return nil
		}
		switch event.Delta.Type {
		case "text_delta":
			if event.Delta.Text != "" {
				return []models.TaskLogEntry{stdoutEntry(now, event.Delta.Text)}
			}
		case "thinking_delta":
			if event.Delta.Thinking != "" {
				return []models.TaskLogEntry{stdoutEntry(now, event.Delta.Thinking)}
			}
		}
		return nil

	case "content_block_stop":
		return nil

	case "tool_result", "user":
		return []models.TaskLogEntry{systemEntry(now,
			fmt.Sprintf("tool output: %s", truncate(string(event.Raw), maxEventFieldLen)))}

	case "usage":
		if event.Usage == nil {
			return nil
		}
		return []models.TaskLogEntry{systemEntry(now,
			fmt.Sprintf("usage: %d input tokens, %d output tokens", event.Usage.InputTokens, event.Usage.OutputTokens))}

	case "result":
		in.resultPayload = event.Result
		in.sawResult = true
		content := "result received"
		if event.IsError {
			content = "result received (engine reported error)"
		}
		return []models.TaskLogEntry{systemEntry(now, content)}

	default:
		return []models.TaskLogEntry{stdoutEntry(now,
			fmt.Sprintf("unrecognized event %q: %s", event.Type, truncate(string(event.Raw), maxEventFieldLen)))}
	}
}

func systemEntry(ts time.Time, content string) models.TaskLogEntry {
	return models.TaskLogEntry{Timestamp: ts, Stream: models.LogStreamSystem, Content: content}
}

func stdoutEntry(ts time.Time, content string) models.TaskLogEntry {
	return models.TaskLogEntry{Timestamp: ts, Stream: models.LogStreamStdout, Content: content}
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "... [truncated]"
}
