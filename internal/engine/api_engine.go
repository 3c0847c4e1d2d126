package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praeco/internal/common"
	"github.com/ternarybob/praeco/internal/interfaces"
	"github.com/ternarybob/praeco/internal/models"
)

// APIEngine executes reasoning requests directly against the Anthropic API
// instead of spawning the CLI. It implements the same Engine interface so
// the queue is indifferent to the provider. Streaming tasks degrade to a
// single completion; there is no subprocess to interleave events from.
type APIEngine struct {
	config    common.EngineConfig
	client    anthropic.Client
	logger    arbor.ILogger
	maxTokens int
}

// NewAPIEngine creates a direct-API engine.
func NewAPIEngine(config common.EngineConfig, logger arbor.ILogger) (*APIEngine, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("api key is required for the api engine provider (set ANTHROPIC_API_KEY or engine.api_key)")
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	logger.Debug().
		Str("model", config.Model).
		Int("max_tokens", maxTokens).
		Msg("API engine initialized")

	return &APIEngine{
		config:    config,
		client:    client,
		logger:    logger,
		maxTokens: maxTokens,
	}, nil
}

// Execute sends the payload as a single user message and extracts the final
// text from the response.
func (e *APIEngine) Execute(ctx context.Context, req interfaces.ExecuteRequest) (string, error) {
	emitLog(req, models.TaskLogEntry{
		Timestamp: time.Now(),
		Stream:    models.LogStreamSystem,
		Content:   fmt.Sprintf("api request started (model %s)", e.config.Model),
	})

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.config.Model),
		MaxTokens: int64(e.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Payload)),
		},
	}

	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &EngineError{Message: err.Error()}
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}

	if response.Len() == 0 {
		return "", &ParseError{Reason: "api response contained no text content"}
	}

	emitLog(req, models.TaskLogEntry{
		Timestamp: time.Now(),
		Stream:    models.LogStreamSystem,
		Content:   fmt.Sprintf("api request completed, %d input tokens, %d output tokens", resp.Usage.InputTokens, resp.Usage.OutputTokens),
	})

	return ExtractJSON(response.String()), nil
}
