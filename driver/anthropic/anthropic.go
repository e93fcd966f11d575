// Package anthropic provides a chat driver for the Anthropic Claude API.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/driftwatch/core"
	"github.com/hupe1980/driftwatch/driver"
)

// Options configures the Anthropic driver (default model id, max tokens,
// API key). Extend via functional options to preserve stability.
type Options struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
	BaseURL   string
}

// Driver wraps the Anthropic Messages API behind the core.ChatDriver
// interface. Anthropic exposes no per-token log probabilities, so
// ChatRequest.WantLogprobs is ignored; Seed likewise.
type Driver struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic driver using the official client.
func New(optFns ...func(o *Options)) *Driver {
	opts := Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 1024,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Driver{
		client: &client,
		opts:   opts,
	}
}

// NewFromClient creates a new Anthropic driver from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Driver {
	opts := Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 1024,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Driver{
		client: client,
		opts:   opts,
	}
}

// Send implements core.ChatDriver. It adapts the Anthropic Messages API into
// the driftwatch request/response shapes and classifies vendor errors into
// the shared taxonomy.
func (d *Driver) Send(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	model := d.opts.Model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = d.opts.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       model,
		Messages:    buildMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}

	if systemBlocks := extractSystemBlocks(req.Messages); len(systemBlocks) > 0 {
		params.System = systemBlocks
	}

	resp, err := d.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(err, string(model))
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}

	usage := core.TokenUsage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	return &core.ChatResponse{
		Role:         core.RoleAssistant,
		Content:      text.String(),
		Model:        string(resp.Model),
		FinishReason: finishReason,
		Usage:        usage,
	}, nil
}

// EstimateTokens implements core.ChatDriver via the shared local estimator.
func (d *Driver) EstimateTokens(history core.History) int {
	return driver.EstimateHistory(history)
}

// buildMessages converts a driftwatch history to Anthropic message format.
// System messages are handled separately via the System parameter.
func buildMessages(history core.History) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	for _, msg := range history {
		switch msg.Role {
		case core.RoleSystem:
			continue
		case core.RoleAssistant:
			if msg.Content != "" {
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			}
		default:
			// Treat unknown roles as user.
			if msg.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}

	return messages
}

// extractSystemBlocks collects system message blocks for the System parameter.
func extractSystemBlocks(history core.History) []anthropic.TextBlockParam {
	var systemBlocks []anthropic.TextBlockParam

	for _, msg := range history {
		if msg.Role == core.RoleSystem && msg.Content != "" {
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{
				Text: msg.Content,
			})
		}
	}

	return systemBlocks
}

// wrapError classifies a vendor error into the driftwatch taxonomy so the
// dispatch gate can decide on retry without inspecting SDK types.
func wrapError(err error, model string) error {
	if errors.Is(err, context.Canceled) {
		// Cancellation is the caller's decision, never a provider fault.
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &core.DriverError{
			Class:    classifyStatus(apiErr.StatusCode),
			Provider: "anthropic",
			Model:    model,
			Status:   apiErr.StatusCode,
			Message:  "anthropic request failed",
			Cause:    err,
		}
	}
	class := core.ClassProviderError
	if errors.Is(err, context.DeadlineExceeded) {
		class = core.ClassTimeout
	}
	return &core.DriverError{
		Class:    class,
		Provider: "anthropic",
		Model:    model,
		Cause:    err,
	}
}

// classifyStatus maps an HTTP status code onto an error class.
func classifyStatus(status int) core.Class {
	switch {
	case status == http.StatusTooManyRequests:
		return core.ClassRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return core.ClassTimeout
	default:
		return core.ClassProviderError
	}
}
