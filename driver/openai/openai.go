// Package openai provides a chat driver backed by the OpenAI Chat
// Completions API, including per-token log probabilities, plus an embedding
// adapter used for semantic drift scoring. It adapts driftwatch's normalized
// ChatRequest/ChatResponse structures into the SDK's message format and back.
package openai

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/driftwatch/core"
	"github.com/hupe1980/driftwatch/driver"
)

// Options configure the OpenAI driver.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model     string
	MaxTokens int64
	APIKey    string
	BaseURL   string
}

// Driver wraps the OpenAI Chat Completions API behind the core.ChatDriver interface.
type Driver struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI driver using the official client.
func New(optFns ...func(o *Options)) *Driver {
	opts := Options{
		Model:     openai.ChatModelGPT4oMini,
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

	client := openai.NewClient(clientOpts...)
	return &Driver{client: &client, opts: opts}
}

// NewFromClient creates a new OpenAI driver from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Driver {
	opts := Options{
		Model:     openai.ChatModelGPT4oMini,
		MaxTokens: 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Driver{client: client, opts: opts}
}

// Send implements core.ChatDriver.
func (d *Driver) Send(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	params := d.buildParams(req)

	resp, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapError(err, params.Model)
	}
	if len(resp.Choices) == 0 {
		return nil, &core.DriverError{
			Class:    core.ClassProviderError,
			Provider: "openai",
			Model:    params.Model,
			Message:  "no choices returned",
		}
	}

	choice := resp.Choices[0]

	out := &core.ChatResponse{
		Role:         core.RoleAssistant,
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
		Usage: core.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	if req.WantLogprobs {
		out.Logprobs = convertLogprobs(choice.Logprobs.Content)
	}
	return out, nil
}

// EstimateTokens implements core.ChatDriver via the shared local estimator.
func (d *Driver) EstimateTokens(history core.History) int {
	return driver.EstimateHistory(history)
}

// buildParams assembles the OpenAI request parameters.
func (d *Driver) buildParams(req core.ChatRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = d.opts.Model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = d.opts.MaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req.Messages),
		Model:               model,
		Temperature:         openai.Float(req.Temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if req.Seed > 0 {
		params.Seed = openai.Int(int64(req.Seed))
	}
	if req.WantLogprobs {
		params.Logprobs = openai.Bool(true)
		if req.TopLogprobs > 0 {
			params.TopLogprobs = openai.Int(int64(req.TopLogprobs))
		}
	}
	return params
}

// buildMessages converts a driftwatch history into OpenAI chat messages.
func buildMessages(history core.History) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case core.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	return messages
}

// convertLogprobs maps SDK logprob content into the driftwatch shape.
func convertLogprobs(content []openai.ChatCompletionTokenLogprob) []core.TokenLogprob {
	if len(content) == 0 {
		return nil
	}
	out := make([]core.TokenLogprob, len(content))
	for i, tl := range content {
		top := make([]core.LogprobEntry, len(tl.TopLogprobs))
		for j, alt := range tl.TopLogprobs {
			top[j] = core.LogprobEntry{Token: alt.Token, Logprob: alt.Logprob}
		}
		out[i] = core.TokenLogprob{Token: tl.Token, Logprob: tl.Logprob, TopLogprobs: top}
	}
	return out
}

// wrapError classifies a vendor error into the driftwatch taxonomy.
func wrapError(err error, model string) error {
	if errors.Is(err, context.Canceled) {
		// Cancellation is the caller's decision, never a provider fault.
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &core.DriverError{
			Class:    classifyStatus(apiErr.StatusCode),
			Provider: "openai",
			Model:    model,
			Status:   apiErr.StatusCode,
			Message:  "openai request failed",
			Cause:    err,
		}
	}
	class := core.ClassProviderError
	if errors.Is(err, context.DeadlineExceeded) {
		class = core.ClassTimeout
	}
	return &core.DriverError{
		Class:    class,
		Provider: "openai",
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
