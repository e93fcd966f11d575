package core

import "context"

// ChatDriver is the provider-agnostic contract for dispatching one complete
// chat exchange. Providers (OpenAI, Anthropic, mocks) implement it so the
// orchestration layers stay decoupled from vendor SDKs.
//
// Contract:
//   - Send blocks until the full response is available or ctx is done;
//     partial/streamed output is never surfaced
//   - Send must be safe for concurrent use; probe dispatches fan out
//   - EstimateTokens never performs network I/O.
type ChatDriver interface {
	// Send dispatches the request and returns the complete model reply.
	Send(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// EstimateTokens approximates the prompt token count of a history, used
	// for budget admission before any spend occurs.
	EstimateTokens(history History) int
}

// ChatRequest carries one dispatch to a model.
type ChatRequest struct {
	Model       string  `json:"model"`
	Messages    History `json:"messages"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`

	// Seed is forwarded to providers that support deterministic sampling
	// and ignored by those that do not. Zero means unset.
	Seed int `json:"seed,omitempty"`

	// WantLogprobs requests per-token log probabilities where the provider
	// exposes them; TopLogprobs bounds the alternatives per position.
	WantLogprobs bool `json:"want_logprobs,omitempty"`
	TopLogprobs  int  `json:"top_logprobs,omitempty"`
}

// TokenUsage reports the token consumption of a single dispatch.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns the element-wise sum of u and other.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// LogprobEntry is one candidate token with its log probability.
type LogprobEntry struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// TokenLogprob carries a sampled token, its log probability and the
// alternatives the provider considered at that position.
type TokenLogprob struct {
	Token       string         `json:"token"`
	Logprob     float64        `json:"logprob"`
	TopLogprobs []LogprobEntry `json:"top_logprobs,omitempty"`
}

// ChatResponse is the complete reply to one ChatRequest.
type ChatResponse struct {
	Role         Role           `json:"role"`
	Content      string         `json:"content"`
	Model        string         `json:"model"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        TokenUsage     `json:"usage"`
	Logprobs     []TokenLogprob `json:"logprobs,omitempty"`
}
