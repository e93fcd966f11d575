package driver

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/hupe1980/driftwatch/core"
)

var (
	tokenEncoder *tiktoken.Tiktoken
	encoderOnce  sync.Once
	encoderErr   error
)

// initTokenEncoder initializes the tiktoken encoder (lazy initialization).
func initTokenEncoder() error {
	encoderOnce.Do(func() {
		// cl100k_base covers GPT-4 / GPT-3.5-turbo era models and is close
		// enough for admission estimates on other providers.
		tokenEncoder, encoderErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoderErr
}

// CountTokens counts the tokens in a text using tiktoken, falling back to a
// ~4 characters per token estimate when the encoding is unavailable.
func CountTokens(text string) int {
	if err := initTokenEncoder(); err != nil {
		return len(text) / 4
	}
	return len(tokenEncoder.Encode(text, nil, nil))
}

// EstimateHistory approximates the prompt token count for a chat history,
// accounting for per-message formatting overhead. Never performs network I/O,
// so it is safe on the budget admission path.
func EstimateHistory(history core.History) int {
	total := 0
	for _, msg := range history {
		// Message overhead: approximately 4 tokens per message for role
		// and content markers, per OpenAI's token counting guidance.
		total += 4
		total += CountTokens(string(msg.Role))
		total += CountTokens(msg.Content)
	}
	// Reply priming for the overall structure.
	total += 2
	return total
}
