// Package ai provides the oracle used for diagnosis, patch generation,
// lesson distillation, and source analysis. It wraps the Anthropic API
// with retry, a circuit breaker, and a concurrency cap so a flaky or
// rate-limited API degrades gracefully instead of stalling the kernel.
package ai

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
)

// DefaultModel is used when neither config nor FORAGER_MODEL specify one.
const DefaultModel = "claude-sonnet-4-5-20250929"

// Oracle is the LLM-backed diagnostic and generation capability.
type Oracle struct {
	client  *anthropic.Client
	model   string
	retry   RetryConfig
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
}

// Config holds oracle construction options.
type Config struct {
	APIKey string // falls back to ANTHROPIC_API_KEY
	Model  string // falls back to FORAGER_MODEL, then DefaultModel
	Retry  RetryConfig
}

// NewOracle creates an Oracle. It fails fast when no API key is
// available rather than erroring on first use.
func NewOracle(cfg *Config) (*Oracle, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = os.Getenv("FORAGER_MODEL")
	}
	if model == "" {
		model = DefaultModel
	}

	retry := cfg.Retry.withDefaults()

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	o := &Oracle{
		client: &client,
		model:  model,
		retry:  retry,
	}
	if retry.FailureThreshold > 0 {
		o.breaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}
	if retry.MaxConcurrentCalls > 0 {
		o.sem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}
	return o, nil
}

// Complete sends a prompt (with optional system prompt) and returns the
// concatenated text blocks of the response. All calls are bounded by
// the retry config's per-attempt timeout.
func (o *Oracle) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(o.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	var response *anthropic.Message
	err := o.retryWithBackoff(ctx, "complete", func(attemptCtx context.Context) error {
		resp, apiErr := o.client.Messages.New(attemptCtx, params)
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("oracle call failed: %w", err)
	}

	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	fmt.Printf("[oracle] call: input=%d tokens, output=%d tokens, duration=%v\n",
		response.Usage.InputTokens, response.Usage.OutputTokens, time.Since(start))
	return text, nil
}
