// Package reasoning implements the prompted-text-to-JSON client the
// Evaluate and Extract stages call. JSON parsing follows a three-fallback
// strategy: parse raw, parse after stripping code fences, parse the
// substring from the first '{' to the last '}'. All three failing is a
// non-fatal, documented failure mode, not an error the caller must handle
// specially — ParseJSON returns ok=false and the caller supplies its own
// zero-value record.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/overdrivelabs/dtcpipe/pkg/resilience"
)

// Client is the contract Evaluate and Extract depend on: a system prompt, a
// user prompt, and the raw text response.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Options configures the reasoning client's call shape.
type Options struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

// DefaultOptions matches the rubric-driven extraction and scoring prompts:
// low temperature, since those calls want determinism over creativity.
func DefaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaudeSonnet4_5,
		MaxTokens:   2048,
		Temperature: 0.1,
	}
}

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	client  anthropic.Client
	opts    Options
	limiter *resilience.Limiter
}

// New creates a reasoning client. apiKey may be empty to fall back to the
// ANTHROPIC_API_KEY environment variable, matching the SDK's default.
func New(apiKey string, opts Options, reqsPerSecond float64) *AnthropicClient {
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	return &AnthropicClient{
		client:  anthropic.NewClient(clientOpts...),
		opts:    opts,
		limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: reqsPerSecond, Burst: 1}),
	}
}

// Complete sends a single-turn message and returns the model's text
// response. LLM endpoints are single-flight per worker; the limiter here
// additionally bounds request rate across a worker's lifetime.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("reasoning: rate limit: %w", err)
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.opts.Model,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: anthropic.Float(c.opts.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("reasoning: complete: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// ParseJSON implements the documented three-fallback lenient parser.
func ParseJSON[T any](raw string) (T, bool) {
	var out T

	if json.Unmarshal([]byte(raw), &out) == nil {
		return out, true
	}

	stripped := stripCodeFences(raw)
	if json.Unmarshal([]byte(stripped), &out) == nil {
		return out, true
	}

	if braced, ok := firstToLastBrace(raw); ok {
		if json.Unmarshal([]byte(braced), &out) == nil {
			return out, true
		}
	}

	var zero T
	return zero, false
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		first := s[:idx]
		if !strings.ContainsAny(first, "{}") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func firstToLastBrace(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}
