// Package openai adapts sashabaranov/go-openai to the two out-of-scope
// LLM roles the system consumes: llm.Provider for consolidation-summary
// generation, and llm.LogProbOracle for ContextCite's ablation loop.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cortexlabs/cortex-engine-go/pkg/llm"
)

// Client is an OpenAI-backed llm.Provider and llm.LogProbOracle.
type Client struct {
	client          *openai.Client
	model           string
	completionModel string
}

// Config configures the OpenAI LLM client.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string
	// Model is the chat model used for Generate/GenerateWithMessages,
	// defaults to "gpt-4".
	Model string
	// CompletionModel is the legacy completion model used for LogProb,
	// since the chat completion endpoint does not expose token
	// log-probabilities for arbitrary prompts. Defaults to
	// "gpt-3.5-turbo-instruct".
	CompletionModel string
	// BaseURL overrides the default OpenAI API base URL.
	BaseURL string
}

var (
	_ llm.Provider      = (*Client)(nil)
	_ llm.LogProbOracle = (*Client)(nil)
)

// NewClient creates a new OpenAI LLM client.
func NewClient(cfg *Config) (*Client, error) {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4"
	}
	completionModel := cfg.CompletionModel
	if completionModel == "" {
		completionModel = "gpt-3.5-turbo-instruct"
	}

	return &Client{
		client:          openai.NewClientWithConfig(config),
		model:           model,
		completionModel: completionModel,
	}, nil
}

// Generate generates text based on the prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	messages := []llm.Message{
		{Role: "user", Content: prompt},
	}
	return c.GenerateWithMessages(ctx, messages, opts...)
}

// GenerateWithMessages generates text using message history. Used for
// consolidation-summary generation (method="llm_consolidation").
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
		TopP:        float32(options.TopP),
		Stop:        options.Stop,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm/openai: no choices returned from OpenAI API")
	}
	return resp.Choices[0].Message.Content, nil
}

// LogProb returns the log-probability the model assigns to response
// given a prompt built from query plus the memories selected by mask.
// It satisfies attribution.LogProbOracle: ContextCite calls this once
// per ablation mask and fits a surrogate over the resulting scores.
//
// The chat completion endpoint does not return per-token
// log-probabilities for an arbitrary continuation, so this uses the
// legacy completion endpoint with Echo+LogProbs and sums the
// log-probabilities of the tokens covering the response suffix.
func (c *Client) LogProb(ctx context.Context, query, response string, memories []string, mask []bool) (float64, error) {
	if len(mask) != len(memories) {
		return 0, fmt.Errorf("llm/openai: mask length %d does not match memories length %d", len(mask), len(memories))
	}

	var included []string
	for i, keep := range mask {
		if keep {
			included = append(included, memories[i])
		}
	}

	prompt := buildOracleContext(included, query)
	full := prompt + response

	req := openai.CompletionRequest{
		Model:     c.completionModel,
		Prompt:    full,
		MaxTokens: 0,
		Echo:      true,
		LogProbs:  1,
	}

	resp, err := c.client.CreateCompletion(ctx, req)
	if err != nil {
		return 0, err
	}
	if len(resp.Choices) == 0 {
		return 0, errors.New("llm/openai: no choices returned from completion API")
	}

	choice := resp.Choices[0]
	logprobs := &choice.LogProbs
	if len(logprobs.Tokens) == 0 {
		return 0, errors.New("llm/openai: completion API returned no token log-probabilities")
	}

	return sumResponseLogProbs(logprobs, prompt), nil
}

// buildOracleContext renders the included memories and the query into
// the same prompt shape for every mask, so LogProb differences are
// attributable to which memories were dropped rather than formatting.
func buildOracleContext(memories []string, query string) string {
	var b strings.Builder
	for _, m := range memories {
		b.WriteString("- ")
		b.WriteString(m)
		b.WriteString("\n")
	}
	b.WriteString("Query: ")
	b.WriteString(query)
	b.WriteString("\nResponse: ")
	return b.String()
}

// sumResponseLogProbs sums the log-probabilities of tokens whose
// cumulative offset falls at or past len(prompt), i.e. the tokens
// covering the echoed response suffix rather than the prompt itself.
func sumResponseLogProbs(lp *openai.LogprobResult, prompt string) float64 {
	promptLen := len(prompt)
	var offset int
	var total float64
	for i, tok := range lp.Tokens {
		if offset >= promptLen && i < len(lp.TokenLogprobs) {
			total += float64(lp.TokenLogprobs[i])
		}
		offset += len(tok)
	}
	return total
}

// Close closes the client connection. The OpenAI SDK client does not
// require explicit closing; retained for interface compatibility.
func (c *Client) Close() error {
	return nil
}
