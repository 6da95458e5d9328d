package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ragbase/ragbase/internal/config"
)

const systemPrompt = "You are a helpful assistant that answers questions " +
	"based on the provided document context. Be accurate and concise, and " +
	"only use information from the context."

// OpenAIGenerator generates answers through the OpenAI chat completion API.
// Without an API key the generator constructs fine but reports unavailable,
// so retrieval-only deployments need no special casing.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

// NewOpenAIGenerator creates a generator from cfg. A missing API key yields
// an unavailable generator, not an error.
func NewOpenAIGenerator(cfg *config.LLMConfig, logger *zap.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &OpenAIGenerator{
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}
	if cfg.APIKey != "" {
		g.client = openai.NewClient(cfg.APIKey)
	} else {
		logger.Warn("no API key configured, answer generation disabled")
	}
	return g
}

// Available reports whether a client was configured.
func (g *OpenAIGenerator) Available() bool {
	return g.client != nil
}

// Generate completes prompt with the configured chat model.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.client == nil {
		return "", ErrGeneratorUnavailable
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	g.logger.Debug("answer generated",
		zap.String("model", g.model),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("answer_chars", len(answer)),
	)
	return answer, nil
}
