package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mahdiyar-oraei/rag/internal/config"
)

// Client is a thin wrapper around the langchaingo OpenAI chat model.
type Client struct {
	llm *openai.LLM
}

func New(cfg config.OpenAIConfig) (*Client, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
		openai.WithModel(cfg.LLMModel),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}
	return &Client{llm: llm}, nil
}

// Generate runs one chat completion with an optional system message and
// returns the first choice's content.
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	var messages []llms.MessageContent
	if system != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: system}},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextContent{Text: user}},
	})

	res, err := c.llm.GenerateContent(ctx, messages, llms.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return res.Choices[0].Content, nil
}
