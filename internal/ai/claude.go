package ai

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const claudeMaxTokens = 4096

// ClaudeBackend completes prompts against Anthropic's Messages API.
type ClaudeBackend struct {
	client *anthropic.Client
	model  string
}

// NewClaudeBackend reads the API key from DOCUAGENT_ANTHROPIC_KEY or
// ANTHROPIC_API_KEY.
func NewClaudeBackend(model string) (*ClaudeBackend, error) {
	apiKey := os.Getenv("DOCUAGENT_ANTHROPIC_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("DOCUAGENT_ANTHROPIC_KEY or ANTHROPIC_API_KEY environment variable required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}

	return &ClaudeBackend{client: &client, model: model}, nil
}

// Complete sends one system+user exchange and returns the text reply.
func (b *ClaudeBackend) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: claudeMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic api: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic api: reply contained no text block")
}
