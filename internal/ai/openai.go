package ai

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

const openAIMaxTokens = 4096

// OpenAIBackend completes prompts against the OpenAI chat API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend reads the API key from DOCUAGENT_OPENAI_KEY or
// OPENAI_API_KEY.
func NewOpenAIBackend(model string) (*OpenAIBackend, error) {
	apiKey := os.Getenv("DOCUAGENT_OPENAI_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("DOCUAGENT_OPENAI_KEY or OPENAI_API_KEY environment variable required")
	}

	client := openai.NewClient(apiKey)

	if model == "" {
		model = "gpt-4o"
	}

	return &OpenAIBackend{client: client, model: model}, nil
}

// Complete sends one system+user exchange and returns the text reply.
func (b *OpenAIBackend) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens: openAIMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai api: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai api: reply contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
