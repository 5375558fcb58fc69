package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"toeicprep/config"
	"toeicprep/models"

	openai "github.com/sashabaranov/go-openai"
)

// Completion is one request to a text generation provider.
type Completion struct {
	System   string
	Messages []models.ChatMessage
	JSON     bool
}

// Generator is the generative AI provider seen by the services.
type Generator interface {
	Complete(ctx context.Context, c Completion) (string, error)
}

type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	timeout     time.Duration
	temperature float32
}

func NewOpenAIGenerator(cfg config.AIConfig) *OpenAIGenerator {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		temperature: float32(cfg.Temperature),
	}
}

func (g *OpenAIGenerator) Complete(ctx context.Context, c Completion) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(c.Messages)+1)
	if c.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.System})
	}
	for _, m := range c.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
	}
	if c.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: %s (status %d)", ErrProviderUnavailable, apiErr.Message, apiErr.HTTPStatusCode)
		}
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: provider returned no choices", ErrGenerationFailed)
	}
	return resp.Choices[0].Message.Content, nil
}
