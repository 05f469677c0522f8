package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// SystemPrompt instructs the model how to phrase congestion notifications
const SystemPrompt = `You write short push notifications about road congestion for two audiences: traffic responders who own a monitoring region, and drivers who asked about a route.

Instructions:
- Use only the facts given. Never invent causes, incidents or road names.
- Mention the congested length in kilometers with two decimals.
- Mention start and end addresses when given, shortened to street and town.
- Responders get an operational tone. Drivers get a friendly tone.

Return a JSON object with exactly these fields:
- title (string) – at most 40 characters
- body (string) – at most 160 characters`

// openAIComposer implements MessageComposer using OpenAI chat completions
type openAIComposer struct {
	client *openai.Client
	model  string
}

// NewOpenAIComposer creates a composer backed by OpenAI. An empty key
// produces a composer that always errors.
func NewOpenAIComposer(apiKey, model string) MessageComposer {
	if model == "" {
		model = openai.GPT4oMini
	}
	if apiKey == "" {
		return &openAIComposer{model: model}
	}
	return &openAIComposer{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Compose asks the model for a title and body
func (o *openAIComposer) Compose(ctx context.Context, in MessageInput) (Message, error) {
	if o.client == nil {
		return Message{}, errors.New("OpenAI client not initialized - missing API key")
	}

	facts, err := json.Marshal(in)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal message input: %w", err)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: SystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: "Write the notification for these facts:\n" + string(facts),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err != nil {
		return Message{}, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Message{}, errors.New("no response from OpenAI API")
	}

	var message Message
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &message); err != nil {
		return Message{}, fmt.Errorf("failed to parse OpenAI JSON response: %w", err)
	}

	message.Title = strings.TrimSpace(message.Title)
	message.Body = strings.TrimSpace(message.Body)
	if message.Title == "" || message.Body == "" {
		return Message{}, errors.New("OpenAI response missing title or body")
	}

	return message, nil
}
