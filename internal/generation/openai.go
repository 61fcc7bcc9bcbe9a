package generation

import (
	"context"
	"errors"
	"iter"

	"github.com/openai/openai-go"
)

// DefaultModel is the chat model used for answer generation.
const DefaultModel = openai.ChatModelGPT4oMini

// OpenAIBackend implements Backend against the OpenAI chat completions API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates a backend using the given client. An empty model
// selects DefaultModel.
func NewOpenAIBackend(client *openai.Client, model string) *OpenAIBackend {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIBackend{client: client, model: model}
}

// Model returns the configured chat model name, recorded in turn metadata.
func (b *OpenAIBackend) Model() string {
	return b.model
}

// Complete performs one batch chat completion. Server-side failures (429,
// 5xx) are wrapped in RetryableError so the gateway retries them.
func (b *OpenAIBackend) Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (*Completion, error) {
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       b.model,
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &RetryableError{Err: errors.New("completion returned no choices")}
	}

	return &Completion{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: int(resp.Usage.CompletionTokens),
	}, nil
}

// CompleteStream performs a streaming chat completion, yielding text deltas
// as they arrive. The final pair carries any stream error; the HTTP stream
// is closed even when the consumer stops iterating early.
func (b *OpenAIBackend) CompleteStream(ctx context.Context, prompt string, temperature float64, maxTokens int) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := b.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Model:       b.model,
			Temperature: openai.Float(temperature),
			MaxTokens:   openai.Int(int64(maxTokens)),
		})
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", classify(err))
		}
	}
}

// classify wraps transient server-side errors in RetryableError. Auth,
// malformed-request, and network errors pass through unchanged so the
// gateway fails fast on them.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return &RetryableError{Err: err}
		}
	}
	return err
}
