package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIClient generates text with any OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client   *openai.Client
	provider string
	opts     Options
}

// NewOpenAIClient creates an OpenAI-compatible client. baseURL overrides the
// default endpoint for DeepSeek, Groq, Ollama and similar services.
func NewOpenAIClient(provider, apiKey, baseURL string, opts Options) (*OpenAIClient, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if provider == "" {
		provider = "openai"
	}
	return &OpenAIClient{
		client:   openai.NewClientWithConfig(config),
		provider: provider,
		opts:     opts,
	}, nil
}

// Name implements Client.
func (c *OpenAIClient) Name() string { return c.provider }

func (c *OpenAIClient) request(req Request) openai.ChatCompletionRequest {
	temp := c.opts.temperature(req)
	system := req.System
	if req.JSON {
		system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")
	}

	cr := openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		}},
		MaxTokens:   c.opts.maxTokens(req),
		Temperature: &temp,
	}
	if system != "" {
		cr.Messages = append([]openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		}}, cr.Messages...)
	}
	return cr
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(req))
	if err != nil {
		return "", wrapError(c.provider, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &Error{Provider: c.provider, Err: ErrEmptyResponse}
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		cr := c.request(req)
		cr.Stream = true

		stream, err := c.client.CreateChatCompletionStream(ctx, cr)
		if err != nil {
			yield("", wrapError(c.provider, err))
			return
		}
		defer stream.Close()

		var acc accumulator
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", wrapError(c.provider, fmt.Errorf("stream recv: %w", err)))
				return
			}
			if len(response.Choices) == 0 || response.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(acc.add(response.Choices[0].Delta.Content), nil) {
				return
			}
		}
	}
}
