package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

const providerAnthropic = "anthropic"

// AnthropicClient generates text with the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	opts   Options
}

// NewAnthropicClient creates an Anthropic-backed client.
func NewAnthropicClient(apiKey string, opts Options) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	return &AnthropicClient{client: anthropic.NewClient(apiKey), opts: opts}, nil
}

// Name implements Client.
func (c *AnthropicClient) Name() string { return providerAnthropic }

func (c *AnthropicClient) request(req Request) anthropic.MessagesRequest {
	temp := c.opts.temperature(req)
	mr := anthropic.MessagesRequest{
		Model: anthropic.Model(c.opts.Model),
		Messages: []anthropic.Message{{
			Role:    anthropic.RoleUser,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(req.Prompt)},
		}},
		MaxTokens:   c.opts.maxTokens(req),
		Temperature: &temp,
	}
	system := req.System
	if req.JSON {
		system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")
	}
	if system != "" {
		mr.MultiSystem = []anthropic.MessageSystemPart{{Type: "text", Text: system}}
	}
	return mr
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.client.CreateMessages(ctx, c.request(req))
	if err != nil {
		return "", wrapError(providerAnthropic, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			text.WriteString(*block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", &Error{Provider: providerAnthropic, Err: ErrEmptyResponse}
	}
	return text.String(), nil
}

// Stream implements Client. The SDK delivers deltas through callbacks, so the
// request runs in its own goroutine and deltas are handed over on a channel.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		deltas := make(chan string, 16)
		errCh := make(chan error, 1)

		sr := anthropic.MessagesStreamRequest{MessagesRequest: c.request(req)}
		sr.OnContentBlockDelta = func(delta anthropic.MessagesEventContentBlockDeltaData) {
			if delta.Delta.Type == "text_delta" && delta.Delta.Text != nil {
				select {
				case deltas <- *delta.Delta.Text:
				case <-ctx.Done():
				}
			}
		}

		go func() {
			defer close(deltas)
			if _, err := c.client.CreateMessagesStream(ctx, sr); err != nil {
				errCh <- wrapError(providerAnthropic, err)
			}
		}()

		var acc accumulator
		for delta := range deltas {
			if !yield(acc.add(delta), nil) {
				cancel()
				for range deltas {
				}
				return
			}
		}
		select {
		case err := <-errCh:
			yield("", err)
		default:
		}
	}
}
