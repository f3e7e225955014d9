package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"
)

const providerGemini = "gemini"

// GeminiClient generates text with the Gemini API.
type GeminiClient struct {
	client *genai.Client
	opts   Options
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, apiKey string, opts Options) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, opts: opts}, nil
}

// Name implements Client.
func (c *GeminiClient) Name() string { return providerGemini }

func (c *GeminiClient) config(req Request) *genai.GenerateContentConfig {
	temp := c.opts.temperature(req)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(c.opts.maxTokens(req)),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

// Complete implements Client.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, c.opts.Model, contents, c.config(req))
	if err != nil {
		return "", wrapGeminiError(err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &Error{Provider: providerGemini, Err: ErrEmptyResponse}
	}
	return text, nil
}

// Stream implements Client.
func (c *GeminiClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
		var acc accumulator
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.opts.Model, contents, c.config(req)) {
			if err != nil {
				yield("", wrapGeminiError(err))
				return
			}
			delta := resp.Text()
			if delta == "" {
				continue
			}
			if !yield(acc.add(delta), nil) {
				return
			}
		}
	}
}

// wrapGeminiError reads status and RetryInfo details from an API error.
func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return wrapError(providerGemini, err)
	}
	out := &Error{Provider: providerGemini, HTTPStatus: apiErr.Code, Err: err}
	for _, detail := range apiErr.Details {
		if t, _ := detail["@type"].(string); !strings.HasSuffix(t, "google.rpc.RetryInfo") {
			continue
		}
		if delay, ok := detail["retryDelay"].(string); ok {
			out.RetryAfter = parseRetryAfter(delay)
		}
	}
	if out.RetryAfter == 0 {
		out.RetryAfter = parseRetryAfterText(apiErr.Message)
	}
	return out
}
