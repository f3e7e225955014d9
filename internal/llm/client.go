// Package llm provides provider-agnostic access to text generation backends
// with rate-limit aware retries.
package llm

import (
	"context"
	"iter"
	"strings"
)

// Request is a single-turn generation request.
type Request struct {
	System string
	Prompt string
	// JSON asks the backend for a JSON object response where supported.
	JSON        bool
	Temperature *float32
	MaxTokens   int
}

// Client generates text from a request.
type Client interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// Complete returns the full response text.
	Complete(ctx context.Context, req Request) (string, error)

	// Stream yields the accumulated response text each time more arrives.
	// Every value is the entire text so far, never a delta. A failed
	// sequence ends with a non-nil error.
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Options are provider defaults applied when a request leaves them unset.
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

func (o Options) temperature(req Request) float32 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return o.Temperature
}

func (o Options) maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return 4096
}

// Collect drains a stream and returns its final text.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var last string
	for text, err := range seq {
		if err != nil {
			return last, err
		}
		last = text
	}
	return last, nil
}

// accumulator turns a sequence of deltas into cumulative snapshots.
type accumulator struct {
	b strings.Builder
}

func (a *accumulator) add(delta string) string {
	a.b.WriteString(delta)
	return a.b.String()
}
