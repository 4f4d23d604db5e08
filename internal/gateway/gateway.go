// Package gateway adapts hosted language models to a buffered or streamed
// text interface.
package gateway

import (
	"context"
	"iter"
	"strings"

	"github.com/ashureev/feedback-ai/internal/domain"
)

// Gateway invokes a hosted model.
//
// Both methods fail with domain.ErrProviderUnavailable once the provider's
// retry budget or the per-call timeout is exhausted. A cancelled caller
// context is returned as-is.
type Gateway interface {
	Invoke(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Request is one model call. Zero MaxTokens and nil sampling fields fall
// back to the gateway's configured defaults.
type Request struct {
	System      string
	Messages    []domain.Turn
	MaxTokens   int
	Temperature *float64
	TopP        *float64
}

// Collect drains a stream into a single string.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}
