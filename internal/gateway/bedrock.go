package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
)

const anthropicVersion = "bedrock-2023-05-31"

// RuntimeAPI is the subset of the Bedrock runtime client used here.
type RuntimeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

// eventReader is satisfied by the SDK's response event stream.
type eventReader interface {
	Events() <-chan types.ResponseStream
	Close() error
	Err() error
}

// BedrockConfig holds the model identity and sampling defaults. A nil
// Temperature or TopP leaves the parameter to the model.
type BedrockConfig struct {
	ModelID     string
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	Timeout     time.Duration
}

// Bedrock invokes Anthropic models hosted on AWS Bedrock. Transient
// failures are retried by the SDK's standard retryer configured on the
// client; nothing is retried again here.
type Bedrock struct {
	client     RuntimeAPI
	cfg        BedrockConfig
	logger     *slog.Logger
	openStream func(ctx context.Context, in *bedrockruntime.InvokeModelWithResponseStreamInput) (eventReader, error)
}

// NewBedrock creates a Bedrock gateway over client.
func NewBedrock(client RuntimeAPI, cfg BedrockConfig, logger *slog.Logger) *Bedrock {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	b := &Bedrock{client: client, cfg: cfg, logger: logger}
	b.openStream = func(ctx context.Context, in *bedrockruntime.InvokeModelWithResponseStreamInput) (eventReader, error) {
		out, err := b.client.InvokeModelWithResponseStream(ctx, in)
		if err != nil {
			return nil, err
		}
		return out.GetStream(), nil
	}
	return b
}

// ModelID returns the configured model identifier.
func (b *Bedrock) ModelID() string {
	return b.cfg.ModelID
}

type anthropicRequest struct {
	AnthropicVersion string        `json:"anthropic_version"`
	MaxTokens        int           `json:"max_tokens"`
	System           string        `json:"system,omitempty"`
	Messages         []wireMessage `json:"messages"`
	Temperature      *float64      `json:"temperature,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (b *Bedrock) encode(req Request) ([]byte, error) {
	messages := normalizeMessages(req.Messages)
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: request has no messages", domain.ErrMissingInput)
	}
	body := anthropicRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        b.cfg.MaxTokens,
		System:           req.System,
		Messages:         messages,
		Temperature:      b.cfg.Temperature,
		TopP:             b.cfg.TopP,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		body.Temperature = req.Temperature
	}
	if req.TopP != nil {
		body.TopP = req.TopP
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode model request: %w", err)
	}
	return data, nil
}

// Invoke returns the complete model response.
func (b *Bedrock) Invoke(ctx context.Context, req Request) (string, error) {
	body, err := b.encode(req)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	out, err := b.client.InvokeModel(callCtx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.cfg.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", b.providerError(ctx, "invoke", err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode model response: %v", domain.ErrProviderUnavailable, err)
	}
	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "" || c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	return text.String(), nil
}

// Stream yields response text fragments in arrival order.
func (b *Bedrock) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := b.encode(req)
		if err != nil {
			yield("", err)
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()

		reader, err := b.openStream(callCtx, &bedrockruntime.InvokeModelWithResponseStreamInput{
			ModelId:     aws.String(b.cfg.ModelID),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			yield("", b.providerError(ctx, "stream", err))
			return
		}
		defer func() {
			if closeErr := reader.Close(); closeErr != nil {
				b.logger.Debug("close model stream", "error", closeErr)
			}
		}()

		events := reader.Events()
		for {
			select {
			case <-callCtx.Done():
				yield("", b.providerError(ctx, "stream", callCtx.Err()))
				return
			case ev, ok := <-events:
				if !ok {
					if err := reader.Err(); err != nil {
						yield("", b.providerError(ctx, "stream", err))
						return
					}
					// closed before message_stop: the reply is truncated
					b.logger.Error("Model stream ended early", "model", b.cfg.ModelID)
					yield("", fmt.Errorf("%w: stream ended before message_stop", domain.ErrProviderUnavailable))
					return
				}
				chunk, isChunk := ev.(*types.ResponseStreamMemberChunk)
				if !isChunk {
					continue
				}
				text, done, err := decodeStreamEvent(chunk.Value.Bytes)
				if err != nil {
					yield("", fmt.Errorf("%w: decode stream event: %v", domain.ErrProviderUnavailable, err))
					return
				}
				if text != "" && !yield(text, nil) {
					return
				}
				if done {
					return
				}
			}
		}
	}
}

// decodeStreamEvent extracts delta text from one payload and reports
// whether the message is complete.
func decodeStreamEvent(payload []byte) (string, bool, error) {
	var ev streamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", false, err
	}
	switch ev.Type {
	case "content_block_delta":
		return ev.Delta.Text, false, nil
	case "message_stop":
		return "", true, nil
	default:
		return "", false, nil
	}
}

// providerError classifies a failed call. Caller cancellation passes
// through; everything else, including the per-call deadline, is reported as
// an unavailable provider.
func (b *Bedrock) providerError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	attrs := []any{"op", op, "model", b.cfg.ModelID, "error", err}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		attrs = append(attrs, "code", apiErr.ErrorCode(), "fault", apiErr.ErrorFault().String())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		attrs = append(attrs, "timeout", b.cfg.Timeout)
	}
	b.logger.Error("Model call failed", attrs...)

	return fmt.Errorf("%w: %s: %v", domain.ErrProviderUnavailable, op, err)
}
