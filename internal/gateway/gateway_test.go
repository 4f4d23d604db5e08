package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	invokeBody []byte
	invokeErr  error
	lastInput  *bedrockruntime.InvokeModelInput
	deadline   bool
}

func (f *fakeRuntime) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.lastInput = in
	_, f.deadline = ctx.Deadline()
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.invokeBody}, nil
}

func (f *fakeRuntime) InvokeModelWithResponseStream(context.Context, *bedrockruntime.InvokeModelWithResponseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	return nil, errors.New("not used")
}

type fakeEvents struct {
	ch  chan types.ResponseStream
	err error
}

func newFakeEvents(err error, payloads ...string) *fakeEvents {
	ch := make(chan types.ResponseStream, len(payloads))
	for _, p := range payloads {
		ch <- &types.ResponseStreamMemberChunk{Value: types.PayloadPart{Bytes: []byte(p)}}
	}
	close(ch)
	return &fakeEvents{ch: ch, err: err}
}

func (f *fakeEvents) Events() <-chan types.ResponseStream { return f.ch }
func (f *fakeEvents) Close() error                        { return nil }
func (f *fakeEvents) Err() error                          { return f.err }

func delta(text string) string {
	data, _ := json.Marshal(map[string]any{
		"type":  "content_block_delta",
		"index": 0,
		"delta": map[string]string{"type": "text_delta", "text": text},
	})
	return string(data)
}

func float(v float64) *float64 { return &v }

func testConfig() BedrockConfig {
	return BedrockConfig{ModelID: "anthropic.test", MaxTokens: 1024, Temperature: float(0.5), TopP: float(0.9), Timeout: time.Second}
}

func TestNormalizeMessages(t *testing.T) {
	t.Parallel()

	got := normalizeMessages([]domain.Turn{
		domain.AssistantTurn("earlier reply"),
		domain.HumanTurn("make it shorter"),
		domain.HumanTurn("and friendlier"),
		domain.AssistantTurn(""),
	})
	assert.Equal(t, []wireMessage{
		{Role: "user", Content: leadingPlaceholder},
		{Role: "assistant", Content: "earlier reply"},
		{Role: "user", Content: "make it shorter\n\nand friendlier"},
	}, got)
}

func TestInvokeEncodesAnthropicBody(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{invokeBody: []byte(`{"content":[{"type":"text","text":"Thank you "},{"type":"text","text":"so much!"}],"stop_reason":"end_turn"}`)}
	b := NewBedrock(rt, testConfig(), nil)

	got, err := b.Invoke(context.Background(), Request{
		System:   "be polite",
		Messages: []domain.Turn{domain.HumanTurn("great product")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Thank you so much!", got)
	assert.True(t, rt.deadline, "call should carry a timeout")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rt.lastInput.Body, &body))
	assert.Equal(t, anthropicVersion, body["anthropic_version"])
	assert.Equal(t, "be polite", body["system"])
	assert.EqualValues(t, 1024, body["max_tokens"])
	assert.InDelta(t, 0.5, body["temperature"], 1e-9)
	assert.InDelta(t, 0.9, body["top_p"], 1e-9)
	assert.Equal(t, "anthropic.test", *rt.lastInput.ModelId)
}

func TestInvokeSendsExplicitZeroSampling(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{invokeBody: []byte(`{"content":[{"type":"text","text":"ok"}]}`)}
	b := NewBedrock(rt, testConfig(), nil)

	_, err := b.Invoke(context.Background(), Request{
		Messages:    []domain.Turn{domain.HumanTurn("hi")},
		Temperature: float(0),
		TopP:        float(0),
	})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rt.lastInput.Body, &body))
	require.Contains(t, body, "temperature")
	require.Contains(t, body, "top_p")
	assert.InDelta(t, 0.0, body["temperature"], 1e-9)
	assert.InDelta(t, 0.0, body["top_p"], 1e-9)
}

func TestInvokeOmitsUnsetSampling(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{invokeBody: []byte(`{"content":[{"type":"text","text":"ok"}]}`)}
	b := NewBedrock(rt, BedrockConfig{ModelID: "anthropic.test"}, nil)

	_, err := b.Invoke(context.Background(), Request{Messages: []domain.Turn{domain.HumanTurn("hi")}})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rt.lastInput.Body, &body))
	assert.NotContains(t, body, "temperature")
	assert.NotContains(t, body, "top_p")
}

func TestInvokeRejectsEmptyConversation(t *testing.T) {
	t.Parallel()

	b := NewBedrock(&fakeRuntime{}, testConfig(), nil)
	_, err := b.Invoke(context.Background(), Request{System: "x"})
	assert.ErrorIs(t, err, domain.ErrMissingInput)
}

func TestInvokeMapsFailuresToProviderUnavailable(t *testing.T) {
	t.Parallel()

	b := NewBedrock(&fakeRuntime{invokeErr: errors.New("throttled after retries")}, testConfig(), nil)
	_, err := b.Invoke(context.Background(), Request{Messages: []domain.Turn{domain.HumanTurn("hi")}})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestInvokePassesCallerCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewBedrock(&fakeRuntime{invokeErr: context.Canceled}, testConfig(), nil)
	_, err := b.Invoke(ctx, Request{Messages: []domain.Turn{domain.HumanTurn("hi")}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestStreamYieldsDeltasInOrder(t *testing.T) {
	t.Parallel()

	b := NewBedrock(&fakeRuntime{}, testConfig(), nil)
	b.openStream = func(context.Context, *bedrockruntime.InvokeModelWithResponseStreamInput) (eventReader, error) {
		return newFakeEvents(nil,
			`{"type":"message_start","message":{}}`,
			delta("Thanks "),
			delta("for "),
			delta("writing"),
			`{"type":"message_stop"}`,
			delta("ignored"),
		), nil
	}

	var chunks []string
	for chunk, err := range b.Stream(context.Background(), Request{Messages: []domain.Turn{domain.HumanTurn("hi")}}) {
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
	assert.Equal(t, []string{"Thanks ", "for ", "writing"}, chunks)
}

func TestStreamSurfacesReaderError(t *testing.T) {
	t.Parallel()

	b := NewBedrock(&fakeRuntime{}, testConfig(), nil)
	b.openStream = func(context.Context, *bedrockruntime.InvokeModelWithResponseStreamInput) (eventReader, error) {
		return newFakeEvents(errors.New("connection reset"), delta("partial")), nil
	}

	text, err := Collect(b.Stream(context.Background(), Request{Messages: []domain.Turn{domain.HumanTurn("hi")}}))
	assert.Equal(t, "partial", text)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestStreamWithoutMessageStopIsTruncated(t *testing.T) {
	t.Parallel()

	b := NewBedrock(&fakeRuntime{}, testConfig(), nil)
	b.openStream = func(context.Context, *bedrockruntime.InvokeModelWithResponseStreamInput) (eventReader, error) {
		return newFakeEvents(nil, delta("Thanks for")), nil
	}

	text, err := Collect(b.Stream(context.Background(), Request{Messages: []domain.Turn{domain.HumanTurn("hi")}}))
	assert.Equal(t, "Thanks for", text)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "message_stop")
}

func TestStreamOpenFailure(t *testing.T) {
	t.Parallel()

	b := NewBedrock(&fakeRuntime{}, testConfig(), nil)
	b.openStream = func(context.Context, *bedrockruntime.InvokeModelWithResponseStreamInput) (eventReader, error) {
		return nil, errors.New("access denied")
	}
	_, err := Collect(b.Stream(context.Background(), Request{Messages: []domain.Turn{domain.HumanTurn("hi")}}))
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestDecodeStreamEvent(t *testing.T) {
	t.Parallel()

	text, done, err := decodeStreamEvent([]byte(delta("x")))
	require.NoError(t, err)
	assert.Equal(t, "x", text)
	assert.False(t, done)

	_, done, err = decodeStreamEvent([]byte(`{"type":"message_stop"}`))
	require.NoError(t, err)
	assert.True(t, done)

	_, _, err = decodeStreamEvent([]byte(`{`))
	assert.Error(t, err)
}
