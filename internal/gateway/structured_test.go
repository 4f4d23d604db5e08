package gateway_test

import (
	"context"
	"strings"
	"testing"

	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/ashureev/feedback-ai/internal/gateway"
	"github.com/ashureev/feedback-ai/internal/gateway/gatewaytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var themesSchema = gateway.NewSchema(
	gateway.Field{Name: "theme_category", Description: "list of matching classes"},
	gateway.Field{Name: "sentiment", Description: "positive, negative or neutral"},
)

func TestInvokeStructuredParsesFencedJSON(t *testing.T) {
	t.Parallel()

	stub := &gatewaytest.Stub{Responses: []string{"Here you go:\n```json\n{\"theme_category\": [\"Warranty Issues\"], \"sentiment\": \"negative\"}\n```"}}
	fields, raw, err := gateway.InvokeStructured(context.Background(), stub, gateway.Request{
		Messages: []domain.Turn{domain.HumanTurn("classify this")},
	}, themesSchema)
	require.NoError(t, err)
	assert.Contains(t, raw, "```json")
	assert.Equal(t, []string{"Warranty Issues"}, gateway.Strings(fields, "theme_category"))
	assert.Equal(t, "negative", gateway.String(fields, "sentiment"))

	sent := stub.Requests()[0].Messages
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0].Content, "classify this"))
	assert.Contains(t, sent[0].Content, "theme_category")
	assert.Contains(t, sent[0].Content, "sentiment")
}

func TestInvokeStructuredMissingKey(t *testing.T) {
	t.Parallel()

	stub := &gatewaytest.Stub{Responses: []string{`{"theme_category": []}`}}
	_, _, err := gateway.InvokeStructured(context.Background(), stub, gateway.Request{
		Messages: []domain.Turn{domain.HumanTurn("x")},
	}, themesSchema)
	assert.ErrorIs(t, err, domain.ErrMalformedModelOutput)
}

func TestInvokeStructuredNotJSON(t *testing.T) {
	t.Parallel()

	stub := &gatewaytest.Stub{Responses: []string{"I cannot help with that."}}
	_, _, err := gateway.InvokeStructured(context.Background(), stub, gateway.Request{
		Messages: []domain.Turn{domain.HumanTurn("x")},
	}, themesSchema)
	assert.ErrorIs(t, err, domain.ErrMalformedModelOutput)
}

func TestInvokeStructuredProviderFailure(t *testing.T) {
	t.Parallel()

	stub := &gatewaytest.Stub{Err: domain.ErrProviderUnavailable}
	_, _, err := gateway.InvokeStructured(context.Background(), stub, gateway.Request{
		Messages: []domain.Turn{domain.HumanTurn("x")},
	}, themesSchema)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestStringsAndString(t *testing.T) {
	t.Parallel()

	fields := map[string]any{"list": []any{"a", " ", "b"}, "one": "solo", "num": 3.0}
	assert.Equal(t, []string{"a", "b"}, gateway.Strings(fields, "list"))
	assert.Equal(t, []string{"solo"}, gateway.Strings(fields, "one"))
	assert.Empty(t, gateway.Strings(fields, "missing"))
	assert.Equal(t, "3", gateway.String(fields, "num"))
}

func TestStubStreamMatchesInvoke(t *testing.T) {
	t.Parallel()

	const text = "Thank you for the kind words about our product"
	stub := &gatewaytest.Stub{Responses: []string{text}, ChunkSize: 7}
	req := gateway.Request{Messages: []domain.Turn{domain.HumanTurn("x")}}

	streamed, err := gateway.Collect(stub.Stream(context.Background(), req))
	require.NoError(t, err)
	buffered, err := stub.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, buffered, streamed)
}
