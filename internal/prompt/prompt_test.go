package prompt

import (
	"testing"

	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariables(t *testing.T) {
	t.Parallel()

	tmpl := Template{Name: "t", Text: "{b} and {a} and {{literal}} and {a}"}
	assert.Equal(t, []string{"a", "b"}, tmpl.Variables())
	assert.Equal(t, []string{"classes", "comment"}, Themes.Variables())
}

func TestBuildRendersPlaceholders(t *testing.T) {
	t.Parallel()

	got, err := Build(ReviseStored, map[string]string{
		"review":        "Thanks for your order",
		"modifications": "Make it shorter",
	})
	require.NoError(t, err)
	assert.Equal(t, "Thanks for your order.\nMake it shorter", got)
}

func TestBuildValuesAreNotReinterpreted(t *testing.T) {
	t.Parallel()

	got, err := Build(Reply, map[string]string{"username": "{admin}"})
	require.NoError(t, err)
	assert.Contains(t, got, "{admin}")
}

func TestBuildMissingVariable(t *testing.T) {
	t.Parallel()

	_, err := Build(Grade, map[string]string{"review": "x"})
	require.ErrorIs(t, err, domain.ErrMissingVariable)
	assert.Contains(t, err.Error(), "survey_data")
}

func TestConversationOrder(t *testing.T) {
	t.Parallel()

	history := []domain.Turn{domain.HumanTurn("first"), domain.AssistantTurn("reply")}
	req := Conversation("system", history, "second")

	assert.Equal(t, "system", req.System)
	assert.Equal(t, []domain.Turn{
		domain.HumanTurn("first"),
		domain.AssistantTurn("reply"),
		domain.HumanTurn("second"),
	}, req.Messages)

	history[0].Content = "changed"
	assert.Equal(t, "first", req.Messages[0].Content)
}

func TestBuildBatchIsIndependentPerItem(t *testing.T) {
	t.Parallel()

	out, err := BuildBatch(Reply, []map[string]string{
		{"username": "Ada"},
		{"username": "Lin"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Contains(t, out[0], "Ada")
	assert.NotContains(t, out[0], "Lin")
	assert.Contains(t, out[1], "Lin")

	_, err = BuildBatch(Reply, []map[string]string{{"username": "Ada"}, {}})
	assert.ErrorIs(t, err, domain.ErrMissingVariable)
}
