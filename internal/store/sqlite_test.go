package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "chats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func TestAppendAndListRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)

	first := &domain.ChatLogRecord{
		SessionKey:    "abc",
		UserFeedback:  ptr("great product"),
		History:       domain.HistorySnapshot(nil),
		ModelResponse: "Thank you!",
		Timestamp:     ts,
		Latency:       0.42,
		TokensUsed:    12,
		Cost:          ptr(0.0031),
	}
	require.NoError(t, s.AppendChatLog(ctx, first))
	assert.NotEmpty(t, first.ID)

	second := &domain.ChatLogRecord{
		SessionKey:         "abc",
		ModificationNeeded: ptr("shorter"),
		History:            domain.HistorySnapshot([]domain.Turn{domain.HumanTurn("great product"), domain.AssistantTurn("Thank you!")}),
		ModelResponse:      "Thanks!",
		Timestamp:          ts.Add(time.Second),
		Latency:            0.1,
		TokensUsed:         5,
	}
	require.NoError(t, s.AppendChatLog(ctx, second))
	require.NoError(t, s.AppendChatLog(ctx, &domain.ChatLogRecord{SessionKey: "other", ModelResponse: "x"}))

	got, err := s.ListChatLogs(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, "great product", *got[0].UserFeedback)
	assert.Nil(t, got[0].ModificationNeeded)
	assert.Equal(t, ts, got[0].Timestamp)
	assert.InDelta(t, 0.42, got[0].Latency, 1e-9)
	assert.Equal(t, 12, got[0].TokensUsed)
	require.NotNil(t, got[0].Cost)
	assert.InDelta(t, 0.0031, *got[0].Cost, 1e-12)

	assert.Nil(t, got[1].UserFeedback)
	assert.Equal(t, "shorter", *got[1].ModificationNeeded)
	assert.Nil(t, got[1].Cost)
	assert.Contains(t, got[1].History, "great product")
}

func TestListUnknownSession(t *testing.T) {
	t.Parallel()

	got, err := newTestStore(t).ListChatLogs(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecentAndStats(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalRequests)

	base := time.Now().UTC()
	for i, sess := range []string{"a", "a", "b"} {
		require.NoError(t, s.AppendChatLog(ctx, &domain.ChatLogRecord{
			SessionKey:    sess,
			ModelResponse: "r",
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			Latency:       float64(i + 1),
			TokensUsed:    10 * (i + 1),
			Cost:          ptr(0.5),
		}))
	}

	recent, err := s.RecentChatLogs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].SessionKey)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalRequests)
	assert.Equal(t, 2, st.Sessions)
	assert.InDelta(t, 2.0, st.AverageLatency, 1e-9)
	assert.EqualValues(t, 60, st.TotalTokens)
	assert.InDelta(t, 20.0, st.AverageTokens, 1e-9)
	assert.InDelta(t, 1.5, st.TotalCost, 1e-9)
	assert.InDelta(t, 0.5, st.AverageCost, 1e-9)
}

func TestPing(t *testing.T) {
	t.Parallel()

	require.NoError(t, newTestStore(t).Ping(context.Background()))
}

func TestWithRetry(t *testing.T) {
	t.Parallel()

	calls := 0
	err := withRetry(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = withRetry(context.Background(), "test", func() error {
		calls++
		return errors.New("constraint failed")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
