package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/ashureev/feedback-ai/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chats.db")
	repo, err := store.NewSQLite(path)
	require.NoError(t, err)
	defer repo.Close()

	cost := 0.25
	base := time.Now().UTC()
	for i, key := range []string{"a", "a", "b"} {
		require.NoError(t, repo.AppendChatLog(context.Background(), &domain.ChatLogRecord{
			SessionKey:    key,
			ModelResponse: "Thank you for your feedback",
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			Latency:       1.5,
			TokensUsed:    10,
			Cost:          &cost,
		}))
	}
	return path
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestStatsCommand(t *testing.T) {
	db := seedDB(t)

	text := run(t, "--db", db, "stats")
	assert.Contains(t, text, "Total requests")
	assert.Contains(t, text, "$0.750000")

	var stats domain.ChatLogStats
	require.NoError(t, json.Unmarshal([]byte(run(t, "--db", db, "--json", "stats")), &stats))
	assert.Equal(t, 3, stats.TotalRequests)
	assert.Equal(t, 2, stats.Sessions)
}

func TestListCommand(t *testing.T) {
	db := seedDB(t)

	var all []*domain.ChatLogRecord
	require.NoError(t, json.Unmarshal([]byte(run(t, "--db", db, "--json", "list", "--limit", "2")), &all))
	assert.Len(t, all, 2)

	var session []*domain.ChatLogRecord
	require.NoError(t, json.Unmarshal([]byte(run(t, "--db", db, "--json", "list", "--session", "a")), &session))
	require.Len(t, session, 2)
	assert.Equal(t, "a", session[0].SessionKey)

	table := run(t, "--db", db, "list")
	assert.Contains(t, table, "SESSION")
	assert.Contains(t, table, "Thank you for your feedback")
}

func TestListRejectsBadLimit(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", seedDB(t), "list", "--limit", "0"})
	assert.Error(t, cmd.Execute())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
