// Package domain holds the value types shared by every layer of the service.
package domain

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a session's conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// HumanTurn builds a turn authored by the caller.
func HumanTurn(content string) Turn {
	return Turn{Role: RoleHuman, Content: content}
}

// AssistantTurn builds a turn authored by the model.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// ChatLogRecord is one append-only row describing a completed model call.
type ChatLogRecord struct {
	ID                 string    `json:"id"`
	SessionKey         string    `json:"session_key"`
	UserFeedback       *string   `json:"user_feedback,omitempty"`
	ModificationNeeded *string   `json:"modification_needed,omitempty"`
	History            string    `json:"history"`
	ModelResponse      string    `json:"model_response"`
	Timestamp          time.Time `json:"timestamp"`
	Latency            float64   `json:"latency"`
	TokensUsed         int       `json:"tokens_used"`
	Cost               *float64  `json:"cost,omitempty"`
}

// HistorySnapshot serializes the turns that were sent alongside a call.
func HistorySnapshot(turns []Turn) string {
	if len(turns) == 0 {
		return "[]"
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// ChatLogStats aggregates the chat log for reporting.
type ChatLogStats struct {
	TotalRequests  int     `json:"total_requests"`
	AverageLatency float64 `json:"average_latency"`
	TotalTokens    int64   `json:"total_tokens"`
	AverageTokens  float64 `json:"average_tokens"`
	TotalCost      float64 `json:"total_cost"`
	AverageCost    float64 `json:"average_cost"`
	Sessions       int     `json:"sessions"`
}
