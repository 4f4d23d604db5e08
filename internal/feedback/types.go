package feedback

import (
	"encoding/json"
	"fmt"

	"github.com/ashureev/feedback-ai/internal/pipeline"
)

// ReplyRequest asks for a fresh reply to one review.
type ReplyRequest struct {
	SessionKey string
	Review     string
	Username   string
	Window     int
	OnChunk    func(string) error
}

// ReviseRequest asks for a revision of the session's latest reply.
type ReviseRequest struct {
	SessionKey    string
	Modifications string
	Window        int
	OnChunk       func(string) error
}

// FeedbackItem is one customer's feedback in a batch.
type FeedbackItem struct {
	ID       any `json:"ID"`
	Customer struct {
		Name *string `json:"Name"`
	} `json:"Customer"`
	Review struct {
		Text string `json:"Text"`
	} `json:"Review"`
	Surveys []Survey `json:"Surveys"`
}

// Survey carries the raw survey questions attached to a feedback item.
type Survey struct {
	Questions json.RawMessage `json:"Questions"`
}

// BatchRequest is the batch generation input.
type BatchRequest struct {
	CorePrompt    string         `json:"Core Prompt"`
	ContextPrompt string         `json:"Context Prompt"`
	Feedback      []FeedbackItem `json:"Feedback Data"`
}

// ItemResponse is the generated content for one feedback item.
type ItemResponse struct {
	FeedbackID       any      `json:"feedback_id"`
	Default          string   `json:"Default"`
	MoreFriendly     string   `json:"More_friendly"`
	MoreProfessional string   `json:"More_Professional"`
	MoreConcise      string   `json:"More_Concise"`
	Summary          string   `json:"Summary"`
	Sentiment        string   `json:"Sentiment"`
	PositiveThemes   []string `json:"Positive_Themes"`
	NegativeThemes   []string `json:"Negative_Themes"`
}

// Overview merges the per-item results of a batch.
type Overview struct {
	Summary        string   `json:"Summary"`
	Sentiment      *string  `json:"Sentiment"`
	PositiveThemes []string `json:"Positive_Themes"`
	NegativeThemes []string `json:"Negative_Themes"`
}

// BatchDocument is the persisted result of a batch run.
type BatchDocument struct {
	Overview  Overview       `json:"Overview"`
	Responses []ItemResponse `json:"Responses"`
	SessionID string         `json:"session_id"`
}

// BatchResult is a batch document plus any non-fatal warning.
type BatchResult struct {
	Document *BatchDocument
	Warning  string
}

// StoredRevisionRequest revises one response of a stored batch document.
type StoredRevisionRequest struct {
	SessionID     string `json:"session_id"`
	FeedbackID    any    `json:"feedback_id"`
	Modifications string `json:"modifications"`
}

// ThemeResult classifies a single comment.
type ThemeResult struct {
	ThemeCategory []string `json:"theme_category"`
	Sentiment     string   `json:"sentiment"`
}

// ReplyResult is the outcome of a reply or revision.
type ReplyResult = pipeline.Result

func sameID(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}
