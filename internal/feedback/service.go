// Package feedback implements the customer feedback operations on top of
// the response pipeline.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/ashureev/feedback-ai/internal/blob"
	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/ashureev/feedback-ai/internal/gateway"
	"github.com/ashureev/feedback-ai/internal/pipeline"
	"github.com/ashureev/feedback-ai/internal/prompt"
	"github.com/ashureev/feedback-ai/internal/session"
	"golang.org/x/sync/errgroup"
)

const contextMarker = "Context details:"

var gradeSchema = gateway.NewSchema(
	gateway.Field{Name: "Default", Description: "the reply to the customer review"},
	gateway.Field{Name: "More_friendly", Description: "the reply written in a friendlier way"},
	gateway.Field{Name: "More_Professional", Description: "the reply written in a more professional way"},
	gateway.Field{Name: "More_Concise", Description: "the reply written in a more concise way"},
	gateway.Field{Name: "Summary", Description: "a summary of the conversation"},
	gateway.Field{Name: "Sentiment", Description: "promoter or non-promoter"},
	gateway.Field{Name: "Positive_Themes", Description: "list of positives, empty list when none"},
	gateway.Field{Name: "Negative_Themes", Description: "list of negatives, empty list when none"},
)

var themesSchema = gateway.NewSchema(
	gateway.Field{Name: "theme_category", Description: "list of classes taken strictly from the given classes"},
	gateway.Field{Name: "sentiment", Description: "one of positive, negative or neutral"},
)

// Config tunes the service.
type Config struct {
	ResultsPrefix string
	Concurrency   int
	Window        int
	Classes       []string
}

// Service runs every feedback operation through one pipeline.
type Service struct {
	pipeline *pipeline.Pipeline
	blobs    blob.Store
	cfg      Config
	logger   *slog.Logger
	docs     docLocks
}

// NewService creates a Service.
func NewService(p *pipeline.Pipeline, blobs blob.Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ResultsPrefix == "" {
		cfg.ResultsPrefix = "Data/"
	}
	if len(cfg.Classes) == 0 {
		cfg.Classes = DefaultClasses
	}
	return &Service{pipeline: p, blobs: blobs, cfg: cfg, logger: logger}
}

// Reply generates a reply to a review, continuing the session's history.
func (s *Service) Reply(ctx context.Context, req ReplyRequest) (*ReplyResult, error) {
	review := strings.TrimSpace(req.Review)
	if review == "" {
		return nil, fmt.Errorf("%w: review is required", domain.ErrMissingInput)
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = "the customer"
	}
	system, err := prompt.Build(prompt.Reply, map[string]string{"username": username})
	if err != nil {
		return nil, err
	}

	return s.pipeline.Run(ctx, pipeline.Request{
		SessionKey: req.SessionKey,
		Feedback:   &review,
		System:     system,
		Input:      review,
		History:    true,
		Window:     s.window(req.Window),
		OnChunk:    req.OnChunk,
	})
}

// Revise rewrites the session's latest reply according to modifications.
func (s *Service) Revise(ctx context.Context, req ReviseRequest) (*ReplyResult, error) {
	mods := strings.TrimSpace(req.Modifications)
	if mods == "" {
		return nil, fmt.Errorf("%w: modifications are required", domain.ErrMissingInput)
	}
	if req.SessionKey == "" {
		return nil, fmt.Errorf("%w: session_key is required", domain.ErrMissingInput)
	}
	if sess, ok := s.pipeline.Sessions().Get(req.SessionKey); !ok || len(sess.Turns) == 0 {
		return nil, fmt.Errorf("%w: no conversation for session %s", domain.ErrNotFound, req.SessionKey)
	}

	return s.pipeline.Run(ctx, pipeline.Request{
		SessionKey:   req.SessionKey,
		Modification: &mods,
		System:       prompt.Revise.Text,
		Input:        mods,
		History:      true,
		Window:       s.window(req.Window),
		OnChunk:      req.OnChunk,
	})
}

// WriteBatch grades every feedback item, summarizes the batch and stores
// the resulting document. Items are generated concurrently and reported in
// input order. Failing to store the document is a warning.
func (s *Service) WriteBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Feedback) == 0 {
		return nil, fmt.Errorf("%w: Feedback Data is empty", domain.ErrMissingInput)
	}
	sessionID := session.NewKey()
	details, contextText := splitContext(req.ContextPrompt)

	responses := make([]ItemResponse, len(req.Feedback))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, item := range req.Feedback {
		g.Go(func() error {
			resp, err := s.gradeItem(gctx, sessionID, req.CorePrompt, details, contextText, item)
			if err != nil {
				return fmt.Errorf("feedback %v: %w", item.ID, err)
			}
			responses[i] = *resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary, err := s.summarize(ctx, sessionID, responses)
	if err != nil {
		return nil, fmt.Errorf("summarize batch: %w", err)
	}

	doc := &BatchDocument{
		Overview:  s.overview(sessionID, summary, responses),
		Responses: responses,
		SessionID: sessionID,
	}
	result := &BatchResult{Document: doc}
	if err := s.saveDocument(ctx, doc); err != nil {
		result.Warning = err.Error()
		s.logger.Error("Failed to store batch document", "session_id", sessionID, "error", err)
	}

	s.logger.Info("Batch complete", "session_id", sessionID, "items", len(responses))
	return result, nil
}

func (s *Service) gradeItem(ctx context.Context, sessionID, policy, details, contextText string, item FeedbackItem) (*ItemResponse, error) {
	review := strings.TrimSpace(item.Review.Text)
	if review == "" {
		return nil, fmt.Errorf("%w: review text is empty", domain.ErrMissingInput)
	}
	username := "the customer"
	if item.Customer.Name != nil && strings.TrimSpace(*item.Customer.Name) != "" {
		username = strings.TrimSpace(*item.Customer.Name)
	}

	input, err := prompt.Build(prompt.Grade, map[string]string{
		"details":     details,
		"context":     contextText,
		"policy":      policy,
		"username":    username,
		"review":      review,
		"survey_data": surveyText(item.Surveys),
	})
	if err != nil {
		return nil, err
	}

	res, err := s.pipeline.Run(ctx, pipeline.Request{
		SessionKey: sessionID,
		Feedback:   &review,
		Input:      input,
		Schema:     &gradeSchema,
	})
	if err != nil {
		return nil, err
	}

	f := res.Fields
	return &ItemResponse{
		FeedbackID:       item.ID,
		Default:          gateway.String(f, "Default"),
		MoreFriendly:     gateway.String(f, "More_friendly"),
		MoreProfessional: gateway.String(f, "More_Professional"),
		MoreConcise:      gateway.String(f, "More_Concise"),
		Summary:          gateway.String(f, "Summary"),
		Sentiment:        gateway.String(f, "Sentiment"),
		PositiveThemes:   gateway.Strings(f, "Positive_Themes"),
		NegativeThemes:   gateway.Strings(f, "Negative_Themes"),
	}, nil
}

func (s *Service) summarize(ctx context.Context, sessionID string, responses []ItemResponse) (string, error) {
	replies := make([]string, len(responses))
	for i, r := range responses {
		replies[i] = r.Default
	}
	system, err := prompt.Build(prompt.Summary, map[string]string{"responses": strings.Join(replies, "\n")})
	if err != nil {
		return "", err
	}
	input, err := prompt.Build(prompt.SummaryInput, map[string]string{"count": strconv.Itoa(len(responses))})
	if err != nil {
		return "", err
	}
	res, err := s.pipeline.Run(ctx, pipeline.Request{SessionKey: sessionID, System: system, Input: input})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Response), nil
}

// overview picks the batch sentiment and merges themes, keeping first
// appearance order.
func (s *Service) overview(sessionID, summary string, responses []ItemResponse) Overview {
	var sentiments []string
	positive := []string{}
	negative := []string{}
	for _, r := range responses {
		if r.Sentiment != "" && !slices.Contains(sentiments, r.Sentiment) {
			sentiments = append(sentiments, r.Sentiment)
		}
		positive = appendUnique(positive, r.PositiveThemes...)
		negative = appendUnique(negative, r.NegativeThemes...)
	}
	if len(sentiments) != 1 {
		s.logger.Warn("Batch does not share a single sentiment", "session_id", sessionID, "sentiments", sentiments)
	}

	ov := Overview{Summary: summary, PositiveThemes: positive, NegativeThemes: negative}
	if len(sentiments) > 0 {
		ov.Sentiment = &sentiments[0]
	}
	return ov
}

// ReviseStored regenerates one stored response and writes the document back.
// Revisions of the same document run one at a time within this process.
func (s *Service) ReviseStored(ctx context.Context, req StoredRevisionRequest) (string, error) {
	mods := strings.TrimSpace(req.Modifications)
	if req.SessionID == "" || req.FeedbackID == nil || mods == "" {
		return "", fmt.Errorf("%w: session_id, feedback_id and modifications are required", domain.ErrMissingInput)
	}

	unlock, err := s.docs.lock(ctx, req.SessionID)
	if err != nil {
		return "", err
	}
	defer unlock()

	doc, err := s.loadDocument(ctx, req.SessionID)
	if err != nil {
		return "", err
	}
	idx := slices.IndexFunc(doc.Responses, func(r ItemResponse) bool { return sameID(r.FeedbackID, req.FeedbackID) })
	if idx < 0 {
		return "", fmt.Errorf("%w: feedback %v in session %s", domain.ErrNotFound, req.FeedbackID, req.SessionID)
	}

	input, err := prompt.Build(prompt.ReviseStored, map[string]string{
		"review":        doc.Responses[idx].Default,
		"modifications": mods,
	})
	if err != nil {
		return "", err
	}
	res, err := s.pipeline.Run(ctx, pipeline.Request{
		SessionKey:   req.SessionID,
		Modification: &mods,
		Input:        input,
	})
	if err != nil {
		return "", err
	}

	doc.Responses[idx].Default = strings.TrimSpace(res.Response)
	if err := s.saveDocument(ctx, doc); err != nil {
		return "", err
	}
	return doc.Responses[idx].Default, nil
}

// ClassifyThemes tags a comment with configured classes and a sentiment.
// Classes the model invents are dropped.
func (s *Service) ClassifyThemes(ctx context.Context, comment string) (*ThemeResult, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, fmt.Errorf("%w: comment is required", domain.ErrMissingInput)
	}
	input, err := prompt.Build(prompt.Themes, map[string]string{
		"classes": strings.Join(s.cfg.Classes, ", "),
		"comment": comment,
	})
	if err != nil {
		return nil, err
	}
	res, err := s.pipeline.Run(ctx, pipeline.Request{Feedback: &comment, Input: input, Schema: &themesSchema})
	if err != nil {
		return nil, err
	}

	sentiment := strings.ToLower(strings.TrimSpace(gateway.String(res.Fields, "sentiment")))
	switch sentiment {
	case "positive", "negative", "neutral":
	default:
		return nil, fmt.Errorf("%w: unexpected sentiment %q", domain.ErrMalformedModelOutput, sentiment)
	}

	themes := []string{}
	for _, t := range gateway.Strings(res.Fields, "theme_category") {
		if i := slices.IndexFunc(s.cfg.Classes, func(c string) bool { return strings.EqualFold(c, t) }); i >= 0 {
			themes = appendUnique(themes, s.cfg.Classes[i])
		}
	}
	return &ThemeResult{ThemeCategory: themes, Sentiment: sentiment}, nil
}

func (s *Service) saveDocument(ctx context.Context, doc *BatchDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode document: %v", domain.ErrStorageFailure, err)
	}
	if err := s.blobs.Put(ctx, blob.ResultKey(s.cfg.ResultsPrefix, doc.SessionID), data); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	return nil
}

func (s *Service) loadDocument(ctx context.Context, sessionID string) (*BatchDocument, error) {
	if _, ok := session.SanitizeKey(sessionID); !ok {
		return nil, fmt.Errorf("%w: invalid session_id", domain.ErrMissingInput)
	}
	data, err := s.blobs.Get(ctx, blob.ResultKey(s.cfg.ResultsPrefix, sessionID))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	var doc BatchDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode document: %v", domain.ErrStorageFailure, err)
	}
	return &doc, nil
}

func (s *Service) window(w int) int {
	if w > 0 {
		return w
	}
	return s.cfg.Window
}

// splitContext separates the free-form context from the part after the
// "Context details:" marker.
func splitContext(text string) (details, contextText string) {
	before, after, found := strings.Cut(text, contextMarker)
	if !found {
		return "", strings.TrimSpace(text)
	}
	return strings.TrimSpace(after), strings.TrimSpace(before)
}

func surveyText(surveys []Survey) string {
	parts := make([]string, 0, len(surveys))
	for _, sv := range surveys {
		if len(sv.Questions) > 0 && string(sv.Questions) != "null" {
			parts = append(parts, string(sv.Questions))
		}
	}
	if len(parts) == 0 {
		return "No survey data provided."
	}
	return strings.Join(parts, "\n")
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		if it != "" && !slices.Contains(dst, it) {
			dst = append(dst, it)
		}
	}
	return dst
}
