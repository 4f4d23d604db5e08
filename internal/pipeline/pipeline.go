// Package pipeline runs one history-aware model call from input to logged
// response.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/ashureev/feedback-ai/internal/gateway"
	"github.com/ashureev/feedback-ai/internal/pricing"
	"github.com/ashureev/feedback-ai/internal/prompt"
	"github.com/ashureev/feedback-ai/internal/session"
)

// State is a stage of one pipeline run.
type State string

const (
	StatePending      State = "PENDING"
	StateCallingModel State = "CALLING_MODEL"
	StateStreaming    State = "STREAMING"
	StateComplete     State = "COMPLETE"
	StateLogged       State = "LOGGED"
	StateFailed       State = "FAILED"
)

const logWriteTimeout = 5 * time.Second

// ChatLogWriter appends completed calls to the chat log.
type ChatLogWriter interface {
	AppendChatLog(ctx context.Context, rec *domain.ChatLogRecord) error
}

// Coster prices a call's word usage for a model.
type Coster interface {
	Cost(model string, u pricing.Usage) (float64, error)
}

// Observer is told about every state transition.
type Observer func(sessionKey string, state State)

// Options tune a Pipeline.
type Options struct {
	ModelID  string
	Logger   *slog.Logger
	Observer Observer
	Now      func() time.Time
}

// Pipeline composes the session store, model gateway, pricing and chat log.
type Pipeline struct {
	gw       gateway.Gateway
	sessions *session.Store
	logs     ChatLogWriter
	pricing  Coster
	modelID  string
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// New creates a Pipeline.
func New(gw gateway.Gateway, sessions *session.Store, logs ChatLogWriter, costs Coster, opts Options) *Pipeline {
	p := &Pipeline{
		gw:       gw,
		sessions: sessions,
		logs:     logs,
		pricing:  costs,
		modelID:  opts.ModelID,
		logger:   opts.Logger,
		observer: opts.Observer,
		now:      opts.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Sessions returns the session store the pipeline reads and updates.
func (p *Pipeline) Sessions() *session.Store {
	return p.sessions
}

// Request describes one run.
//
// OnChunk selects streaming; each fragment is delivered in arrival order.
// A Schema forces a buffered structured call. History makes the run read
// the session's retained turns and, on success, append the new exchange
// truncated to Window.
type Request struct {
	SessionKey   string
	Feedback     *string
	Modification *string
	System       string
	Input        string
	History      bool
	Window       int
	Schema       *gateway.Schema
	OnChunk      func(chunk string) error
}

// Result is the outcome of a run.
type Result struct {
	SessionKey string
	State      State
	Response   string
	Fields     map[string]any
	Record     *domain.ChatLogRecord
	Warning    string
}

// Run executes req. On any model failure or cancellation nothing is logged
// and the session is left untouched; the error is returned as-is alongside
// a FAILED result. A chat log write failure is reported in Result.Warning
// and does not fail the run.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, fmt.Errorf("%w: input is empty", domain.ErrMissingInput)
	}

	key := req.SessionKey
	if key == "" {
		key = session.NewKey()
	}
	res := &Result{SessionKey: key}
	p.transition(res, StatePending)

	var history []domain.Turn
	if req.History {
		lease, err := p.sessions.Acquire(ctx, key)
		if err != nil {
			p.transition(res, StateFailed)
			return res, err
		}
		defer lease.Release()
		history = lease.Turns()

		defer func() {
			if res.State == StateComplete || res.State == StateLogged {
				lease.Append(req.Window, domain.HumanTurn(req.Input), domain.AssistantTurn(res.Response))
			}
		}()
	}

	convo := prompt.Conversation(req.System, history, req.Input)

	p.transition(res, StateCallingModel)
	start := p.now()

	var (
		text   string
		words  int
		fields map[string]any
		err    error
	)
	switch {
	case req.Schema != nil:
		fields, text, err = gateway.InvokeStructured(ctx, p.gw, convo, *req.Schema)
		words = pricing.WordCount(text)
	case req.OnChunk != nil:
		text, words, err = p.stream(ctx, res, convo, req.OnChunk)
	default:
		text, err = p.gw.Invoke(ctx, convo)
		words = pricing.WordCount(text)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		p.transition(res, StateFailed)
		p.logger.Warn("Pipeline run failed",
			"session_key", key,
			"error", err,
			"partial_len", len(text),
		)
		return res, err
	}

	latency := p.now().Sub(start).Seconds()
	res.Response = text
	res.Fields = fields
	p.transition(res, StateComplete)

	// Only the caller's input is priced as prompt; system text and
	// history are not counted.
	usage := pricing.Usage{
		PromptWords:     pricing.WordCount(req.Input),
		CompletionWords: pricing.WordCount(text),
	}
	rec := &domain.ChatLogRecord{
		SessionKey:         key,
		UserFeedback:       req.Feedback,
		ModificationNeeded: req.Modification,
		History:            domain.HistorySnapshot(history),
		ModelResponse:      text,
		Timestamp:          start.UTC(),
		Latency:            latency,
		TokensUsed:         words,
		Cost:               p.cost(key, usage),
	}
	res.Record = rec

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()
	if err := p.logs.AppendChatLog(writeCtx, rec); err != nil {
		storageErr := fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
		res.Warning = storageErr.Error()
		p.logger.Error("Failed to write chat log", "session_key", key, "error", err)
		return res, nil
	}
	p.transition(res, StateLogged)

	p.logger.Info("Pipeline run complete",
		"session_key", key,
		"latency", latency,
		"tokens_used", rec.TokensUsed,
		"history_turns", len(history),
	)
	return res, nil
}

// stream forwards chunks and keeps a running word count over them as the
// usage estimate.
func (p *Pipeline) stream(ctx context.Context, res *Result, convo gateway.Request, onChunk func(string) error) (string, int, error) {
	var b strings.Builder
	words := 0
	streaming := false
	for chunk, err := range p.gw.Stream(ctx, convo) {
		if err != nil {
			return b.String(), words, err
		}
		if !streaming {
			p.transition(res, StateStreaming)
			streaming = true
		}
		b.WriteString(chunk)
		words += pricing.WordCount(chunk)
		if err := onChunk(chunk); err != nil {
			return b.String(), words, fmt.Errorf("deliver chunk: %w", err)
		}
	}
	return b.String(), words, nil
}

func (p *Pipeline) cost(key string, usage pricing.Usage) *float64 {
	if p.pricing == nil {
		return nil
	}
	c, err := p.pricing.Cost(p.modelID, usage)
	if err != nil {
		level := slog.LevelWarn
		if !errors.Is(err, domain.ErrPricingUnavailable) {
			level = slog.LevelError
		}
		p.logger.Log(context.Background(), level, "Cost not recorded", "session_key", key, "model", p.modelID, "error", err)
		return nil
	}
	return &c
}

func (p *Pipeline) transition(res *Result, to State) {
	res.State = to
	if p.observer != nil {
		p.observer(res.SessionKey, to)
	}
}
