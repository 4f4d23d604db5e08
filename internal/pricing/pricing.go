// Package pricing computes per-call cost from a per-word price table.
package pricing

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/shopspring/decimal"
)

// Price is the per-word rate for one model.
type Price struct {
	PromptPrice     float64 `json:"promptPrice"`
	CompletionPrice float64 `json:"completionPrice"`
}

// Table maps a model identifier to its price.
type Table map[string]Price

// Usage is the word accounting of one model call.
type Usage struct {
	PromptWords     int
	CompletionWords int
}

// WordCount counts whitespace-delimited words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Parse decodes a price table. Both the flat form and the form nested under
// a "chat" key are accepted.
func Parse(data []byte) (Table, error) {
	var wrapped struct {
		Chat Table `json:"chat"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Chat) > 0 {
		return wrapped.Chat, nil
	}

	var flat Table
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("decode pricing table: %w", err)
	}
	return flat, nil
}

// Cost returns the cost of usage for model.
func (t Table) Cost(model string, u Usage) (float64, error) {
	p, ok := t[model]
	if !ok {
		return 0, fmt.Errorf("%w: no price for model %q", domain.ErrPricingUnavailable, model)
	}
	prompt := decimal.NewFromFloat(p.PromptPrice).Mul(decimal.NewFromInt(int64(u.PromptWords)))
	completion := decimal.NewFromFloat(p.CompletionPrice).Mul(decimal.NewFromInt(int64(u.CompletionWords)))
	cost, _ := prompt.Add(completion).Float64()
	return cost, nil
}

// FileSource reads the price table from disk on every lookup so edits take
// effect without a restart.
type FileSource struct {
	Path string
}

// NewFileSource returns a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Cost loads the table and prices usage for model.
func (f *FileSource) Cost(model string, u Usage) (float64, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", domain.ErrPricingUnavailable, f.Path, err)
	}
	table, err := Parse(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrPricingUnavailable, err)
	}
	return table.Cost(model, u)
}
