// Package prompt renders named templates and assembles model conversations.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/ashureev/feedback-ai/internal/gateway"
	"github.com/tmc/langchaingo/prompts"
)

// Template is a text with {name} placeholders. Literal braces are written
// doubled.
type Template struct {
	Name string
	Text string
}

// Variables lists the placeholders referenced by the template, sorted.
func (t Template) Variables() []string {
	seen := make(map[string]struct{})
	text := t.Text
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			if i+1 < len(text) && text[i+1] == '{' {
				i++
				continue
			}
			end := strings.IndexByte(text[i:], '}')
			if end < 0 {
				continue
			}
			if name := strings.TrimSpace(text[i+1 : i+end]); name != "" {
				seen[name] = struct{}{}
			}
			i += end
		case '}':
			if i+1 < len(text) && text[i+1] == '}' {
				i++
			}
		}
	}
	vars := make([]string, 0, len(seen))
	for name := range seen {
		vars = append(vars, name)
	}
	sort.Strings(vars)
	return vars
}

// Build renders t with vars. Every placeholder must have a value.
func Build(t Template, vars map[string]string) (string, error) {
	names := t.Variables()
	values := make(map[string]any, len(names))
	var missing []string
	for _, name := range names {
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		values[name] = v
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: template %q needs %s", domain.ErrMissingVariable, t.Name, strings.Join(missing, ", "))
	}

	pt := prompts.PromptTemplate{
		Template:       t.Text,
		InputVariables: names,
		TemplateFormat: prompts.TemplateFormatFString,
	}
	out, err := pt.Format(values)
	if err != nil {
		return "", fmt.Errorf("render template %q: %w", t.Name, err)
	}
	return out, nil
}

// Conversation orders a model request as system instruction, retained
// history oldest first, then the new human input.
func Conversation(system string, history []domain.Turn, input string) gateway.Request {
	msgs := make([]domain.Turn, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, domain.HumanTurn(input))
	return gateway.Request{System: system, Messages: msgs}
}

// BuildBatch renders one prompt per item. Items share no state.
func BuildBatch(t Template, items []map[string]string) ([]string, error) {
	out := make([]string, len(items))
	for i, vars := range items {
		p, err := Build(t, vars)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}
