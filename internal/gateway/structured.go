package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/tmc/langchaingo/outputparser"
)

// Field is one required key of a structured response.
type Field struct {
	Name        string
	Description string
}

// Schema names the exact key set a structured response must carry.
type Schema struct {
	Fields []Field
}

// NewSchema builds a schema from its fields.
func NewSchema(fields ...Field) Schema {
	return Schema{Fields: fields}
}

// Keys returns the required key names in declaration order.
func (s Schema) Keys() []string {
	keys := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		keys[i] = f.Name
	}
	return keys
}

// FormatInstructions tells the model how to shape its answer.
func (s Schema) FormatInstructions() string {
	schemas := make([]outputparser.ResponseSchema, len(s.Fields))
	for i, f := range s.Fields {
		schemas[i] = outputparser.ResponseSchema{Name: f.Name, Description: f.Description}
	}
	return outputparser.NewStructured(schemas).GetFormatInstructions() +
		"\nRespond with the JSON object only. Use exactly these keys: " + strings.Join(s.Keys(), ", ") + "."
}

// Parse decodes raw model text into a map and checks that every key is
// present. Fenced code blocks and surrounding prose are tolerated.
func (s Schema) Parse(raw string) (map[string]any, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", domain.ErrMalformedModelOutput)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedModelOutput, err)
	}

	var missing []string
	for _, k := range s.Keys() {
		if _, ok := out[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing keys %s", domain.ErrMalformedModelOutput, strings.Join(missing, ", "))
	}
	return out, nil
}

func extractJSON(raw string) string {
	text := strings.TrimSpace(raw)
	for _, fence := range []string{"```json", "```"} {
		if i := strings.Index(text, fence); i >= 0 {
			rest := text[i+len(fence):]
			if j := strings.Index(rest, "```"); j >= 0 {
				text = strings.TrimSpace(rest[:j])
				break
			}
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}

// InvokeStructured asks the model for a JSON object matching schema and
// returns the decoded fields along with the raw text. There is no repair
// or retry on malformed output.
func InvokeStructured(ctx context.Context, gw Gateway, req Request, schema Schema) (map[string]any, string, error) {
	req = withInstructions(req, schema.FormatInstructions())

	raw, err := gw.Invoke(ctx, req)
	if err != nil {
		return nil, "", err
	}
	fields, err := schema.Parse(raw)
	if err != nil {
		return nil, raw, err
	}
	return fields, raw, nil
}

// withInstructions appends instructions to the final message without
// mutating the caller's slice.
func withInstructions(req Request, instructions string) Request {
	msgs := make([]domain.Turn, len(req.Messages))
	copy(msgs, req.Messages)
	if n := len(msgs); n > 0 && msgs[n-1].Role == domain.RoleHuman {
		msgs[n-1].Content += "\n\n" + instructions
	} else {
		msgs = append(msgs, domain.HumanTurn(instructions))
	}
	req.Messages = msgs
	return req
}

// String returns a field as text, joining lists with newlines.
func String(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, "\n")
	default:
		return fmt.Sprint(v)
	}
}

// Strings returns a field as a list of strings. A single string becomes a
// one element list.
func Strings(fields map[string]any, key string) []string {
	switch v := fields[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, p := range v {
			if s := strings.TrimSpace(fmt.Sprint(p)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
	}
	return []string{}
}
