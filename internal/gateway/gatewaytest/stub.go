// Package gatewaytest provides a deterministic in-memory gateway for tests.
package gatewaytest

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/ashureev/feedback-ai/internal/gateway"
)

// Stub replies with canned text. When Reply is set it is called for every
// request; otherwise Responses are served in order and the last one repeats.
type Stub struct {
	Reply     func(req gateway.Request) (string, error)
	Responses []string
	Err       error

	// ChunkSize splits streamed text into fragments of this many bytes.
	// Zero streams word by word.
	ChunkSize int

	mu       sync.Mutex
	requests []gateway.Request
	calls    int
}

var _ gateway.Gateway = (*Stub)(nil)

func (s *Stub) next(req gateway.Request) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	i := s.calls
	s.calls++
	s.mu.Unlock()

	if s.Err != nil {
		return "", s.Err
	}
	if s.Reply != nil {
		return s.Reply(req)
	}
	if len(s.Responses) == 0 {
		return "", nil
	}
	if i >= len(s.Responses) {
		i = len(s.Responses) - 1
	}
	return s.Responses[i], nil
}

// Invoke returns the next canned response.
func (s *Stub) Invoke(ctx context.Context, req gateway.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.next(req)
}

// Stream yields the next canned response in fragments.
func (s *Stub) Stream(ctx context.Context, req gateway.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		text, err := s.next(req)
		if err != nil {
			yield("", err)
			return
		}
		for _, chunk := range s.split(text) {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func (s *Stub) split(text string) []string {
	if s.ChunkSize > 0 {
		var out []string
		for len(text) > s.ChunkSize {
			out = append(out, text[:s.ChunkSize])
			text = text[s.ChunkSize:]
		}
		if text != "" {
			out = append(out, text)
		}
		return out
	}
	var out []string
	for text != "" {
		i := strings.IndexByte(text, ' ')
		if i < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:i+1])
		text = text[i+1:]
	}
	return out
}

// Requests returns every request received so far.
func (s *Stub) Requests() []gateway.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls returns the number of invocations.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
