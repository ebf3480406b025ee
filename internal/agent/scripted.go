package agent

import (
	"context"
	"fmt"
	"sync"
)

// Scripted is a test backend that replays canned results in order.
type Scripted struct {
	mu      sync.Mutex
	results []Result
	errs    []error
	calls   []Request
}

// NewScripted creates a Scripted backend.
func NewScripted() *Scripted {
	return &Scripted{}
}

// Respond queues one invocation's result.
func (s *Scripted) Respond(res Result, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	s.errs = append(s.errs, err)
	return s
}

// Calls returns the requests seen so far.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) Execute(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.calls)
	s.calls = append(s.calls, req)
	if idx >= len(s.results) {
		return Result{}, fmt.Errorf("scripted backend: unexpected call %d", idx+1)
	}
	return s.results[idx], s.errs[idx]
}
