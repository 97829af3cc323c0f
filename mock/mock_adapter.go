package mock

import (
	"context"
	"net/http"
	"sync"
	"time"

	authbridge "github.com/opengovern/resilient-authbridge"
)

// Step is one scripted transport outcome. A non-nil Err is returned
// instead of a response.
type Step struct {
	Status  int
	Headers map[string]string
	Body    string
	Err     error
	Delay   time.Duration
}

// OK is a 200 step with body.
func OK(body string) Step {
	return Step{Status: http.StatusOK, Body: body}
}

// Status is a step answering with code and body.
func Status(code int, body string) Step {
	return Step{Status: code, Body: body}
}

// RateLimited is a 429 step carrying Retry-After.
func RateLimited(retryAfter string) Step {
	return Step{
		Status:  http.StatusTooManyRequests,
		Headers: map[string]string{"retry-after": retryAfter},
		Body:    `{"error":"Rate limited"}`,
	}
}

// Failure is a step where no response arrives.
func Failure(err error) Step {
	return Step{Err: err}
}

// MockAdapter replays scripted steps in order and records every request.
// Once the script runs out it answers with Fallback, or 200 {"success":true}.
type MockAdapter struct {
	mu       sync.Mutex
	steps    []Step
	requests []*authbridge.NormalizedRequest

	Fallback *Step
	// Handler, when set, answers every request instead of the script.
	Handler func(req *authbridge.NormalizedRequest) (*authbridge.NormalizedResponse, error)
}

func NewMockAdapter(steps ...Step) *MockAdapter {
	return &MockAdapter{steps: steps}
}

// Enqueue appends steps to the script.
func (m *MockAdapter) Enqueue(steps ...Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

func (m *MockAdapter) ExecuteRequest(ctx context.Context, req *authbridge.NormalizedRequest) (*authbridge.NormalizedResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	handler := m.Handler
	step := Step{Status: http.StatusOK, Body: `{"success":true}`}
	if len(m.steps) > 0 {
		step = m.steps[0]
		m.steps = m.steps[1:]
	} else if m.Fallback != nil {
		step = *m.Fallback
	}
	m.mu.Unlock()

	if handler != nil {
		return handler(req)
	}

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}

	headers := make(map[string]string, len(step.Headers))
	for k, v := range step.Headers {
		headers[k] = v
	}
	return &authbridge.NormalizedResponse{
		StatusCode: step.Status,
		Headers:    headers,
		Data:       []byte(step.Body),
	}, nil
}

// Requests returns the recorded requests in arrival order.
func (m *MockAdapter) Requests() []*authbridge.NormalizedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*authbridge.NormalizedRequest(nil), m.requests...)
}

func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Remaining returns how many scripted steps are left.
func (m *MockAdapter) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps)
}
