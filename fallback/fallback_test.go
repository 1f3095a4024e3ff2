package fallback

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dialogmesh/answer"
	"github.com/hupe1980/dialogmesh/core"
)

// MockAnswerer is a lightweight in-memory Answerer useful for tests.
type MockAnswerer struct {
	responses map[string]string
	calls     int
	err       error
	delay     time.Duration
}

func NewMockAnswerer() *MockAnswerer {
	return &MockAnswerer{responses: make(map[string]string)}
}

func (m *MockAnswerer) AddResponse(query, response string) {
	m.responses[query] = response
}

func (m *MockAnswerer) Answer(ctx context.Context, query string, recent []core.TurnRecord) (string, error) {
	m.calls++
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.delay):
		}
	}
	if m.err != nil {
		return "", m.err
	}
	if resp, ok := m.responses[query]; ok {
		return resp, nil
	}
	return fmt.Sprintf("Mock answer to: %s", query), nil
}

func (m *MockAnswerer) Info() answer.Info {
	return answer.Info{Name: "mock", Provider: "mock"}
}

var _ answer.Answerer = (*MockAnswerer)(nil)

func TestHandleAnswers(t *testing.T) {
	mock := NewMockAnswerer()
	mock.AddResponse("what is your return policy?", "You can return items within 30 days.")
	r := New(mock)
	tc := core.NewTurnContext()

	reply := r.Handle(context.Background(), "what is your return policy?", tc, nil)
	assert.True(t, reply.Answered)
	assert.Equal(t, "You can return items within 30 days.", reply.Text)
	assert.Equal(t, 1, tc.FallbackBudgetUsed)
	assert.False(t, reply.EscalateHint)
}

// After exactly Budget fallback-eligible turns, the next one must never
// invoke the answering capability.
func TestHandleBudgetExhaustion(t *testing.T) {
	mock := NewMockAnswerer()
	r := New(mock, func(o *Options) { o.Budget = 3 })
	tc := core.NewTurnContext()

	for i := 0; i < 3; i++ {
		reply := r.Handle(context.Background(), "??", tc, nil)
		assert.True(t, reply.Answered)
	}
	require.Equal(t, 3, mock.calls)
	require.Equal(t, 3, tc.FallbackBudgetUsed)

	reply := r.Handle(context.Background(), "??", tc, nil)
	assert.Equal(t, 3, mock.calls, "capability is skipped once the budget is gone")
	assert.False(t, reply.Answered)
	assert.Equal(t, DefaultMenuReply, reply.Text)
	assert.True(t, reply.EscalateHint, "exhaustion registers a human-request-equivalent signal")
}

func TestHandleBudgetSurvivesHydration(t *testing.T) {
	mock := NewMockAnswerer()
	r := New(mock, func(o *Options) { o.Budget = 2 })

	// Simulates a budget persisted across process restarts.
	tc := &core.TurnContext{FallbackBudgetUsed: 2}
	reply := r.Handle(context.Background(), "??", tc, nil)
	assert.Equal(t, 0, mock.calls)
	assert.True(t, reply.EscalateHint)
}

func TestHandleAnswererError(t *testing.T) {
	mock := NewMockAnswerer()
	mock.err = fmt.Errorf("capability unavailable")
	r := New(mock)
	tc := core.NewTurnContext()

	reply := r.Handle(context.Background(), "??", tc, nil)
	assert.False(t, reply.Answered)
	assert.Equal(t, DefaultApologyReply, reply.Text)
	assert.Equal(t, 1, tc.FallbackBudgetUsed, "failed calls still consume budget")
}

func TestHandleTimeout(t *testing.T) {
	mock := NewMockAnswerer()
	mock.delay = 100 * time.Millisecond
	r := New(mock, func(o *Options) { o.Timeout = 5 * time.Millisecond })
	tc := core.NewTurnContext()

	reply := r.Handle(context.Background(), "??", tc, nil)
	assert.False(t, reply.Answered)
	assert.Equal(t, DefaultApologyReply, reply.Text, "timeouts never propagate to the user")
}

func TestHandleNilAnswerer(t *testing.T) {
	r := New(nil)
	tc := core.NewTurnContext()

	reply := r.Handle(context.Background(), "??", tc, nil)
	assert.Equal(t, DefaultApologyReply, reply.Text)
	assert.Equal(t, 0, tc.FallbackBudgetUsed, "no capability, no budget charge")
}

func TestHandlePassesRecentTurns(t *testing.T) {
	var seen []core.TurnRecord
	r := New(answererFunc(func(ctx context.Context, q string, recent []core.TurnRecord) (string, error) {
		seen = recent
		return "ok", nil
	}))
	tc := core.NewTurnContext()
	recent := []core.TurnRecord{{Seq: 1, Role: core.TurnRoleUser, Text: "hi"}}

	r.Handle(context.Background(), "??", tc, recent)
	assert.Equal(t, recent, seen)
}

type answererFunc func(ctx context.Context, query string, recent []core.TurnRecord) (string, error)

func (f answererFunc) Answer(ctx context.Context, query string, recent []core.TurnRecord) (string, error) {
	return f(ctx, query, recent)
}

func (f answererFunc) Info() answer.Info { return answer.Info{Name: "func", Provider: "test"} }
