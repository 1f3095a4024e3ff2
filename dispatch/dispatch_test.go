package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dialogmesh/core"
)

// MockResourceClient is an in-memory collaborator with scripted results per
// attempt, recording every call for assertions.
type MockResourceClient struct {
	results     []core.ResourceResult
	errs        []error
	calls       []recordedCall
	idempotency bool
}

type recordedCall struct {
	action  string
	idemKey string
}

func NewMockResourceClient() *MockResourceClient {
	return &MockResourceClient{idempotency: true}
}

func (m *MockResourceClient) Script(res core.ResourceResult, err error) *MockResourceClient {
	m.results = append(m.results, res)
	m.errs = append(m.errs, err)
	return m
}

func (m *MockResourceClient) Call(ctx context.Context, action string, params map[string]core.Value, idemKey string) (core.ResourceResult, error) {
	m.calls = append(m.calls, recordedCall{action: action, idemKey: idemKey})
	i := len(m.calls) - 1
	if i >= len(m.results) {
		return core.ResourceResult{Status: core.ResourceOK}, nil
	}
	return m.results[i], m.errs[i]
}

func (m *MockResourceClient) SupportsIdempotency() bool { return m.idempotency }

var _ core.ResourceClient = (*MockResourceClient)(nil)

func noSleep() func(o *Options) {
	return WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() })
}

func req(name string, mutating bool) core.ActionRequest {
	return core.ActionRequest{
		ActionName:     name,
		Parameters:     map[string]core.Value{"order_id": core.StringValue("o-1")},
		IdempotencyKey: "s-1:3",
		Mutating:       mutating,
	}
}

func TestDispatchSuccess(t *testing.T) {
	client := NewMockResourceClient().
		Script(core.ResourceResult{Status: core.ResourceOK, Payload: map[string]any{"order_id": "o-1"}}, nil)
	d := New(client, noSleep())

	out := d.Dispatch(context.Background(), req("get_order", false))
	assert.Equal(t, core.OutcomeSuccess, out.Kind)
	assert.Equal(t, "o-1", out.Payload["order_id"])
	assert.Len(t, client.calls, 1)
}

func TestDispatchEmptyResult(t *testing.T) {
	client := NewMockResourceClient().
		Script(core.ResourceResult{Status: core.ResourceEmpty}, nil)
	d := New(client, noSleep())

	out := d.Dispatch(context.Background(), req("search_products", false))
	assert.Equal(t, core.OutcomeEmpty, out.Kind)
}

func TestDispatchRetriesServerErrors(t *testing.T) {
	client := NewMockResourceClient().
		Script(core.ResourceResult{Status: core.ResourceServerError, Code: 503, Message: "overloaded"}, nil).
		Script(core.ResourceResult{Status: core.ResourceServerError, Code: 503, Message: "overloaded"}, nil).
		Script(core.ResourceResult{Status: core.ResourceOK, Payload: map[string]any{}}, nil)
	d := New(client, noSleep())

	out := d.Dispatch(context.Background(), req("add_to_cart", true))
	assert.Equal(t, core.OutcomeSuccess, out.Kind)
	assert.Len(t, client.calls, 3, "two retries after the initial attempt")
}

func TestDispatchRetryBudgetExhausted(t *testing.T) {
	client := NewMockResourceClient()
	for i := 0; i < 5; i++ {
		client.Script(core.ResourceResult{}, fmt.Errorf("connection refused"))
	}
	d := New(client, noSleep())

	out := d.Dispatch(context.Background(), req("add_to_cart", true))
	assert.Equal(t, core.OutcomeUnrecoverable, out.Kind)
	assert.True(t, out.Exhausted, "exhausted transient failures feed escalation")
	assert.Len(t, client.calls, 3, "initial attempt plus two retries, no more")
}

func TestDispatchClientErrorNotRetried(t *testing.T) {
	client := NewMockResourceClient().
		Script(core.ResourceResult{Status: core.ResourceClientError, Code: 409, Message: "already shipped"}, nil)
	d := New(client, noSleep())

	out := d.Dispatch(context.Background(), req("cancel_order", true))
	assert.Equal(t, core.OutcomeUnrecoverable, out.Kind)
	assert.Equal(t, 409, out.Code)
	assert.Equal(t, "already shipped", out.Reason)
	assert.False(t, out.Exhausted, "permanent rejections do not feed escalation")
	assert.Len(t, client.calls, 1)
}

func TestDispatchIdempotencyKeyStableAcrossRetries(t *testing.T) {
	client := NewMockResourceClient().
		Script(core.ResourceResult{Status: core.ResourceServerError, Code: 500}, nil).
		Script(core.ResourceResult{Status: core.ResourceOK}, nil)
	d := New(client, noSleep())

	d.Dispatch(context.Background(), req("add_to_cart", true))
	require.Len(t, client.calls, 2)
	assert.Equal(t, client.calls[0].idemKey, client.calls[1].idemKey)
	assert.Equal(t, "s-1:3", client.calls[0].idemKey)
}

func TestDispatchFailsClosedWithoutIdempotency(t *testing.T) {
	client := NewMockResourceClient()
	client.idempotency = false
	d := New(client, noSleep())

	out := d.Dispatch(context.Background(), req("add_to_cart", true))
	assert.Equal(t, core.OutcomeUnrecoverable, out.Kind)
	assert.Empty(t, client.calls, "mutating action never reaches a non-deduplicating collaborator")

	// Read-only actions are still dispatched.
	out = d.Dispatch(context.Background(), req("get_order", false))
	assert.Equal(t, core.OutcomeSuccess, out.Kind)
	assert.Len(t, client.calls, 1)
}

func TestDispatchTimeoutIsRecoverable(t *testing.T) {
	slow := &slowClient{delay: 50 * time.Millisecond}
	d := New(slow, noSleep(), func(o *Options) { o.Timeout = 5 * time.Millisecond })

	out := d.Dispatch(context.Background(), req("get_order", false))
	assert.Equal(t, core.OutcomeUnrecoverable, out.Kind)
	assert.True(t, out.Exhausted)
	assert.Contains(t, out.Reason, "timeout")
	assert.Equal(t, 3, slow.calls, "timeouts are retried as transient failures")
}

type slowClient struct {
	delay time.Duration
	calls int
}

func (s *slowClient) Call(ctx context.Context, action string, params map[string]core.Value, idemKey string) (core.ResourceResult, error) {
	s.calls++
	select {
	case <-ctx.Done():
		return core.ResourceResult{}, ctx.Err()
	case <-time.After(s.delay):
		return core.ResourceResult{Status: core.ResourceOK}, nil
	}
}

func (s *slowClient) SupportsIdempotency() bool { return true }
