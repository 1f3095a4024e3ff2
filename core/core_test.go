package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdentityKey(t *testing.T) {
	assert.Equal(t, "guest:v-1", GuestIdentity("v-1").Key())
	assert.Equal(t, "customer:C42", AuthenticatedIdentity("C42").Key())
	assert.True(t, GuestIdentity("v-1").IsGuest())
	assert.False(t, AuthenticatedIdentity("C42").IsGuest())
}

func TestSessionTurnsAndClone(t *testing.T) {
	sess := NewSession("s-1", GuestIdentity("v-1"))
	assert.Equal(t, SessionActive, sess.Status)

	seq := sess.NextSeq()
	assert.Equal(t, 1, seq)
	sess.AddTurn(TurnRecord{Seq: seq, Role: TurnRoleUser, Text: "hello", Timestamp: time.Now()})
	sess.Context.LastQuery = "hello"

	clone := sess.Clone()
	clone.AddTurn(TurnRecord{Seq: 2, Role: TurnRoleBot, Text: "hi"})
	clone.Context.LastQuery = "changed"

	assert.Len(t, sess.AllTurns(), 1)
	assert.Equal(t, "hello", sess.Context.LastQuery)
	assert.Len(t, clone.AllTurns(), 2)
}

func TestSessionRecentTurns(t *testing.T) {
	sess := NewSession("s-1", GuestIdentity("v-1"))
	for i := 1; i <= 5; i++ {
		sess.AddTurn(TurnRecord{Seq: i, Role: TurnRoleUser, Text: "t"})
	}

	recent := sess.RecentTurns(2)
	assert.Len(t, recent, 2)
	assert.Equal(t, 4, recent[0].Seq)
	assert.Equal(t, 5, recent[1].Seq)

	assert.Len(t, sess.RecentTurns(0), 5)
	assert.Len(t, sess.RecentTurns(100), 5)
}

func TestSessionExpiry(t *testing.T) {
	sess := NewSession("s-1", GuestIdentity("v-1"))
	now := time.Now().UTC()

	assert.False(t, sess.Expired(0, now.Add(time.Hour)), "zero ttl disables expiry")
	assert.False(t, sess.Expired(time.Hour, now.Add(time.Minute)))
	assert.True(t, sess.Expired(time.Minute, now.Add(time.Hour)))
}

func TestTurnContextClone(t *testing.T) {
	tc := NewTurnContext()
	tc.PendingAction = &PendingAction{
		Action:     "add_to_cart",
		Parameters: map[string]Value{"size": StringValue("M")},
	}
	tc.ConsecutiveFallbacks = 2

	clone := tc.Clone()
	clone.PendingAction.Parameters["color"] = StringValue("black")
	clone.ConsecutiveFallbacks = 0

	assert.Len(t, tc.PendingAction.Parameters, 1)
	assert.Equal(t, 2, tc.ConsecutiveFallbacks)
}

func TestTurnContextResetFallbackStreakKeepsBudget(t *testing.T) {
	tc := &TurnContext{ConsecutiveFallbacks: 3, FallbackBudgetUsed: 4, FallbackEscalated: true}
	tc.ResetFallbackStreak()

	assert.Equal(t, 0, tc.ConsecutiveFallbacks)
	assert.False(t, tc.FallbackEscalated)
	assert.Equal(t, 4, tc.FallbackBudgetUsed, "lifetime budget never resets")
}

func TestFallbackLimiter(t *testing.T) {
	fl := NewFallbackLimiter(2, 0)
	assert.False(t, fl.Exhausted())
	assert.NoError(t, fl.Increment())
	assert.NoError(t, fl.Increment())
	assert.True(t, fl.Exhausted())
	assert.Error(t, fl.Increment())
	assert.Equal(t, 3, fl.Used())

	hydrated := NewFallbackLimiter(5, 5)
	assert.True(t, hydrated.Exhausted())

	unlimited := NewFallbackLimiter(0, 10)
	assert.False(t, unlimited.Exhausted())
	assert.Equal(t, -1, unlimited.Remaining())
}

func TestValueCoercionAndRendering(t *testing.T) {
	assert.Equal(t, "M", StringValue("M").String())
	assert.Equal(t, "2", NumberValue(2).String())
	assert.Equal(t, 2.5, NumberValue(2.5).Any())

	params := map[string]Value{"size": StringValue("M"), "qty": NumberValue(2)}
	plain := ParamsAny(params)
	assert.Equal(t, "M", plain["size"])
	assert.Equal(t, float64(2), plain["qty"])
}

func TestResponsePlanText(t *testing.T) {
	plan := NewResponsePlan("s-1")
	plan.Append(
		TextUnit{Text: "Added to cart."},
		DataUnit{Name: "cart", Data: map[string]any{"items": 1}},
		PromptUnit{Parameter: "size", Prompt: "What size?"},
		TicketUnit{TicketRef: "T-1", Text: "A colleague will follow up."},
	)

	assert.Len(t, plan.Units, 4)
	assert.Equal(t, "Added to cart. What size? A colleague will follow up.", plan.Text())
}

func TestOutcomeConstructors(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Success(nil).Kind)
	assert.Equal(t, OutcomeEmpty, EmptyResult().Kind)
	assert.Equal(t, "timeout", RecoverableFailure("timeout").Reason)

	out := UnrecoverableFailure("already shipped", 409)
	assert.Equal(t, OutcomeUnrecoverable, out.Kind)
	assert.Equal(t, 409, out.Code)
	assert.Equal(t, "unrecoverable", out.Kind.String())
}
